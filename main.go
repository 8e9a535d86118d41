// ./main.go
package main

import (
	"github.com/nulltrace0/webagentd/cmd"
)

// main is the entry point for the webagentd daemon.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
