// File: cmd/serve.go
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nulltrace0/webagentd/internal/dispatch"
	"github.com/nulltrace0/webagentd/internal/engine"
	"github.com/nulltrace0/webagentd/internal/link"
	"github.com/nulltrace0/webagentd/internal/llm"
	"github.com/nulltrace0/webagentd/internal/observability"
	"github.com/nulltrace0/webagentd/internal/observe"
	"github.com/nulltrace0/webagentd/internal/policy"
	"github.com/nulltrace0/webagentd/internal/prompt"
	"github.com/nulltrace0/webagentd/internal/registry"
	"github.com/nulltrace0/webagentd/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon: HTTP surface, agent control socket and task engine.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg := appConfig
	logger := observability.GetLogger()
	defer observability.Sync()

	// The planner cannot run without a model key; fail before binding the port.
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	// ctx is cancelled on SIGINT/SIGTERM. Every task worker inherits it, so a
	// shutdown signal moves running tasks to cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		return err
	}

	lnk := link.New(cfg.Link, logger)
	defer lnk.Close()

	actions := dispatch.New(lnk, cfg.Engine, logger)
	observer := observe.New(actions, cfg.Engine, logger)
	prompts := prompt.NewManager(cfg.LLM)
	planner := policy.NewPlanner(client, prompts, logger)
	verifier := policy.NewVerifier(client, prompts, logger)
	reg := registry.New(cfg.Engine.MaxSteps, logger)
	eng := engine.New(cfg.Engine, actions, observer, planner, verifier, logger)

	srv := server.New(ctx, cfg.Server, lnk, reg, eng, Version, logger)

	err = srv.Run(ctx)

	// The listener is down; wait for workers to observe cancellation and
	// finalize their tasks before tearing the link down.
	eng.Wait()
	if err != nil {
		return err
	}

	logger.Info("webagentd stopped", zap.Int("tasks_tracked", len(reg.Snapshots())))
	return nil
}
