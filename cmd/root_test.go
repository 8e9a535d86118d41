// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulltrace0/webagentd/internal/config"
)

func TestVersionFlag(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, Version, strings.TrimSpace(buf.String()))
}

func TestInitializeConfigWithoutFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfgFile = ""

	require.NoError(t, initializeConfig())

	cfg, err := config.NewConfigFromViper(viper.GetViper())
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Engine.MaxSteps)
}

func TestInitializeConfigMissingExplicitFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfgFile = "/nonexistent/webagentd.yaml"
	t.Cleanup(func() { cfgFile = "" })

	assert.Error(t, initializeConfig())
}

func TestServeRefusesWithoutAPIKey(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.LLM.APIKey = ""
	appConfig = cfg
	t.Cleanup(func() { appConfig = nil })

	err := runServe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}
