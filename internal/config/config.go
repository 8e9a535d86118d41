// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment variable overrides, e.g.
// WEBAGENTD_SERVER_PORT. A handful of legacy unprefixed variables are bound
// explicitly in NewConfigFromViper.
const EnvPrefix = "WEBAGENTD"

// Config holds the entire daemon configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Link   LinkConfig   `mapstructure:"link" yaml:"link"`
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// ExecuteRate limits POST /execute in requests per second; ExecuteBurst is
	// the token bucket size.
	ExecuteRate  float64 `mapstructure:"execute_rate" yaml:"execute_rate"`
	ExecuteBurst int     `mapstructure:"execute_burst" yaml:"execute_burst"`
}

// LinkConfig tunes the agent control socket.
type LinkConfig struct {
	CallTimeout          time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	MaxInFlight          int           `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	PingInterval         time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReconnectBase        time.Duration `mapstructure:"reconnect_base" yaml:"reconnect_base"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
}

// EngineConfig configures the task execution loop.
type EngineConfig struct {
	MaxSteps             int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxRetries           int           `mapstructure:"max_retries" yaml:"max_retries"`
	ActionTimeout        time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	VerificationDelay    time.Duration `mapstructure:"verification_delay" yaml:"verification_delay"`
	SettleDelay          time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	TypeSettleDelay      time.Duration `mapstructure:"type_settle_delay" yaml:"type_settle_delay"`
	DOMContentLimit      int           `mapstructure:"dom_content_limit" yaml:"dom_content_limit"`
	MaxElements          int           `mapstructure:"max_elements" yaml:"max_elements"`
	MaxConcurrentTasks   int           `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	FinalScreenshot      bool          `mapstructure:"final_screenshot" yaml:"final_screenshot"`
	ForbiddenURLPrefixes []string      `mapstructure:"forbidden_url_prefixes" yaml:"forbidden_url_prefixes"`
}

// LLMConfig defines the chat-completion backend.
type LLMConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webagentd")
	v.SetDefault("logger.log_file", "webagentd.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.execute_rate", 5.0)
	v.SetDefault("server.execute_burst", 10)

	// -- Link --
	v.SetDefault("link.call_timeout", "20s")
	v.SetDefault("link.max_in_flight", 64)
	v.SetDefault("link.ping_interval", "15s")
	v.SetDefault("link.write_timeout", "10s")
	v.SetDefault("link.reconnect_base", "1s")
	v.SetDefault("link.reconnect_max_attempts", 5)

	// -- Engine --
	v.SetDefault("engine.max_steps", 20)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.action_timeout", "20s")
	v.SetDefault("engine.verification_delay", "1s")
	v.SetDefault("engine.settle_delay", "2s")
	v.SetDefault("engine.type_settle_delay", "3s")
	v.SetDefault("engine.dom_content_limit", 3000)
	v.SetDefault("engine.max_elements", 30)
	// A browser agent drives one visible tab; running tasks concurrently would
	// have them fight over it.
	v.SetDefault("engine.max_concurrent_tasks", 1)
	v.SetDefault("engine.final_screenshot", true)
	v.SetDefault("engine.forbidden_url_prefixes", []string{})

	// -- LLM --
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.api_timeout", "30s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 400)
	v.SetDefault("llm.max_retries", 3)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object,
// applying environment overrides and validating the result.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed variables kept for drop-in compatibility with existing agent
	// deployments.
	v.BindEnv("llm.api_key", "WEBAGENTD_LLM_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("llm.model", "WEBAGENTD_LLM_MODEL", "MODEL_NAME")
	v.BindEnv("engine.max_steps", "WEBAGENTD_ENGINE_MAX_STEPS", "MAX_STEPS")
	v.BindEnv("engine.max_retries", "WEBAGENTD_ENGINE_MAX_RETRIES", "MAX_RETRIES")
	v.BindEnv("engine.action_timeout", "WEBAGENTD_ENGINE_ACTION_TIMEOUT", "ACTION_TIMEOUT_SECONDS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	// ACTION_TIMEOUT_SECONDS is a bare integer, not a duration string.
	if raw := v.GetString("engine.action_timeout"); raw != "" {
		if _, err := time.ParseDuration(raw); err != nil {
			if secs := v.GetInt("engine.action_timeout"); secs > 0 {
				cfg.Engine.ActionTimeout = time.Duration(secs) * time.Second
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be a positive integer")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}
	if c.Engine.ActionTimeout <= 0 {
		return fmt.Errorf("engine.action_timeout must be a positive duration")
	}
	if c.Engine.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("engine.max_concurrent_tasks must be a positive integer")
	}
	if c.Link.MaxInFlight <= 0 {
		return fmt.Errorf("link.max_in_flight must be a positive integer")
	}
	if c.Link.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("link.reconnect_max_attempts must be a positive integer")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is a required configuration field")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is a required configuration field")
	}
	return nil
}

// RequireAPIKey returns an error when no model API key is configured. Called
// at serve time rather than in Validate so offline commands still work.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("no model API key configured: set OPENAI_API_KEY or llm.api_key")
	}
	return nil
}
