// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Reasoner  ReasonerConfig  `mapstructure:"reasoner" yaml:"reasoner"`
	TaskStore TaskStoreConfig `mapstructure:"task_store" yaml:"task_store"`
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

// ServerConfig tunes the HTTP/WebSocket front end.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size" yaml:"write_buffer_size"`
	WriteWait       time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	MaxMessageSize  int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AgentConfig holds the step-loop policy knobs. The defaults are the one
// canonical constant set for the loop.
type AgentConfig struct {
	MaxSteps               int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	StagnationLimit        int           `mapstructure:"stagnation_limit" yaml:"stagnation_limit"`
	FailureMemorySize      int           `mapstructure:"failure_memory_size" yaml:"failure_memory_size"`
	ClientResponseTimeout  time.Duration `mapstructure:"client_response_timeout" yaml:"client_response_timeout"`
	WaitMin                time.Duration `mapstructure:"wait_min" yaml:"wait_min"`
	WaitMax                time.Duration `mapstructure:"wait_max" yaml:"wait_max"`
	WaitDefault            time.Duration `mapstructure:"wait_default" yaml:"wait_default"`
	HomeSettleDelay        time.Duration `mapstructure:"home_settle_delay" yaml:"home_settle_delay"`
	HistoryLookback        int           `mapstructure:"history_lookback" yaml:"history_lookback"`
}

// ReasonerConfig configures the LLM-backed reasoner.
type ReasonerConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	Model          string        `mapstructure:"model" yaml:"model"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout     time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature    float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
	// RequestsPerSecond caps outbound reasoner calls across all sessions.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// TaskStoreConfig specifies the backend recording finished tasks and steps.
type TaskStoreConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"` // "postgres" or "in-memory"
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN renders the connection string pgxpool expects.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "droidpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_buffer_size", 1024)
	v.SetDefault("server.write_buffer_size", 1024)
	v.SetDefault("server.write_wait", "10s")
	v.SetDefault("server.pong_wait", "60s")
	v.SetDefault("server.max_message_size", 4<<20)
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Agent (canonical loop constants) --
	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.max_consecutive_failures", 3)
	v.SetDefault("agent.stagnation_limit", 3)
	v.SetDefault("agent.failure_memory_size", 10)
	v.SetDefault("agent.client_response_timeout", "30s")
	v.SetDefault("agent.wait_min", "1s")
	v.SetDefault("agent.wait_max", "10s")
	v.SetDefault("agent.wait_default", "3s")
	v.SetDefault("agent.home_settle_delay", "1s")
	v.SetDefault("agent.history_lookback", 10)

	// -- Reasoner --
	v.SetDefault("reasoner.provider", "gemini")
	v.SetDefault("reasoner.model", "gemini-2.5-pro")
	v.SetDefault("reasoner.api_timeout", "60s")
	v.SetDefault("reasoner.temperature", 0.2)
	v.SetDefault("reasoner.max_tokens", 4096)
	v.SetDefault("reasoner.max_elapsed_time", "2m")
	v.SetDefault("reasoner.requests_per_second", 1.0)
	v.SetDefault("reasoner.burst", 2)

	// -- Task store --
	v.SetDefault("task_store.type", "in-memory")
	v.SetDefault("task_store.postgres.host", "localhost")
	v.SetDefault("task_store.postgres.port", 5432)
	v.SetDefault("task_store.postgres.user", "postgres")
	v.SetDefault("task_store.postgres.password", "") // Should be set via env var
	v.SetDefault("task_store.postgres.dbname", "droidpilot")
	v.SetDefault("task_store.postgres.sslmode", "disable")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("reasoner.api_key", "DROIDPILOT_REASONER_API_KEY")
	v.BindEnv("task_store.postgres.password", "DROIDPILOT_PG_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be a positive integer")
	}
	if c.Agent.StagnationLimit <= 0 {
		return fmt.Errorf("agent.stagnation_limit must be a positive integer")
	}
	if c.Agent.FailureMemorySize <= 0 {
		return fmt.Errorf("agent.failure_memory_size must be a positive integer")
	}
	if c.Agent.ClientResponseTimeout <= 0 {
		return fmt.Errorf("agent.client_response_timeout must be a positive duration")
	}
	if c.Agent.WaitMin <= 0 || c.Agent.WaitMax < c.Agent.WaitMin {
		return fmt.Errorf("agent.wait_min/wait_max must describe a non-empty range")
	}
	switch c.TaskStore.Type {
	case "postgres", "in-memory":
	default:
		return fmt.Errorf("task_store.type must be \"postgres\" or \"in-memory\", got %q", c.TaskStore.Type)
	}
	return nil
}
