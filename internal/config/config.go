package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Terminal TerminalConfig
	Exec     ExecConfig
	Store    StoreConfig
	Logging  LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port string `envconfig:"PORT" default:"8090"`
}

// TerminalConfig holds interactive session configuration.
type TerminalConfig struct {
	// Mode selects the transport: "auto" probes PTY support at startup,
	// "interactive" and "fallback" force one side.
	Mode           string        `envconfig:"TERMINAL_MODE" default:"auto"`
	Shell          string        `envconfig:"TERMINAL_SHELL" default:"/bin/bash"`
	MaxSessions    int           `envconfig:"SESSION_MAX" default:"8"`
	IdleTimeout    time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"10m"`
	CloseGrace     time.Duration `envconfig:"SESSION_CLOSE_GRACE" default:"3s"`
	ScrollbackSize int           `envconfig:"SCROLLBACK_SIZE" default:"65536"`
	SendQueueDepth int           `envconfig:"SEND_QUEUE_DEPTH" default:"64"`
	RecordSessions bool          `envconfig:"RECORD_SESSIONS" default:"false"`
	RecordDir      string        `envconfig:"RECORD_DIR" default:"./recordings"`
}

// ExecConfig holds one-shot execution configuration.
type ExecConfig struct {
	DefaultTimeout time.Duration `envconfig:"EXEC_TIMEOUT" default:"30s"`
	MaxTimeout     time.Duration `envconfig:"EXEC_MAX_TIMEOUT" default:"5m"`
	MaxOutputBytes int           `envconfig:"EXEC_MAX_OUTPUT" default:"1048576"`
}

// StoreConfig holds session history database configuration.
type StoreConfig struct {
	DBPath string `envconfig:"DB_PATH" default:"./data/terminal.db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8090",
		},
		Terminal: TerminalConfig{
			Mode:           "auto",
			Shell:          "/bin/bash",
			MaxSessions:    8,
			IdleTimeout:    10 * time.Minute,
			CloseGrace:     3 * time.Second,
			ScrollbackSize: 65536,
			SendQueueDepth: 64,
			RecordSessions: false,
			RecordDir:      "./recordings",
		},
		Exec: ExecConfig{
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     5 * time.Minute,
			MaxOutputBytes: 1 << 20,
		},
		Store: StoreConfig{
			DBPath: "./data/terminal.db",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate checks cross-field constraints that envconfig tags cannot express.
func (c *Config) Validate() error {
	switch c.Terminal.Mode {
	case "auto", "interactive", "fallback":
	default:
		return fmt.Errorf("invalid TERMINAL_MODE %q: must be auto, interactive or fallback", c.Terminal.Mode)
	}
	if c.Terminal.MaxSessions < 1 {
		return fmt.Errorf("SESSION_MAX must be at least 1, got %d", c.Terminal.MaxSessions)
	}
	if c.Terminal.ScrollbackSize < 0 {
		return fmt.Errorf("SCROLLBACK_SIZE must not be negative, got %d", c.Terminal.ScrollbackSize)
	}
	if c.Terminal.SendQueueDepth < 1 {
		return fmt.Errorf("SEND_QUEUE_DEPTH must be at least 1, got %d", c.Terminal.SendQueueDepth)
	}
	if c.Exec.MaxOutputBytes < 1 {
		return fmt.Errorf("EXEC_MAX_OUTPUT must be at least 1, got %d", c.Exec.MaxOutputBytes)
	}
	return nil
}
