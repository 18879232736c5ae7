// ABOUTME: Configuration loading and parsing for the moneypilot backend
// ABOUTME: Reads process settings from the environment and db_cfg from configuration.json

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultConfigFile is the configuration file looked up in the working directory.
const DefaultConfigFile = "configuration.json"

// DefaultPort is the WebSocket port used by every deployment.
const DefaultPort = 8765

// ErrInvalidSettings is returned when an environment setting is out of range.
var ErrInvalidSettings = errors.New("invalid settings")

// Config is the complete, immutable startup configuration.
type Config struct {
	Settings Settings
	DB       DBConfig
}

// Settings holds process settings read from the environment.
type Settings struct {
	ConfigPath     string        `env:"MONEYPILOT_CONFIG" envDefault:"configuration.json"`
	RequestTimeout time.Duration `env:"MONEYPILOT_REQUEST_TIMEOUT" envDefault:"10s"`
	ReplayWindow   time.Duration `env:"MONEYPILOT_REPLAY_WINDOW" envDefault:"5m"`
	Server         ServerConfig
	Logging        LoggingConfig
	Metrics        MetricsConfig
}

// ServerConfig holds the listening address
type ServerConfig struct {
	Host string `env:"MONEYPILOT_LISTEN_HOST"`
	Port int    `env:"WEBSOCKET_PORT" envDefault:"8765"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"MONEYPILOT_LOG_LEVEL" envDefault:"info"`
	Format string `env:"MONEYPILOT_LOG_FORMAT" envDefault:"text"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool `env:"MONEYPILOT_METRICS" envDefault:"false"`
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoadSettings parses process settings from the environment and validates them.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parsing environment: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks that all settings are within range.
// Returns an error describing the first validation failure encountered.
func (s Settings) Validate() error {
	if s.ConfigPath == "" {
		return fmt.Errorf("%w: config path is empty", ErrInvalidSettings)
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSettings, s.Server.Port)
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive, got %s", ErrInvalidSettings, s.RequestTimeout)
	}
	if s.ReplayWindow < 0 {
		return fmt.Errorf("%w: replay window must not be negative, got %s", ErrInvalidSettings, s.ReplayWindow)
	}
	switch s.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidSettings, s.Logging.Level)
	}
	switch s.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidSettings, s.Logging.Format)
	}
	return nil
}

// Load validates the settings and reads the backend configuration from
// settings.ConfigPath. The returned Config is never modified afterwards.
func Load(settings Settings) (*Config, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	db, err := LoadDB(settings.ConfigPath)
	if err != nil {
		return nil, err
	}

	return &Config{Settings: settings, DB: db}, nil
}

// LoadDB reads a configuration file and returns its validated db_cfg.
// ${VAR_NAME} references inside db_cfg string values are expanded after
// decoding, so variable contents are never parsed as JSON.
func LoadDB(path string) (DBConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DBConfig{}, fmt.Errorf("%w: reading %s: %v", ErrUnreadable, path, err)
	}

	return ParseDB(data)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
