package config

import (
	"fmt"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration. Defaults live in Default()
// rather than struct tags so a settings file can overlay them before
// the environment pass runs.
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server" json:"server"`
	Engine  EngineConfig  `yaml:"engine" toml:"engine" json:"engine"`
	Trust   TrustConfig   `yaml:"trust" toml:"trust" json:"trust"`
	Logging LogConfig     `yaml:"logging" toml:"logging" json:"logging"`
	Session SessionConfig `yaml:"session" toml:"session" json:"session"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host             string        `envconfig:"HOST" yaml:"host" toml:"host" json:"host"`
	Port             string        `envconfig:"PORT" yaml:"port" toml:"port" json:"port"`
	AllowedOrigins   []string      `envconfig:"ALLOWED_ORIGINS" yaml:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
	RateLimitRPS     int           `envconfig:"RATE_LIMIT_RPS" yaml:"rate_limit_rps" toml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst   int           `envconfig:"RATE_LIMIT_BURST" yaml:"rate_limit_burst" toml:"rate_limit_burst" json:"rate_limit_burst"`
	RateLimitEnabled bool          `envconfig:"RATE_LIMIT_ENABLED" yaml:"rate_limit_enabled" toml:"rate_limit_enabled" json:"rate_limit_enabled"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// EngineConfig holds policy-engine and transport configuration.
type EngineConfig struct {
	BufferSize          int           `envconfig:"POLICY_BUFFER_SIZE" yaml:"buffer_size" toml:"buffer_size" json:"buffer_size"`
	FetchTimeout        time.Duration `envconfig:"FETCH_TIMEOUT" yaml:"fetch_timeout" toml:"fetch_timeout" json:"fetch_timeout"`
	MaxRedirects        int           `envconfig:"FETCH_MAX_REDIRECTS" yaml:"max_redirects" toml:"max_redirects" json:"max_redirects"`
	RetryMax            int           `envconfig:"FETCH_RETRY_MAX" yaml:"retry_max" toml:"retry_max" json:"retry_max"`
	FetchRPS            int           `envconfig:"FETCH_RPS" yaml:"fetch_rps" toml:"fetch_rps" json:"fetch_rps"`
	FetchBurst          int           `envconfig:"FETCH_BURST" yaml:"fetch_burst" toml:"fetch_burst" json:"fetch_burst"`
	BreakerFailures     int           `envconfig:"BREAKER_FAILURES" yaml:"breaker_failures" toml:"breaker_failures" json:"breaker_failures"`
	BreakerReset        time.Duration `envconfig:"BREAKER_RESET" yaml:"breaker_reset" toml:"breaker_reset" json:"breaker_reset"`
	FTPTimeout          time.Duration `envconfig:"FTP_TIMEOUT" yaml:"ftp_timeout" toml:"ftp_timeout" json:"ftp_timeout"`
	UserAgent           string        `envconfig:"FETCH_USER_AGENT" yaml:"user_agent" toml:"user_agent" json:"user_agent"`
	DefaultLocalSandbox string        `envconfig:"DEFAULT_LOCAL_SANDBOX" yaml:"default_local_sandbox" toml:"default_local_sandbox" json:"default_local_sandbox"`
}

// TrustConfig holds trust-store configuration.
type TrustConfig struct {
	Dirs []string `envconfig:"TRUST_DIRS" yaml:"dirs" toml:"dirs" json:"dirs"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level" json:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development" json:"development"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	TTL           time.Duration `envconfig:"SESSION_TTL" yaml:"ttl" toml:"ttl" json:"ttl"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" yaml:"sweep_interval" toml:"sweep_interval" json:"sweep_interval"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             "8090",
			AllowedOrigins:   []string{"*"},
			RateLimitRPS:     100,
			RateLimitBurst:   200,
			RateLimitEnabled: true,
			ShutdownTimeout:  10 * time.Second,
		},
		Engine: EngineConfig{
			BufferSize:          4096,
			FetchTimeout:        30 * time.Second,
			MaxRedirects:        10,
			RetryMax:            2,
			FetchRPS:            20,
			FetchBurst:          10,
			BreakerFailures:     5,
			BreakerReset:        30 * time.Second,
			FTPTimeout:          30 * time.Second,
			UserAgent:           "policyd/1.0",
			DefaultLocalSandbox: "localWithFile",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Session: SessionConfig{
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
		},
	}
}

// Load loads configuration from defaults overridden by environment
// variables.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration in precedence order: defaults, then
// the settings file at path (when non-empty), then environment
// variables.
func LoadWithFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("policyd", cfg); err != nil {
		return nil, fmt.Errorf("config: reading environment: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns
// default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}
