// ABOUTME: Configuration loading and parsing for voxhire-orchestrator.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete orchestrator configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Channel  ChannelConfig  `yaml:"channel"`
	Agent    AgentConfig    `yaml:"agent"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the admin HTTP server address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds session store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChannelConfig holds command channel configuration.
type ChannelConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"-"` // how long archived entries are kept

	RetentionRaw string `yaml:"retention"`
}

// AgentConfig describes the supervised interviewer process and its timing knobs.
type AgentConfig struct {
	Command  string            `yaml:"command"`
	Args     []string          `yaml:"args"`
	WorkDir  string            `yaml:"work_dir"`
	Env      map[string]string `yaml:"env"`       // API keys etc., passed to the agent
	MediaURL string            `yaml:"media_url"` // real-time media endpoint the agent joins
	LogPath  string            `yaml:"log_path"`

	AckTimeout        time.Duration `yaml:"-"` // assignment must be acknowledged within this
	GracePeriod       time.Duration `yaml:"-"` // SIGTERM→SIGKILL budget
	RestartBackoff    time.Duration `yaml:"-"` // base delay between restart attempts
	RestartBackoffMax time.Duration `yaml:"-"`
	MaxRestarts       int           `yaml:"max_restarts"`

	// Raw string values for YAML unmarshaling
	AckTimeoutRaw        string `yaml:"ack_timeout"`
	GracePeriodRaw       string `yaml:"grace_period"`
	RestartBackoffRaw    string `yaml:"restart_backoff"`
	RestartBackoffMaxRaw string `yaml:"restart_backoff_max"`
}

// MonitorConfig holds health monitor configuration.
type MonitorConfig struct {
	TickInterval time.Duration `yaml:"-"`

	TickIntervalRaw string `yaml:"tick_interval"`
}

// AuthConfig holds admin API authentication configuration.
// When AdminSecret is empty the HTTP surface is unauthenticated.
type AuthConfig struct {
	AdminSecret string `yaml:"admin_secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding field is absent.
const (
	DefaultHTTPAddr     = "127.0.0.1:8090"
	DefaultRetention    = 24 * time.Hour
	DefaultAckTimeout   = 30 * time.Second
	DefaultGracePeriod  = 10 * time.Second
	DefaultBackoff      = time.Second
	DefaultBackoffMax   = time.Minute
	DefaultMaxRestarts  = 3
	DefaultTickInterval = 3 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Channel.Retention == 0 {
		c.Channel.Retention = DefaultRetention
	}
	if c.Agent.AckTimeout == 0 {
		c.Agent.AckTimeout = DefaultAckTimeout
	}
	if c.Agent.GracePeriod == 0 {
		c.Agent.GracePeriod = DefaultGracePeriod
	}
	if c.Agent.RestartBackoff == 0 {
		c.Agent.RestartBackoff = DefaultBackoff
	}
	if c.Agent.RestartBackoffMax == 0 {
		c.Agent.RestartBackoffMax = DefaultBackoffMax
	}
	if c.Agent.MaxRestarts == 0 {
		c.Agent.MaxRestarts = DefaultMaxRestarts
	}
	if c.Monitor.TickInterval == 0 {
		c.Monitor.TickInterval = DefaultTickInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Channel.Path == "" {
		return fmt.Errorf("channel.path is required")
	}
	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command is required")
	}
	if c.Agent.MaxRestarts < 0 {
		return fmt.Errorf("agent.max_restarts must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Channel.RetentionRaw, &cfg.Channel.Retention, "channel.retention"},
		{cfg.Agent.AckTimeoutRaw, &cfg.Agent.AckTimeout, "agent.ack_timeout"},
		{cfg.Agent.GracePeriodRaw, &cfg.Agent.GracePeriod, "agent.grace_period"},
		{cfg.Agent.RestartBackoffRaw, &cfg.Agent.RestartBackoff, "agent.restart_backoff"},
		{cfg.Agent.RestartBackoffMaxRaw, &cfg.Agent.RestartBackoffMax, "agent.restart_backoff_max"},
		{cfg.Monitor.TickIntervalRaw, &cfg.Monitor.TickInterval, "monitor.tick_interval"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
