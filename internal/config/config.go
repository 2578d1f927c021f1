// Package config loads, normalizes, and validates monitor configuration.
// Values come from defaults, then an optional YAML file, then CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nettrail/fwmon/internal/domain"
	"github.com/nettrail/fwmon/internal/profile"
)

// MinPollIntervalMs is the floor for the polling interval. Anything below
// it would hammer the backing file for no benefit.
const MinPollIntervalMs = 100

// Config holds the full construction-time configuration surface.
type Config struct {
	Source         string   `yaml:"source"`           // capture source identifier
	SessionName    string   `yaml:"session_name"`     // OS capture session name
	PollIntervalMs int      `yaml:"poll_interval_ms"` // delay between poll cycles
	MaxFileMB      int      `yaml:"max_file_mb"`      // backing file cap, 0 = unbounded
	BufferKB       int      `yaml:"buffer_kb"`        // trace buffer size
	BufferCount    int      `yaml:"buffer_count"`     // max buffer count
	TraceDir       string   `yaml:"trace_dir"`        // backing file directory
	Addresses      []string `yaml:"addresses"`        // interest addresses, entries may be comma-delimited
	Profile        string   `yaml:"profile"`          // capture profile name
	Providers      []string `yaml:"providers"`        // explicit provider override
	AllowToken     string   `yaml:"allow_token"`      // Allow prefix token override
	BlockToken     string   `yaml:"block_token"`      // Block prefix token override
	NoColor        bool     `yaml:"no_color"`         // disable ANSI colors
	AgentProcess   string   `yaml:"agent_process"`    // capture agent process name, "" = skip preflight
	NATSURL        string   `yaml:"nats_url"`         // record forwarding, "" = off
	NATSSubject    string   `yaml:"nats_subject"`     // forwarding subject
	ListenAddr     string   `yaml:"listen_addr"`      // status HTTP server, "" = off
	StoreKeyFile   string   `yaml:"store_key_file"`   // cipher key file, "" = plaintext store
	LogFile        string   `yaml:"log_file"`         // daemon log destination, "" = stderr
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Source:         "localhost",
		SessionName:    "fwmon",
		PollIntervalMs: 2000,
		MaxFileMB:      250,
		BufferKB:       1,
		BufferCount:    1,
		Profile:        "vfp",
		NATSSubject:    "fwmon.records",
	}
}

// Load reads a YAML config file over the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Normalize fills derived values: profile-provided providers and tokens
// where no explicit override was given, the default trace directory, and
// home directory expansion for paths. Call before Validate.
func (c *Config) Normalize(profiles *profile.Registry) error {
	prof, err := profiles.Get(c.Profile)
	if err != nil {
		return err
	}

	if len(c.Providers) == 0 {
		c.Providers = append([]string(nil), prof.Providers...)
	}
	if c.AllowToken == "" {
		c.AllowToken = prof.AllowToken
	}
	if c.BlockToken == "" {
		c.BlockToken = prof.BlockToken
	}

	if c.TraceDir == "" {
		c.TraceDir = filepath.Join(os.TempDir(), "fwmon")
	}
	c.TraceDir = expandHome(c.TraceDir)
	c.StoreKeyFile = expandHome(c.StoreKeyFile)
	c.LogFile = expandHome(c.LogFile)

	return nil
}

// Validate checks the configuration for values the monitor cannot run with.
func (c *Config) Validate() error {
	if c.SessionName == "" {
		return fmt.Errorf("session_name must not be empty")
	}
	if c.PollIntervalMs < MinPollIntervalMs {
		return fmt.Errorf("poll_interval_ms must be at least %d, got %d", MinPollIntervalMs, c.PollIntervalMs)
	}
	if c.MaxFileMB < 0 {
		return fmt.Errorf("max_file_mb must not be negative, got %d", c.MaxFileMB)
	}
	if c.BufferKB <= 0 {
		return fmt.Errorf("buffer_kb must be positive, got %d", c.BufferKB)
	}
	if c.BufferCount <= 0 {
		return fmt.Errorf("buffer_count must be positive, got %d", c.BufferCount)
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats_subject must be set when nats_url is set")
	}
	return nil
}

// SessionSpec builds the immutable session descriptor from the config.
func (c *Config) SessionSpec() domain.SessionSpec {
	return domain.SessionSpec{
		Name:          c.SessionName,
		Source:        c.Source,
		FilePath:      filepath.Join(c.TraceDir, c.SessionName+".db"),
		MaxFileSizeMB: c.MaxFileMB,
		BufferSizeKB:  c.BufferKB,
		BufferCount:   c.BufferCount,
		Providers:     append([]string(nil), c.Providers...),
	}
}

// InterestSet builds the flattened interest set from the config.
func (c *Config) InterestSet() domain.InterestSet {
	return domain.NewInterestSet(c.Addresses)
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
