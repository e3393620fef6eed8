// Package config provides TOML configuration file loading for the hub.
// The configuration file lives at ~/.pulsehub/config.toml by default, but can be
// overridden with the --config flag or HUB_CONFIG. Precedence, highest first:
// CLI flags, environment variables, file values, built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	hubErrors "github.com/pulsehub/hub/internal/errors"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvPort         = "PORT"
	EnvPassword     = "HUB_PASSWORD"
	EnvPasswordHash = "HUB_PASSWORD_HASH"
	EnvConfig       = "HUB_CONFIG"
	EnvNATSURL      = "HUB_NATS_URL"
)

// Config represents the hub configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files.
type Config struct {
	// Addr is the host part of the listen address. Empty means all interfaces.
	Addr string `toml:"addr"`

	// Port is the listen port. Default: 3000
	Port int `toml:"port"`

	// Password is the shared secret that gates dashboard control actions.
	// Empty (together with PasswordHash) disables access control.
	Password string `toml:"password"`

	// PasswordHash is a bcrypt hash of the shared secret. Takes precedence
	// over Password when both are set.
	PasswordHash string `toml:"password_hash"`

	// MaxLoginFailures is the number of consecutive failures that triggers a lockout.
	// Default: 3
	MaxLoginFailures int `toml:"max_login_failures"`

	// LockoutSeconds is how long logins stay locked after the threshold is hit.
	// Default: 300
	LockoutSeconds int `toml:"lockout_seconds"`

	// LivenessTimeoutSeconds is how long after its last check-in the device is
	// still considered online. Default: 12
	LivenessTimeoutSeconds int `toml:"liveness_timeout_seconds"`

	// LivenessIntervalSeconds is how often liveness is pushed to dashboards.
	// Default: 5
	LivenessIntervalSeconds int `toml:"liveness_interval_seconds"`

	// MergePolicy is "replace" or "merge". Default: replace
	MergePolicy string `toml:"merge_policy"`

	// CommandMode is "pulse" or "relay". It selects the device response shape.
	// Default: pulse
	CommandMode string `toml:"command_mode"`

	// Channels lists the sensor channels known at startup. They are reported
	// as unavailable until the device sends a reading.
	// Default: ["temperature", "humidity"]
	Channels []string `toml:"channels"`

	// LogHistoryLines is how many device log lines are replayed to a new
	// dashboard. Default: 50. Negative values disable history.
	LogHistoryLines int `toml:"log_history_lines"`

	// MetricsDB is the SQLite path for activity metrics. Default ":memory:".
	// Set to "off" to disable metrics.
	MetricsDB string `toml:"metrics_db"`

	// NATSURL enables the NATS event mirror when non-empty.
	NATSURL string `toml:"nats_url"`

	// NATSSubject is the subject prefix for mirrored events.
	// Default: pulsehub.device
	NATSSubject string `toml:"nats_subject"`

	// MdnsEnabled advertises the hub on the local network so the device can
	// find it without a hard-coded IP. Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// AllowedOrigins restricts browser origins for the dashboard socket.
	// Empty allows every origin.
	AllowedOrigins []string `toml:"allowed_origins"`

	// StaticDir is served at / when set.
	StaticDir string `toml:"static_dir"`

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `toml:"tls_cert"`
	TLSKey  string `toml:"tls_key"`

	// TLSSelfSigned enables TLS with a generated certificate. TLSCert and
	// TLSKey, when set, say where it is kept; otherwise ~/.pulsehub/certs.
	TLSSelfSigned bool `toml:"tls_self_signed"`

	// LogFile redirects log output when set.
	LogFile string `toml:"log_file"`
}

// Built-in defaults.
const (
	DefaultPort                    = 3000
	DefaultMaxLoginFailures        = 3
	DefaultLockoutSeconds          = 300
	DefaultLivenessTimeoutSeconds  = 12
	DefaultLivenessIntervalSeconds = 5
	DefaultLogHistoryLines         = 50
	DefaultMetricsDB               = ":memory:"
	DefaultNATSSubject             = "pulsehub.device"

	MergeReplace = "replace"
	MergeMerge   = "merge"

	ModePulse = "pulse"
	ModeRelay = "relay"

	// MetricsOff disables the metrics database.
	MetricsOff = "off"
)

// DefaultChannels are the sensor channels reported before the first check-in.
var DefaultChannels = []string{"temperature", "humidity"}

// DefaultConfigPath returns the default config file location: ~/.pulsehub/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".pulsehub", "config.toml"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
// Defaults are not applied; call ApplyDefaults after merging other sources.
//
// Behavior:
//   - If path is empty, attempts to load from the default location.
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, hubErrors.New(hubErrors.CodeConfigNotFound, fmt.Sprintf("config file not found: %s", path))
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, hubErrors.Wrap(hubErrors.CodeConfigParse, fmt.Sprintf("failed to parse config file %s", path), err)
	}

	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. lookup is usually
// os.LookupEnv; tests pass a map-backed function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return hubErrors.InvalidConfig(EnvPort, fmt.Sprintf("not a number: %q", v))
		}
		c.Port = port
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Password = v
	}
	if v, ok := lookup(EnvPasswordHash); ok && v != "" {
		c.PasswordHash = v
	}
	if v, ok := lookup(EnvNATSURL); ok && v != "" {
		c.NATSURL = v
	}
	return nil
}

// ApplyDefaults fills zero values with built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxLoginFailures == 0 {
		c.MaxLoginFailures = DefaultMaxLoginFailures
	}
	if c.LockoutSeconds == 0 {
		c.LockoutSeconds = DefaultLockoutSeconds
	}
	if c.LivenessTimeoutSeconds == 0 {
		c.LivenessTimeoutSeconds = DefaultLivenessTimeoutSeconds
	}
	if c.LivenessIntervalSeconds == 0 {
		c.LivenessIntervalSeconds = DefaultLivenessIntervalSeconds
	}
	if c.MergePolicy == "" {
		c.MergePolicy = MergeReplace
	}
	if c.CommandMode == "" {
		c.CommandMode = ModePulse
	}
	if len(c.Channels) == 0 {
		c.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.LogHistoryLines == 0 {
		c.LogHistoryLines = DefaultLogHistoryLines
	}
	if c.MetricsDB == "" {
		c.MetricsDB = DefaultMetricsDB
	}
	if c.NATSSubject == "" {
		c.NATSSubject = DefaultNATSSubject
	}
}

// Validate reports the first invalid value as a config.invalid error.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return hubErrors.InvalidConfig("port", fmt.Sprintf("%d is out of range", c.Port))
	}
	if c.MaxLoginFailures < 1 {
		return hubErrors.InvalidConfig("max_login_failures", "must be at least 1")
	}
	if c.LockoutSeconds < 1 {
		return hubErrors.InvalidConfig("lockout_seconds", "must be positive")
	}
	if c.LivenessTimeoutSeconds < 1 {
		return hubErrors.InvalidConfig("liveness_timeout_seconds", "must be positive")
	}
	if c.LivenessIntervalSeconds < 1 {
		return hubErrors.InvalidConfig("liveness_interval_seconds", "must be positive")
	}
	switch c.MergePolicy {
	case MergeReplace, MergeMerge:
	default:
		return hubErrors.InvalidConfig("merge_policy", fmt.Sprintf("%q must be %q or %q", c.MergePolicy, MergeReplace, MergeMerge))
	}
	switch c.CommandMode {
	case ModePulse, ModeRelay:
	default:
		return hubErrors.InvalidConfig("command_mode", fmt.Sprintf("%q must be %q or %q", c.CommandMode, ModePulse, ModeRelay))
	}
	for _, ch := range c.Channels {
		if strings.TrimSpace(ch) == "" {
			return hubErrors.InvalidConfig("channels", "channel names must not be empty")
		}
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return hubErrors.InvalidConfig("tls_cert", "tls_cert and tls_key must be set together")
	}
	return nil
}

// ListenAddr joins Addr and Port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

// AccessControlEnabled reports whether a shared secret is configured.
func (c *Config) AccessControlEnabled() bool {
	return c.Password != "" || c.PasswordHash != ""
}

// TLSEnabled reports whether the hub serves HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSSelfSigned || c.TLSCert != ""
}

// MetricsEnabled reports whether the metrics database should be opened.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsDB != MetricsOff
}

// LockoutDuration returns LockoutSeconds as a duration.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutSeconds) * time.Second
}

// LivenessTimeout returns LivenessTimeoutSeconds as a duration.
func (c *Config) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutSeconds) * time.Second
}

// LivenessInterval returns LivenessIntervalSeconds as a duration.
func (c *Config) LivenessInterval() time.Duration {
	return time.Duration(c.LivenessIntervalSeconds) * time.Second
}
