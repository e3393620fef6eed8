package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	hubErrors "github.com/pulsehub/hub/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// TestLoad_AllFields verifies that all config fields are parsed correctly from TOML.
func TestLoad_AllFields(t *testing.T) {
	path := writeConfig(t, `
addr = "0.0.0.0"
port = 8080
password = "s3cret"
password_hash = "$2a$10$abc"
max_login_failures = 5
lockout_seconds = 60
liveness_timeout_seconds = 20
liveness_interval_seconds = 2
merge_policy = "merge"
command_mode = "relay"
channels = ["soil", "light"]
log_history_lines = 10
metrics_db = "/tmp/hub.db"
nats_url = "nats://127.0.0.1:4222"
nats_subject = "greenhouse"
mdns_enabled = true
allowed_origins = ["http://localhost:3000"]
static_dir = "./public"
tls_cert = "/c.crt"
tls_key = "/c.key"
log_file = "/tmp/hub.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Addr != "0.0.0.0" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, "0.0.0.0")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Password != "s3cret" || cfg.PasswordHash != "$2a$10$abc" {
		t.Errorf("secret fields = %q/%q", cfg.Password, cfg.PasswordHash)
	}
	if cfg.MaxLoginFailures != 5 || cfg.LockoutSeconds != 60 {
		t.Errorf("lockout fields = %d/%d", cfg.MaxLoginFailures, cfg.LockoutSeconds)
	}
	if cfg.LivenessTimeoutSeconds != 20 || cfg.LivenessIntervalSeconds != 2 {
		t.Errorf("liveness fields = %d/%d", cfg.LivenessTimeoutSeconds, cfg.LivenessIntervalSeconds)
	}
	if cfg.MergePolicy != MergeMerge {
		t.Errorf("MergePolicy = %q", cfg.MergePolicy)
	}
	if cfg.CommandMode != ModeRelay {
		t.Errorf("CommandMode = %q", cfg.CommandMode)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0] != "soil" {
		t.Errorf("Channels = %v", cfg.Channels)
	}
	if cfg.LogHistoryLines != 10 {
		t.Errorf("LogHistoryLines = %d", cfg.LogHistoryLines)
	}
	if cfg.MetricsDB != "/tmp/hub.db" {
		t.Errorf("MetricsDB = %q", cfg.MetricsDB)
	}
	if cfg.NATSURL != "nats://127.0.0.1:4222" || cfg.NATSSubject != "greenhouse" {
		t.Errorf("NATS fields = %q/%q", cfg.NATSURL, cfg.NATSSubject)
	}
	if !cfg.MdnsEnabled {
		t.Error("MdnsEnabled = false, want true")
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.StaticDir != "./public" || cfg.TLSCert != "/c.crt" || cfg.TLSKey != "/c.key" || cfg.LogFile != "/tmp/hub.log" {
		t.Errorf("path fields not parsed: %+v", cfg)
	}
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	if !hubErrors.IsCode(err, hubErrors.CodeConfigNotFound) {
		t.Errorf("code = %q, want %q", hubErrors.GetCode(err), hubErrors.CodeConfigNotFound)
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := writeConfig(t, "port = [unterminated")
	_, err := Load(path)
	if !hubErrors.IsCode(err, hubErrors.CodeConfigParse) {
		t.Fatalf("expected config.parse, got %v", err)
	}
}

func TestLoad_DefaultPathMissingIsEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Port != 0 || cfg.Password != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.MaxLoginFailures != 3 {
		t.Errorf("MaxLoginFailures = %d, want 3", cfg.MaxLoginFailures)
	}
	if cfg.LockoutDuration() != 5*time.Minute {
		t.Errorf("LockoutDuration = %v, want 5m", cfg.LockoutDuration())
	}
	if cfg.LivenessTimeout() != 12*time.Second {
		t.Errorf("LivenessTimeout = %v, want 12s", cfg.LivenessTimeout())
	}
	if cfg.LivenessInterval() != 5*time.Second {
		t.Errorf("LivenessInterval = %v, want 5s", cfg.LivenessInterval())
	}
	if cfg.MergePolicy != MergeReplace || cfg.CommandMode != ModePulse {
		t.Errorf("policy/mode = %q/%q", cfg.MergePolicy, cfg.CommandMode)
	}
	if len(cfg.Channels) != 2 {
		t.Errorf("Channels = %v", cfg.Channels)
	}
	if cfg.MetricsDB != ":memory:" || !cfg.MetricsEnabled() {
		t.Errorf("MetricsDB = %q", cfg.MetricsDB)
	}
	if cfg.AccessControlEnabled() {
		t.Error("access control should be disabled without a secret")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if cfg.ListenAddr() != ":3000" {
		t.Errorf("ListenAddr = %q, want :3000", cfg.ListenAddr())
	}
}

// TestApplyDefaults_DoesNotShareChannels guards against aliasing the package default.
func TestApplyDefaults_DoesNotShareChannels(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Channels[0] = "mutated"
	if DefaultChannels[0] != "temperature" {
		t.Fatalf("DefaultChannels was mutated: %v", DefaultChannels)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := &Config{Port: 8080, Password: "file"}
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvPort:     "4000",
		EnvPassword: "env",
		EnvNATSURL:  "nats://n:4222",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv error: %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Port)
	}
	if cfg.Password != "env" {
		t.Errorf("Password = %q, want env", cfg.Password)
	}
	if cfg.NATSURL != "nats://n:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
	if !cfg.AccessControlEnabled() {
		t.Error("expected access control enabled")
	}
}

func TestApplyEnv_BadPort(t *testing.T) {
	cfg := &Config{}
	err := cfg.ApplyEnv(envMap(map[string]string{EnvPort: "http"}))
	if !hubErrors.IsCode(err, hubErrors.CodeConfigInvalid) {
		t.Fatalf("expected config.invalid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"unknown merge policy", func(c *Config) { c.MergePolicy = "append" }},
		{"unknown command mode", func(c *Config) { c.CommandMode = "toggle" }},
		{"empty channel", func(c *Config) { c.Channels = []string{"temp", " "} }},
		{"negative lockout", func(c *Config) { c.LockoutSeconds = -1 }},
		{"cert without key", func(c *Config) { c.TLSCert = "/c.crt" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !hubErrors.IsCode(err, hubErrors.CodeConfigInvalid) {
				t.Errorf("Validate() = %v, want config.invalid", err)
			}
		})
	}
}

func TestTLSEnabled(t *testing.T) {
	cfg := &Config{}
	if cfg.TLSEnabled() {
		t.Error("TLS should be off by default")
	}
	cfg.TLSSelfSigned = true
	if !cfg.TLSEnabled() {
		t.Error("tls_self_signed should enable TLS")
	}
	cfg = &Config{TLSCert: "/c.crt", TLSKey: "/c.key"}
	if !cfg.TLSEnabled() {
		t.Error("tls_cert should enable TLS")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load written default: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.Addr != "0.0.0.0" || cfg.TLSEnabled() {
		t.Errorf("unexpected default file contents: %+v", cfg)
	}

	// Second call must not overwrite an edited file.
	if err := os.WriteFile(path, []byte("port = 9999\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault second call: %v", err)
	}
	cfg, _ = Load(path)
	if cfg.Port != 9999 {
		t.Errorf("WriteDefault overwrote existing file, port = %d", cfg.Port)
	}
}
