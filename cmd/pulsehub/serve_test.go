package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pulsehub/hub/internal/config"
	apperrors "github.com/pulsehub/hub/internal/errors"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func resolveWith(t *testing.T, args []string, env map[string]string) (*config.Config, error) {
	t.Helper()
	var stderr bytes.Buffer
	fs, f := newServeFlagSet(&stderr)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return resolveConfig(fs, f, envLookup(env))
}

const sampleFile = `
port = 4000
command_mode = "relay"
password_hash = "$2a$10$abcdefghijklmnopqrstuv"
mdns_enabled = true
channels = ["soil"]
`

func TestResolveConfig_Precedence(t *testing.T) {
	path := writeConfigFile(t, sampleFile)

	tests := []struct {
		name string
		args []string
		env  map[string]string
		want int
	}{
		{"file", []string{"--config", path}, nil, 4000},
		{"env over file", []string{"--config", path}, map[string]string{"PORT": "5000"}, 5000},
		{"flag over env", []string{"--config", path, "--port", "6000"}, map[string]string{"PORT": "5000"}, 6000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := resolveWith(t, tt.args, tt.env)
			if err != nil {
				t.Fatalf("resolveConfig: %v", err)
			}
			if cfg.Port != tt.want {
				t.Errorf("port = %d, want %d", cfg.Port, tt.want)
			}
		})
	}
}

func TestResolveConfig_ConfigFromEnv(t *testing.T) {
	path := writeConfigFile(t, sampleFile)

	cfg, err := resolveWith(t, nil, map[string]string{"HUB_CONFIG": path})
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.CommandMode != config.ModeRelay {
		t.Errorf("command_mode = %q, want relay", cfg.CommandMode)
	}
	if !reflect.DeepEqual(cfg.Channels, []string{"soil"}) {
		t.Errorf("channels = %v", cfg.Channels)
	}
}

func TestResolveConfig_ExplicitFalseOverridesFile(t *testing.T) {
	path := writeConfigFile(t, sampleFile)

	cfg, err := resolveWith(t, []string{"--config", path, "--mdns=false"}, nil)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.MdnsEnabled {
		t.Error("--mdns=false should override mdns_enabled = true")
	}
}

func TestResolveConfig_PasswordFlagReplacesHash(t *testing.T) {
	path := writeConfigFile(t, sampleFile)

	cfg, err := resolveWith(t, []string{"--config", path, "--password", "plain"}, nil)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.Password != "plain" || cfg.PasswordHash != "" {
		t.Errorf("password=%q hash=%q", cfg.Password, cfg.PasswordHash)
	}
}

func TestResolveConfig_FlagsAndDefaults(t *testing.T) {
	path := writeConfigFile(t, "")

	cfg, err := resolveWith(t, []string{
		"--config", path,
		"--channels", "temperature,pressure",
		"--allowed-origin", "https://a.example",
		"--allowed-origin", "https://b.example",
		"--history-lines=-1",
		"--metrics-db", "off",
	}, nil)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}

	if cfg.Port != config.DefaultPort || cfg.CommandMode != config.ModePulse || cfg.MergePolicy != config.MergeReplace {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Channels, []string{"temperature", "pressure"}) {
		t.Errorf("channels = %v", cfg.Channels)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("allowed origins = %v", cfg.AllowedOrigins)
	}
	if cfg.LogHistoryLines != -1 {
		t.Errorf("history = %d, want -1", cfg.LogHistoryLines)
	}
	if cfg.MetricsEnabled() {
		t.Error("metrics should be off")
	}
}

func TestResolveConfig_Errors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.toml")
	if _, err := resolveWith(t, []string{"--config", missing}, nil); err == nil {
		t.Error("expected error for missing explicit config")
	}

	path := writeConfigFile(t, "")
	if _, err := resolveWith(t, []string{"--config", path}, map[string]string{"PORT": "abc"}); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
	if _, err := resolveWith(t, []string{"--config", path, "--command-mode", "toggle"}, nil); err == nil {
		t.Error("expected error for unknown command mode")
	}
	if _, err := resolveWith(t, []string{"--config", path, "--tls-cert", "c.pem"}, nil); err == nil {
		t.Error("expected error for tls cert without key")
	}
}

func TestReportServeError_Hints(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.toml")
	_, err := resolveWith(t, []string{"--config", missing}, nil)
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}

	var out bytes.Buffer
	reportServeError(&out, err)
	if !bytes.Contains(out.Bytes(), []byte("pulsehub init")) {
		t.Errorf("missing config should suggest init, got %q", out.String())
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"listen", apperrors.Wrap(apperrors.CodeServerListenFailed, "listen on :3000", errors.New("address in use")), "--port"},
		{"metrics", apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open metrics database", errors.New("denied")), "--metrics-db off"},
		{"nats", apperrors.Wrap(apperrors.CodeMirrorConnect, "connect", errors.New("refused")), "--nats-url"},
		{"uncoded", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := serveErrorHint(tt.err)
			if tt.want == "" {
				if hint != "" {
					t.Errorf("hint = %q, want none", hint)
				}
				return
			}
			if !bytes.Contains([]byte(hint), []byte(tt.want)) {
				t.Errorf("hint = %q, want it to mention %q", hint, tt.want)
			}
		})
	}
}
