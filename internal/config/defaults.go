package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultFile is written by WriteDefault. It mirrors the built-in defaults so
// operators have something to edit.
const defaultFile = `# pulsehub configuration

# Listen on all interfaces so the device can reach the hub over Wi-Fi.
addr = "0.0.0.0"
port = %d

# Shared secret for dashboard control actions. Leave empty to disable login.
# Prefer password_hash (see 'pulsehub hash-password').
password = ""

# replace: each check-in is the whole state. merge: check-ins update channels.
merge_policy = "replace"

# pulse: device receives {"action": "pulse"|"none"}.
# relay: device receives {"status": "success", "action": ..., "relayState": bool}.
command_mode = "pulse"

channels = ["temperature", "humidity"]

# Serve HTTPS with a generated certificate kept in ~/.pulsehub/certs.
# Set tls_cert and tls_key instead to use your own.
tls_self_signed = false
`

// WriteDefault creates a config file with the built-in defaults at path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(defaultFile, DefaultPort)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
