package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/pulsehub/hub/internal/config"
	"github.com/pulsehub/hub/internal/server"
)

// runStatus implements "pulsehub status". /status only answers loopback
// requests, so this is meant to run on the hub machine.
func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	port := fs.IntP("port", "p", config.DefaultPort, "Port of the local hub")
	addr := fs.String("addr", "", "Hub address (host:port); overrides --port")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pulsehub status [options]\n\nShow the status of the local hub.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}

	target := *addr
	if target == "" {
		target = fmt.Sprintf("127.0.0.1:%d", *port)
	} else if fs.Changed("port") {
		fmt.Fprintf(stderr, "Warning: --addr overrides --port; using %s\n", target)
	}

	status, err := queryStatus(target)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(status)
		return 0
	}

	writeStatusOutput(stdout, status)
	return 0
}

// writeStatusOutput renders human-readable hub status.
func writeStatusOutput(w io.Writer, status *server.StatusResponse) {
	fmt.Fprintf(w, "Hub Status\n")
	fmt.Fprintf(w, "==========\n")
	fmt.Fprintf(w, "Version:      %s\n", status.Version)
	fmt.Fprintf(w, "Listening:    %s\n", status.ListeningAddress)
	fmt.Fprintf(w, "TLS:          %v\n", status.TLSEnabled)
	fmt.Fprintf(w, "Mode:         %s\n", status.CommandMode)
	fmt.Fprintf(w, "Login:        %v\n", status.AuthRequired)
	if status.LoginLockedUntil != "" {
		fmt.Fprintf(w, "Locked until: %s\n", status.LoginLockedUntil)
	}
	fmt.Fprintf(w, "Dashboards:   %d connected, %d logged in\n", status.ConnectedClients, status.AuthenticatedClients)
	fmt.Fprintf(w, "Uptime:       %s\n", formatUptime(status.UptimeSeconds))

	d := status.Device
	fmt.Fprintf(w, "\nDevice\n")
	fmt.Fprintf(w, "------\n")
	if d.Online {
		fmt.Fprintf(w, "State:        online\n")
	} else {
		fmt.Fprintf(w, "State:        offline\n")
	}
	if d.LastSeen != "" {
		fmt.Fprintf(w, "Last seen:    %s (%s ago)\n", d.LastSeen, formatUptime(d.SecondsSinceSeen))
	} else {
		fmt.Fprintf(w, "Last seen:    never\n")
	}
	fmt.Fprintf(w, "Check-ins:    %d\n", d.CheckIns)
	fmt.Fprintf(w, "Pending:      %v\n", d.PendingCommand)
	fmt.Fprintf(w, "Relay:        %v\n", d.RelayState)
	fmt.Fprintf(w, "Sockets:      %d\n", d.Sockets)

	if m := status.Metrics; m != nil {
		fmt.Fprintf(w, "\nLast 24h\n")
		fmt.Fprintf(w, "--------\n")
		fmt.Fprintf(w, "Check-ins:    %d (%d delivered a command)\n", m.CheckIns, m.Delivered)
		fmt.Fprintf(w, "Logins:       %d accepted, %d rejected, %d locked\n",
			m.Logins["accepted"], m.Logins["rejected"], m.Logins["locked"])
		fmt.Fprintf(w, "Commands:     %d pulse, %d relay\n", m.Commands["pulse"], m.Commands["relay"])
	}
}

// queryStatus tries plain HTTP first (the default) and falls back to HTTPS.
func queryStatus(addr string) (*server.StatusResponse, error) {
	status, err := queryStatusWithScheme("http", addr)
	if err == nil {
		return status, nil
	}
	status, err = queryStatusWithScheme("https", addr)
	if err != nil {
		return nil, fmt.Errorf("hub is not running at %s (or not reachable)", addr)
	}
	return status, nil
}

func queryStatusWithScheme(scheme, addr string) (*server.StatusResponse, error) {
	// Self-signed certificates are common on LAN hubs.
	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	resp, err := client.Get(fmt.Sprintf("%s://%s/status", scheme, addr))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var status server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}

// formatUptime formats seconds as a short human-readable duration.
// Examples: "45s", "5m 23s", "2h 15m", "3d 4h"
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", seconds)
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
