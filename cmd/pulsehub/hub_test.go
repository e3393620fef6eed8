package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsehub/hub/internal/config"
	"github.com/pulsehub/hub/internal/ingest"
	"github.com/pulsehub/hub/internal/server"
)

func startTestHub(t *testing.T, mutate func(*config.Config)) *hub {
	t.Helper()

	cfg := &config.Config{Addr: "127.0.0.1", Password: "pw"}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()
	// Port 0 picks a free port; Validate would reject it, so it is set last.
	cfg.Port = 0

	h, err := newHub(cfg, "test")
	if err != nil {
		t.Fatalf("newHub: %v", err)
	}
	if err := h.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(h.stop)
	return h
}

func postCheckIn(t *testing.T, addr, body string) ingest.Response {
	t.Helper()
	resp, err := http.Post("http://"+addr+"/data", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /data: %v", err)
	}
	defer resp.Body.Close()
	var out ingest.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func readUntil(t *testing.T, conn *websocket.Conn, want server.MessageType) server.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var msg server.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestHub_EndToEnd(t *testing.T) {
	h := startTestHub(t, nil)
	addr := h.server.Addr()

	if resp := postCheckIn(t, addr, `{"temperature":21.5}`); resp.Action != ingest.ActionNone {
		t.Fatalf("first action = %q, want none", resp.Action)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readUntil(t, conn, server.MessageTypeInitialState)

	conn.WriteJSON(server.Message{Type: server.MessageTypeLoginAttempt, Payload: server.LoginAttemptPayload{Password: "pw"}})
	readUntil(t, conn, server.MessageTypeLoginSuccess)

	conn.WriteJSON(server.Message{Type: server.MessageTypePulseRelay})
	readUntil(t, conn, server.MessageTypePulseTriggered)

	if resp := postCheckIn(t, addr, `{"temperature":21.6}`); resp.Action != ingest.ActionPulse {
		t.Fatalf("second action = %q, want pulse", resp.Action)
	}

	status, err := queryStatus(addr)
	if err != nil {
		t.Fatalf("queryStatus: %v", err)
	}
	if status.Device.CheckIns != 2 || !status.Device.Online {
		t.Errorf("device = %+v", status.Device)
	}
	if status.AuthenticatedClients != 1 || !status.AuthRequired {
		t.Errorf("clients = %d auth=%v", status.AuthenticatedClients, status.AuthRequired)
	}
	if status.Metrics == nil {
		t.Fatal("metrics missing from status")
	}
	if status.Metrics.CheckIns != 2 || status.Metrics.Delivered != 1 {
		t.Errorf("metrics = %+v", status.Metrics)
	}
	if status.Metrics.Logins["accepted"] != 1 {
		t.Errorf("logins = %v", status.Metrics.Logins)
	}
}

func TestHub_RelayModeWithoutMetrics(t *testing.T) {
	h := startTestHub(t, func(cfg *config.Config) {
		cfg.Password = ""
		cfg.CommandMode = config.ModeRelay
		cfg.MetricsDB = config.MetricsOff
	})
	if h.metrics != nil {
		t.Fatal("metrics store should not be opened when off")
	}

	resp := postCheckIn(t, h.server.Addr(), `{}`)
	if resp.Status != "success" || resp.RelayState == nil || *resp.RelayState {
		t.Errorf("relay response = %+v", resp)
	}

	status, err := queryStatus(h.server.Addr())
	if err != nil {
		t.Fatalf("queryStatus: %v", err)
	}
	if status.Metrics != nil || status.AuthRequired || status.CommandMode != "relay" {
		t.Errorf("status = %+v", status)
	}
}

func TestHub_NATSUnreachable(t *testing.T) {
	cfg := &config.Config{NATSURL: "nats://127.0.0.1:1", MetricsDB: config.MetricsOff}
	cfg.ApplyDefaults()

	if _, err := newHub(cfg, "test"); err == nil {
		t.Fatal("expected error when NATS is unreachable")
	}
}

func TestHub_SelfSignedTLS(t *testing.T) {
	dir := t.TempDir()
	h := startTestHub(t, func(cfg *config.Config) {
		cfg.TLSSelfSigned = true
		cfg.TLSCert = filepath.Join(dir, "hub.crt")
		cfg.TLSKey = filepath.Join(dir, "hub.key")
	})

	if h.fingerprint == "" {
		t.Fatal("fingerprint not set for self-signed TLS")
	}
	if _, err := os.Stat(filepath.Join(dir, "hub.key")); err != nil {
		t.Fatalf("key not written: %v", err)
	}

	// queryStatus falls back to https after the plain attempt fails.
	status, err := queryStatus(h.server.Addr())
	if err != nil {
		t.Fatalf("queryStatus: %v", err)
	}
	if !status.TLSEnabled {
		t.Error("status should report TLS enabled")
	}
}

func TestListenPort(t *testing.T) {
	tests := map[string]int{
		"127.0.0.1:3000": 3000,
		"[::1]:8443":     8443,
		":80":            80,
		"nope":           0,
	}
	for addr, want := range tests {
		if got := listenPort(addr); got != want {
			t.Errorf("listenPort(%q) = %d, want %d", addr, got, want)
		}
	}
}

func TestDashboardURL(t *testing.T) {
	cfg := &config.Config{}
	if got := dashboardURL(cfg, "192.168.1.5:3000"); got != "http://192.168.1.5:3000/" {
		t.Errorf("dashboardURL = %q", got)
	}

	cfg.TLSCert = "cert.pem"
	got := dashboardURL(cfg, "0.0.0.0:3000")
	if !strings.HasPrefix(got, "https://") || strings.Contains(got, "0.0.0.0") {
		t.Errorf("wildcard dashboardURL = %q", got)
	}
}
