package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pulsehub/hub/internal/storage"
)

// metricsWindow is the activity window reported by /status.
const metricsWindow = 24 * time.Hour

// DeviceStatus is the device section of StatusResponse.
type DeviceStatus struct {
	Online           bool   `json:"online"`
	LastSeen         string `json:"last_seen,omitempty"`
	SecondsSinceSeen int64  `json:"seconds_since_seen"`
	CheckIns         uint64 `json:"checkins"`
	PendingCommand   bool   `json:"pending_command"`
	RelayState       bool   `json:"relay_state"`
	Sockets          int    `json:"sockets"`
}

// StatusResponse contains hub status information returned by /status.
// This structure is used by "pulsehub status" to display hub status.
type StatusResponse struct {
	Version string `json:"version"`

	// ListeningAddress is the address the hub is listening on.
	ListeningAddress string `json:"listening_address"`

	// ConnectedClients is the number of dashboard sessions.
	ConnectedClients int `json:"connected_clients"`

	// AuthenticatedClients is how many of them are logged in.
	AuthenticatedClients int `json:"authenticated_clients"`

	UptimeSeconds int64  `json:"uptime_seconds"`
	TLSEnabled    bool   `json:"tls_enabled"`
	AuthRequired  bool   `json:"auth_required"`
	CommandMode   string `json:"command_mode"`

	// LoginLockedUntil is set while logins are locked out.
	LoginLockedUntil string `json:"login_locked_until,omitempty"`

	Device DeviceStatus `json:"device"`

	// Metrics summarizes the last 24 hours when metrics are enabled.
	Metrics *storage.Summary `json:"metrics,omitempty"`
}

// MetricsSummarizer is the part of the metrics store /status needs.
type MetricsSummarizer interface {
	Summary(window time.Duration) (storage.Summary, error)
}

// SocketCounter reports open device sockets.
type SocketCounter interface {
	Connections() int
}

// StatusHandler handles HTTP requests for hub status.
// This endpoint is restricted to local machine addresses.
type StatusHandler struct {
	server    *Server
	startTime time.Time
	version   string
	metrics   MetricsSummarizer
	sockets   SocketCounter
}

// NewStatusHandler creates a new StatusHandler.
// metrics and sockets may be nil.
func NewStatusHandler(s *Server, version string, metrics MetricsSummarizer, sockets SocketCounter) *StatusHandler {
	return &StatusHandler{
		server:    s,
		startTime: time.Now(),
		version:   version,
		metrics:   metrics,
		sockets:   sockets,
	}
}

// ServeHTTP handles GET /status.
//
// Non-local requests receive HTTP 403 Forbidden; methods other than GET
// receive HTTP 405 Method Not Allowed.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := h.server
	live := s.currentLiveness()

	resp := StatusResponse{
		Version:              h.version,
		ListeningAddress:     s.Addr(),
		ConnectedClients:     s.ClientCount(),
		AuthenticatedClients: s.AuthenticatedCount(),
		UptimeSeconds:        int64(time.Since(h.startTime).Seconds()),
		TLSEnabled:           s.TLSEnabled(),
		AuthRequired:         s.AuthRequired(),
		CommandMode:          s.commandMode,
		Device: DeviceStatus{
			Online:           live.Online,
			SecondsSinceSeen: live.SecondsSinceSeen(),
			CheckIns:         s.store.CheckIns(),
			PendingCommand:   s.store.Pending(),
			RelayState:       s.store.RelayState(),
		},
	}
	if !live.LastSeen.IsZero() {
		resp.Device.LastSeen = live.LastSeen.UTC().Format(time.RFC3339)
	}
	if s.guard != nil {
		if until := s.guard.LockedUntil(); !until.IsZero() {
			resp.LoginLockedUntil = until.UTC().Format(time.RFC3339)
		}
	}
	if h.sockets != nil {
		resp.Device.Sockets = h.sockets.Connections()
	}
	if h.metrics != nil {
		summary, err := h.metrics.Summary(metricsWindow)
		if err != nil {
			log.Printf("server: status metrics unavailable: %v", err)
		} else {
			resp.Metrics = &summary
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("server: failed to encode status: %v", err)
	}
}
