package server

import (
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/pulsehub/hub/internal/errors"
)

// createMux creates the HTTP mux with all endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Dashboard sessions
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.mu.RLock()
	deviceHandler := s.deviceHandler
	deviceSocket := s.deviceSocket
	statusHandler := s.statusHandler
	staticDir := s.staticDir
	s.mu.RUnlock()

	if deviceHandler != nil {
		mux.Handle("/data", deviceHandler)
	}
	if deviceSocket != nil {
		mux.Handle("/device", deviceSocket)
	}

	// Status endpoint: /status
	// Loopback only; used by "pulsehub status".
	if statusHandler != nil {
		mux.Handle("/status", statusHandler)
	}

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
		log.Printf("server: serving dashboard assets from %s", staticDir)
	}

	return mux
}

// handleWebSocket upgrades a dashboard connection and registers the session.
//
// The session's first message is initialState, followed by the retained
// device log lines. Both are queued before the session is visible to the
// broadcaster, so nothing can overtake them. A change applied between the
// snapshot and registration can be missed; the next check-in repeats the
// full readings.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: %s", apperrors.Wrap(apperrors.CodeServerUpgradeFailed, "websocket upgrade failed", err).Error())
		return
	}

	client := &Client{
		conn:        conn,
		send:        make(chan Message, channelBufferSize),
		done:        make(chan struct{}),
		server:      s,
		id:          uuid.NewString()[:8],
		limiter:     rate.NewLimiter(s.eventRate, s.eventBurst),
		connectedAt: time.Now(),
	}

	authRequired := s.AuthRequired()
	if !authRequired {
		client.authenticated.Store(true)
	}

	// Everything read from the store is read before s.mu is taken. The store
	// notifies this server while holding its own notify lock, and enqueue
	// needs s.mu, so touching the store under s.mu can deadlock.
	status := s.currentLiveness()
	initial := InitialStatePayload{
		Readings:      s.store.Snapshot(),
		RelayState:    s.store.RelayState(),
		CommandMode:   s.commandMode,
		AuthRequired:  authRequired,
		Authenticated: client.Authenticated(),
	}
	if client.Authenticated() {
		online := status.Online
		initial.Online = &online
		initial.LastSeen = unixMillis(status.LastSeen)
	}

	// Replay device log history. The buffer has room for the configured
	// history unless it exceeds channelBufferSize, in which case the oldest
	// lines are skipped.
	history := s.store.History()
	if over := len(history) - (channelBufferSize - 1); over > 0 {
		history = history[over:]
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}

	client.send <- Message{Type: MessageTypeInitialState, Payload: initial}
	for _, line := range history {
		client.send <- NewDeviceLogMessage(line)
	}

	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	log.Printf("server: session %s connected from %s (%d total, authenticated=%v)",
		client.id, r.RemoteAddr, total, client.Authenticated())

	go client.writePump()
	go client.readPump()
}

// checkOrigin allows requests without an Origin header (non-browser
// clients) and, when an allow list is configured, browser origins on it.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins[normalizeOrigin(origin)] {
		return true
	}
	log.Printf("server: %s", apperrors.New(apperrors.CodeServerOriginRejected, "origin "+origin+" not allowed").Error())
	return false
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// isLoopbackRequest checks if the HTTP request came from a loopback address.
// Returns true for 127.0.0.0/8 (IPv4) and ::1 (IPv6).
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If we can't parse the address, be conservative and reject
		log.Printf("server: failed to parse RemoteAddr %q: %v", r.RemoteAddr, err)
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		log.Printf("server: failed to parse IP from host %q", host)
		return false
	}

	return ip.IsLoopback()
}
