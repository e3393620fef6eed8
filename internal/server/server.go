package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	// gorilla/websocket provides the WebSocket protocol implementation
	// with support for reading/writing messages, ping/pong, and close handling.
	"github.com/gorilla/websocket"

	// Rate limiting for dashboard events to prevent message flooding.
	"golang.org/x/time/rate"

	"github.com/pulsehub/hub/internal/auth"
	"github.com/pulsehub/hub/internal/liveness"
	"github.com/pulsehub/hub/internal/state"
)

// channelBufferSize is the buffer size for the broadcast channel and per-client
// send channels. If a client's buffer fills up, messages are dropped for that
// client only.
const channelBufferSize = 256

// Default per-session event limits.
const (
	DefaultEventRate  = 20
	DefaultEventBurst = 10
)

// LivenessSource evaluates device liveness on demand.
// Implemented by *liveness.Monitor.
type LivenessSource interface {
	Evaluate() liveness.Status
}

// CommandObserver is told about every accepted dashboard command.
// It is called from the session's read goroutine and must not block.
type CommandObserver interface {
	CommandIssued(kind string, relayState bool)
}

// Command kinds passed to CommandObserver.
const (
	CommandPulse = "pulse"
	CommandRelay = "relay"
)

// Config holds the dependencies and settings of a Server.
type Config struct {
	// Addr is the address to listen on (e.g., "0.0.0.0:3000").
	Addr string

	// Store is the device state. Required.
	Store *state.Store

	// Guard gates control actions. Nil or disabled means every session
	// starts authenticated.
	Guard *auth.Guard

	// AllowedOrigins restricts dashboard Origin headers. Empty allows all.
	AllowedOrigins []string

	// StaticDir is served at / when set.
	StaticDir string

	// CommandMode is reported to dashboards in initialState.
	CommandMode string

	// EventRate and EventBurst bound dashboard events per session.
	EventRate  rate.Limit
	EventBurst int
}

// Server manages dashboard WebSocket sessions and broadcasts state changes.
// It handles multiple concurrent clients and ensures messages are delivered
// to all connected clients without blocking the sender.
type Server struct {
	// addr is the address to listen on.
	addr string

	// upgrader converts HTTP connections to WebSocket connections.
	upgrader websocket.Upgrader

	// clients tracks all connected WebSocket clients.
	clients map[*Client]bool

	// mu protects the clients map, stopped flag and the settable handlers.
	mu sync.RWMutex

	// stopped indicates whether the server has been stopped.
	// This prevents sending to a closed broadcast channel.
	stopped bool

	// broadcast receives messages to send to clients.
	// Using a channel decouples message production from delivery.
	broadcast chan outbound

	// httpServer is the underlying HTTP server for graceful shutdown.
	httpServer *http.Server

	store *state.Store
	guard *auth.Guard

	allowedOrigins map[string]bool
	staticDir      string
	commandMode    string
	eventRate      rate.Limit
	eventBurst     int

	// liveness is set after construction because the monitor publishes
	// back into this server.
	liveness LivenessSource

	observer CommandObserver

	// deviceHandler serves POST /data; deviceSocket serves /device.
	deviceHandler http.Handler
	deviceSocket  http.Handler

	// statusHandler serves the loopback-only /status endpoint.
	statusHandler http.Handler

	// tlsEnabled is set by StartAsyncTLS.
	tlsEnabled bool
}

// Client represents a single dashboard session.
// Each client has its own goroutine for writing messages,
// which prevents slow clients from blocking the broadcast.
type Client struct {
	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is a buffered channel for outgoing messages.
	// The write goroutine reads from this and sends to the WebSocket.
	send chan Message

	// done is closed to signal the client should shut down.
	// Used to coordinate clean shutdown without racing on send channel.
	done chan struct{}

	// sendOnce ensures done is only closed once.
	// Both Stop() and readPump() may try to close it.
	sendOnce sync.Once

	// server is a reference back to the parent server.
	server *Server

	// id identifies the session in logs.
	id string

	// authenticated is written by the client's readPump and read by the
	// broadcaster.
	authenticated atomic.Bool

	// limiter drops events beyond the per-session rate.
	limiter *rate.Limiter

	connectedAt time.Time
}

// ID returns the session identifier.
func (c *Client) ID() string {
	return c.id
}

// Authenticated reports whether the session may issue control actions.
func (c *Client) Authenticated() bool {
	return c.authenticated.Load()
}

// NewServer creates a new dashboard server.
// Call StartAsync() to begin accepting connections.
func NewServer(cfg Config) *Server {
	if cfg.EventRate <= 0 {
		cfg.EventRate = DefaultEventRate
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = DefaultEventBurst
	}

	s := &Server{
		addr:           cfg.Addr,
		clients:        make(map[*Client]bool),
		broadcast:      make(chan outbound, channelBufferSize),
		store:          cfg.Store,
		guard:          cfg.Guard,
		allowedOrigins: make(map[string]bool, len(cfg.AllowedOrigins)),
		staticDir:      cfg.StaticDir,
		commandMode:    cfg.CommandMode,
		eventRate:      cfg.EventRate,
		eventBurst:     cfg.EventBurst,
	}
	for _, origin := range cfg.AllowedOrigins {
		s.allowedOrigins[normalizeOrigin(origin)] = true
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
		// Buffer sizes for reading and writing WebSocket frames.
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// AuthRequired reports whether dashboards must log in before control actions.
func (s *Server) AuthRequired() bool {
	return s.guard != nil && s.guard.Enabled()
}

// SetLivenessSource sets where initialState and login replies get liveness.
func (s *Server) SetLivenessSource(src LivenessSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveness = src
}

// SetCommandObserver sets the observer told about accepted commands.
func (s *Server) SetCommandObserver(o CommandObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// SetDeviceHandlers sets the handlers for POST /data and the /device socket.
// Must be called before Start.
func (s *Server) SetDeviceHandlers(data, socket http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceHandler = data
	s.deviceSocket = socket
}

// SetStatusHandler sets the handler for /status. Must be called before Start.
func (s *Server) SetStatusHandler(handler http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusHandler = handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// TLSEnabled reports whether the server was started with TLS.
func (s *Server) TLSEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tlsEnabled
}

// ClientCount returns the number of connected sessions.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// AuthenticatedCount returns the number of authenticated sessions.
func (s *Server) AuthenticatedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for c := range s.clients {
		if c.Authenticated() {
			n++
		}
	}
	return n
}

// currentLiveness evaluates liveness, falling back to the store's last
// check-in with the default timeout when no monitor is attached.
func (s *Server) currentLiveness() liveness.Status {
	s.mu.RLock()
	src := s.liveness
	s.mu.RUnlock()

	if src != nil {
		return src.Evaluate()
	}
	now := time.Now()
	lastSeen := s.store.LastSeen()
	return liveness.Status{
		Online:    state.IsOnline(lastSeen, now, liveness.DefaultTimeout),
		LastSeen:  lastSeen,
		CheckedAt: now,
	}
}

func (s *Server) commandObserver() CommandObserver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observer
}
