package ingest

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/pulsehub/hub/internal/errors"
)

const (
	// socketReadTimeout is how long a device socket may stay silent.
	// Devices check in every few seconds, so a minute covers several misses.
	socketReadTimeout = 60 * time.Second

	socketWriteTimeout = 10 * time.Second
)

// SocketHandler serves GET /device for devices that keep one WebSocket open
// instead of posting. Every text frame is a check-in; the response is written
// back on the same socket.
type SocketHandler struct {
	processor *Processor
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	stopped bool
}

// NewSocketHandler creates the persistent-socket handler.
func NewSocketHandler(p *Processor) *SocketHandler {
	return &SocketHandler{
		processor: p,
		conns:     make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			// Firmware does not send an Origin header worth checking.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// device disconnects or Close is called.
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ingest: device socket upgrade failed: %v", err)
		return
	}

	if !h.track(conn) {
		conn.Close()
		return
	}
	defer h.untrack(conn)

	log.Printf("ingest: device socket connected from %s", r.RemoteAddr)
	h.serve(conn)
	log.Printf("ingest: device socket from %s closed", r.RemoteAddr)
}

// serve handles frames sequentially; only this goroutine writes to conn.
func (h *SocketHandler) serve(conn *websocket.Conn) {
	conn.SetReadLimit(MaxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("ingest: %s", apperrors.Wrap(apperrors.CodeIngestSocket, "device socket read failed", err).Error())
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(socketReadTimeout))

		if msgType != websocket.TextMessage {
			continue
		}

		resp := h.processor.Process(data, TransportSocket)

		conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("ingest: %s", apperrors.Wrap(apperrors.CodeIngestSocket, "device socket write failed", err).Error())
			return
		}
	}
}

func (h *SocketHandler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *SocketHandler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

// Connections returns the number of open device sockets.
func (h *SocketHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close closes every device socket and refuses new ones.
func (h *SocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for conn := range h.conns {
		// Closing the underlying connection unblocks ReadMessage.
		conn.Close()
	}
}
