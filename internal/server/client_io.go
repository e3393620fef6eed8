package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/pulsehub/hub/internal/errors"
)

const (
	// pingInterval keeps NAT mappings and proxies from dropping idle sessions.
	pingInterval = 30 * time.Second

	// readTimeout must exceed pingInterval so a pong always arrives in time.
	readTimeout = 60 * time.Second

	writeTimeout = 10 * time.Second

	// maxMessageSize bounds a single dashboard frame.
	maxMessageSize = 16 * 1024
)

// closeSend safely signals the client to shut down exactly once.
// This is safe to call multiple times from different goroutines.
// We only close the done channel (not send) to avoid racing with
// ongoing send operations. All senders check done before sending.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// isDone reports whether the session has been shut down.
func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// trySend queues msg for this client only. It never blocks.
func (c *Client) trySend(msg Message) bool {
	if c.isDone() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Printf("server: session %s send buffer full, dropping %s", c.id, msg.Type)
		return false
	}
}

// writePump continuously sends messages from the send channel to the WebSocket.
// It also sends periodic pings to keep the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.writeClose()
			return

		case msg := <-c.send:
			// select picks randomly among ready cases; a closed done must win
			// so nothing is written after disconnect or Stop.
			if c.isDone() {
				c.writeClose()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("server: failed to marshal %s: %v", msg.Type, err)
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("server: session %s write error: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeClose sends a best-effort close frame.
func (c *Client) writeClose() {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump reads dashboard events until the connection fails, then
// unregisters the session.
func (c *Client) readPump() {
	defer func() {
		// Unregister before signalling done so the broadcaster's next
		// snapshot no longer contains this session.
		c.server.mu.Lock()
		delete(c.server.clients, c)
		remaining := len(c.server.clients)
		c.server.mu.Unlock()

		c.closeSend()

		log.Printf("server: session %s disconnected (%d remaining)", c.id, remaining)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))

	// When we receive a pong (response to our ping), we know the client is alive.
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				log.Printf("server: session %s read error: %v", c.id, err)
			}
			return
		}

		if !c.limiter.Allow() {
			log.Printf("server: session %s exceeded event rate, dropping event", c.id)
			continue
		}

		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("server: %s", apperrors.InvalidMessage("session "+c.id+" sent malformed JSON").Error())
			continue
		}

		c.handle(msg)
	}
}

// handle dispatches one dashboard event.
func (c *Client) handle(msg incomingMessage) {
	switch msg.Type {
	case MessageTypeLoginAttempt:
		c.handleLoginAttempt(msg.Payload)
	case MessageTypePulseRelay:
		c.handlePulseRelay()
	case MessageTypeToggleRelay:
		c.handleToggleRelay()
	case MessageTypeControlRelay:
		c.handleControlRelay(msg.Payload)
	default:
		log.Printf("server: session %s sent unknown event type %q", c.id, msg.Type)
	}
}
