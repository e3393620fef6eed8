package server

import (
	"log"

	"github.com/pulsehub/hub/internal/liveness"
	"github.com/pulsehub/hub/internal/state"
)

// audience selects which sessions receive a broadcast.
type audience int

const (
	// everyone includes unauthenticated sessions.
	everyone audience = iota

	// authenticatedOnly is used for liveness when access control is enabled.
	authenticatedOnly
)

// outbound is a queued broadcast.
type outbound struct {
	msg Message
	to  audience
}

// Broadcast sends a message to all connected clients.
// This method is non-blocking; messages are queued for delivery.
// If the server has been stopped, this method does nothing.
func (s *Server) Broadcast(msg Message) {
	s.enqueue(outbound{msg: msg, to: everyone})
}

// BroadcastAuthenticated sends a message to authenticated sessions only.
func (s *Server) BroadcastAuthenticated(msg Message) {
	s.enqueue(outbound{msg: msg, to: authenticatedOnly})
}

func (s *Server) enqueue(out outbound) {
	// Hold RLock while checking stopped AND sending to avoid race with Stop().
	// Stop() takes the write lock, sets stopped=true, then closes the channel.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return
	}

	// Never block the caller: state changes are published from the device
	// check-in path.
	select {
	case s.broadcast <- out:
	default:
		log.Printf("server: broadcast channel full, dropping %s", out.msg.Type)
	}
}

// runBroadcaster reads from the broadcast channel and sends to clients.
// It iterates a snapshot of the registry so a slow fan-out never holds the
// lock that connects and disconnects need.
func (s *Server) runBroadcaster() {
	for out := range s.broadcast {
		s.mu.RLock()
		targets := make([]*Client, 0, len(s.clients))
		for client := range s.clients {
			targets = append(targets, client)
		}
		s.mu.RUnlock()

		for _, client := range targets {
			if out.to == authenticatedOnly && !client.Authenticated() {
				continue
			}
			// Skip sessions that are shutting down, and never block on a
			// full buffer.
			if client.isDone() {
				continue
			}
			select {
			case client.send <- out.msg:
			default:
				log.Printf("server: session %s send buffer full, dropping %s", client.id, out.msg.Type)
			}
		}
	}
}

// StateChanged implements state.Listener. The store calls it in the order
// mutations were applied, and the single broadcast channel keeps that order
// on every session.
func (s *Server) StateChanged(change state.Change) {
	switch change.Kind {
	case state.ChangeCheckIn:
		s.Broadcast(NewSensorDataMessage(change.Readings))
		if change.Log != "" {
			s.Broadcast(NewDeviceLogMessage(change.Log))
		}
	case state.ChangeCommandRequested:
		s.Broadcast(NewPulseTriggeredMessage())
	case state.ChangeRelay:
		s.Broadcast(NewRelayStateMessage(change.RelayState))
	}
}

// PublishLiveness implements liveness.Publisher. With access control enabled
// only authenticated sessions see device status.
func (s *Server) PublishLiveness(status liveness.Status) {
	msg := NewDeviceStatusMessage(status)
	if s.AuthRequired() {
		s.BroadcastAuthenticated(msg)
		return
	}
	s.Broadcast(msg)
}
