package server

import (
	"encoding/json"
	"log"

	"github.com/pulsehub/hub/internal/auth"
)

// handleLoginAttempt checks the submitted password with the guard.
//
// A session that is already authenticated (including every session when
// access control is disabled) is answered loginSuccess without consulting
// the guard, so it cannot burn failure slots.
func (c *Client) handleLoginAttempt(raw json.RawMessage) {
	if c.Authenticated() {
		c.trySend(NewLoginSuccessMessage())
		return
	}

	var payload LoginAttemptPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			// A payload we cannot read is still a wrong password.
			log.Printf("server: session %s sent unreadable login payload: %v", c.id, err)
		}
	}

	result := c.server.guard.AttemptLogin(payload.Password)
	switch result.Outcome {
	case auth.Accepted:
		c.authenticated.Store(true)
		log.Printf("server: session %s authenticated", c.id)
		c.trySend(NewLoginSuccessMessage())
		// Liveness was withheld until now.
		c.trySend(NewDeviceStatusMessage(c.server.currentLiveness()))
	case auth.Locked:
		c.trySend(NewLoginBlockMessage(result))
	default:
		c.trySend(NewLoginFailMessage())
	}
}

// handlePulseRelay queues a pulse. The store notifies the server, which
// broadcasts pulseTriggered to every session.
func (c *Client) handlePulseRelay() {
	if !c.Authenticated() {
		log.Printf("server: ignoring pulseRelay from unauthenticated session %s", c.id)
		return
	}

	c.server.store.RequestCommand()
	log.Printf("server: session %s requested a pulse", c.id)
	c.server.notifyCommand(CommandPulse)
}

// handleToggleRelay flips the desired relay state.
func (c *Client) handleToggleRelay() {
	if !c.Authenticated() {
		log.Printf("server: ignoring toggleRelay from unauthenticated session %s", c.id)
		return
	}

	on := c.server.store.ToggleRelay()
	log.Printf("server: session %s toggled relay to %v", c.id, on)
	c.server.notifyCommand(CommandRelay)
}

// handleControlRelay sets the desired relay state explicitly.
func (c *Client) handleControlRelay(raw json.RawMessage) {
	if !c.Authenticated() {
		log.Printf("server: ignoring control-relay from unauthenticated session %s", c.id)
		return
	}

	var payload ControlRelayPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.State == nil {
		log.Printf("server: session %s sent control-relay without a state", c.id)
		return
	}

	c.server.store.SetRelay(*payload.State)
	log.Printf("server: session %s set relay to %v", c.id, *payload.State)
	c.server.notifyCommand(CommandRelay)
}

// notifyCommand tells the observer, if any, about an accepted command.
func (s *Server) notifyCommand(kind string) {
	if o := s.commandObserver(); o != nil {
		o.CommandIssued(kind, s.store.RelayState())
	}
}
