// Package server provides the dashboard WebSocket hub and the HTTP mux that
// also carries the device endpoints.
//
// Dashboards receive live sensor data, device logs and liveness, and send
// control actions that are gated by the shared-secret login.
package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsehub/hub/internal/auth"
	"github.com/pulsehub/hub/internal/liveness"
	"github.com/pulsehub/hub/internal/state"
)

// MessageType identifies the kind of message being sent over WebSocket.
// Each type has a specific payload structure defined below.
type MessageType string

// Server to client.
const (
	// MessageTypeInitialState is the first message on every connection.
	// Payload: InitialStatePayload
	MessageTypeInitialState MessageType = "initialState"

	// MessageTypeSensorData carries the readings after each check-in.
	// Payload: SensorDataPayload
	MessageTypeSensorData MessageType = "sensorData"

	// MessageTypeDeviceLog carries one device log line.
	// Payload: DeviceLogPayload
	MessageTypeDeviceLog MessageType = "esp32log"

	// MessageTypeDeviceStatus carries device liveness. Only sent to
	// authenticated sessions when access control is enabled.
	// Payload: DeviceStatusPayload
	MessageTypeDeviceStatus MessageType = "esp32Status"

	// MessageTypePulseTriggered tells every dashboard a pulse was queued.
	// Payload: none (empty object)
	MessageTypePulseTriggered MessageType = "pulseTriggered"

	// MessageTypeRelayState tells every dashboard the desired relay state.
	// Payload: RelayStatePayload
	MessageTypeRelayState MessageType = "relayState"

	// MessageTypeLoginSuccess confirms a login to the requesting session.
	// Payload: none (empty object)
	MessageTypeLoginSuccess MessageType = "loginSuccess"

	// MessageTypeLoginFail reports a wrong password.
	// Payload: LoginFailPayload
	MessageTypeLoginFail MessageType = "loginFail"

	// MessageTypeLoginBlock reports an active lockout.
	// Payload: LoginBlockPayload
	MessageTypeLoginBlock MessageType = "loginBlock"
)

// Client to server.
const (
	// MessageTypeLoginAttempt submits the shared secret.
	// Payload: LoginAttemptPayload
	MessageTypeLoginAttempt MessageType = "loginAttempt"

	// MessageTypePulseRelay requests a one-shot pulse on the next check-in.
	// Payload: none
	MessageTypePulseRelay MessageType = "pulseRelay"

	// MessageTypeToggleRelay flips the desired relay state.
	// Payload: none
	MessageTypeToggleRelay MessageType = "toggleRelay"

	// MessageTypeControlRelay sets the desired relay state.
	// Payload: ControlRelayPayload
	MessageTypeControlRelay MessageType = "control-relay"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	// Type identifies what kind of message this is.
	Type MessageType `json:"type"`

	// Payload contains the message-specific data.
	// The structure depends on the Type field.
	Payload interface{} `json:"payload"`
}

// incomingMessage is a client message with its payload left raw until the
// type is known.
type incomingMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// InitialStatePayload is the snapshot pushed on connect.
type InitialStatePayload struct {
	Readings state.Readings `json:"readings"`

	// Online and LastSeen are omitted for sessions that may not see liveness.
	Online   *bool  `json:"online,omitempty"`
	LastSeen *int64 `json:"lastSeen,omitempty"`

	RelayState    bool   `json:"relayState"`
	CommandMode   string `json:"commandMode"`
	AuthRequired  bool   `json:"authRequired"`
	Authenticated bool   `json:"authenticated"`
}

// SensorDataPayload carries the full readings map after a check-in.
type SensorDataPayload struct {
	Readings state.Readings `json:"readings"`
}

// DeviceLogPayload carries one device log line.
type DeviceLogPayload struct {
	Line string `json:"line"`
}

// DeviceStatusPayload carries liveness. LastSeen is unix milliseconds and
// null when the device never checked in.
type DeviceStatusPayload struct {
	Online   bool   `json:"online"`
	LastSeen *int64 `json:"lastSeen"`
}

// RelayStatePayload carries the desired relay state.
type RelayStatePayload struct {
	State bool `json:"state"`
}

// LoginFailPayload explains a rejected login.
type LoginFailPayload struct {
	Message string `json:"message"`
}

// LoginBlockPayload explains a lockout.
type LoginBlockPayload struct {
	Message          string `json:"message"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// LoginAttemptPayload is sent by clients to log in.
type LoginAttemptPayload struct {
	Password string `json:"password"`
}

// ControlRelayPayload is sent by clients to set the relay.
// State is a pointer so a missing field can be told apart from false.
type ControlRelayPayload struct {
	State *bool `json:"state"`
}

// unixMillis returns t as unix milliseconds, or nil for the zero time.
func unixMillis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// NewSensorDataMessage creates a sensorData message.
func NewSensorDataMessage(readings state.Readings) Message {
	return Message{
		Type:    MessageTypeSensorData,
		Payload: SensorDataPayload{Readings: readings},
	}
}

// NewDeviceLogMessage creates an esp32log message.
func NewDeviceLogMessage(line string) Message {
	return Message{
		Type:    MessageTypeDeviceLog,
		Payload: DeviceLogPayload{Line: line},
	}
}

// NewDeviceStatusMessage creates an esp32Status message.
func NewDeviceStatusMessage(status liveness.Status) Message {
	return Message{
		Type: MessageTypeDeviceStatus,
		Payload: DeviceStatusPayload{
			Online:   status.Online,
			LastSeen: unixMillis(status.LastSeen),
		},
	}
}

// NewPulseTriggeredMessage creates a pulseTriggered message.
func NewPulseTriggeredMessage() Message {
	return Message{Type: MessageTypePulseTriggered, Payload: struct{}{}}
}

// NewRelayStateMessage creates a relayState message.
func NewRelayStateMessage(on bool) Message {
	return Message{
		Type:    MessageTypeRelayState,
		Payload: RelayStatePayload{State: on},
	}
}

// NewLoginSuccessMessage creates a loginSuccess message.
func NewLoginSuccessMessage() Message {
	return Message{Type: MessageTypeLoginSuccess, Payload: struct{}{}}
}

// NewLoginFailMessage creates a loginFail message.
func NewLoginFailMessage() Message {
	return Message{
		Type:    MessageTypeLoginFail,
		Payload: LoginFailPayload{Message: "Incorrect password."},
	}
}

// NewLoginBlockMessage creates a loginBlock message from a Locked result.
// The message states the remaining time rounded up to whole minutes.
func NewLoginBlockMessage(result auth.Result) Message {
	minutes := result.RemainingMinutes()
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return Message{
		Type: MessageTypeLoginBlock,
		Payload: LoginBlockPayload{
			Message:          fmt.Sprintf("Too many failed attempts. Try again in %d %s.", minutes, unit),
			RemainingSeconds: result.RemainingSeconds(),
		},
	}
}
