// Package mirror republishes hub activity to NATS so other services can
// follow the device without polling the hub.
//
// Mirroring is fire-and-forget core NATS: no persistence, and a publish
// failure never affects the device or dashboards.
package mirror

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	apperrors "github.com/pulsehub/hub/internal/errors"
	"github.com/pulsehub/hub/internal/ingest"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "pulsehub.device"

// Event types carried in the envelope.
const (
	TypeCheckIn = "checkin"
	TypeCommand = "command"
)

// Envelope wraps every mirrored message.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// CommandEvent is mirrored when a dashboard issues a command.
type CommandEvent struct {
	Kind       string `json:"kind"`
	RelayState bool   `json:"relayState"`
}

// conn is the subset of *nats.Conn the mirror uses.
type conn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// Mirror publishes check-in and command events.
type Mirror struct {
	nc      conn
	subject string

	// timeNow returns the current time. Replaced in tests.
	timeNow func() time.Time
}

// Connect dials NATS and returns a mirror publishing under subject.
// name is shown in NATS monitoring.
func Connect(url, subject, name string) (*Mirror, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.PingInterval(5*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1), // reconnect forever
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("mirror: disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("mirror: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMirrorConnect, "connect to "+url, err)
	}

	log.Printf("mirror: publishing to %s.* on %s", normalizeSubject(subject), nc.ConnectedUrl())
	return newMirror(nc, subject), nil
}

func newMirror(nc conn, subject string) *Mirror {
	return &Mirror{
		nc:      nc,
		subject: normalizeSubject(subject),
		timeNow: time.Now,
	}
}

// normalizeSubject trims stray dots and falls back to DefaultSubject.
func normalizeSubject(subject string) string {
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		return DefaultSubject
	}
	return subject
}

// Subject returns the full subject for an event type.
func (m *Mirror) Subject(eventType string) string {
	return m.subject + "." + eventType
}

// PublishCheckIn mirrors a processed device check-in.
func (m *Mirror) PublishCheckIn(event ingest.Event) error {
	return m.publish(TypeCheckIn, event)
}

// PublishCommand mirrors a dashboard command.
func (m *Mirror) PublishCommand(kind string, relayState bool) error {
	return m.publish(TypeCommand, CommandEvent{Kind: kind, RelayState: relayState})
}

func (m *Mirror) publish(eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeMirrorPublish, "encode "+eventType, err)
	}

	env := Envelope{
		ID:   uuid.NewString(),
		Type: eventType,
		At:   m.timeNow().UTC(),
		Data: raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeMirrorPublish, "encode envelope", err)
	}

	msg := &nats.Msg{
		Subject: m.Subject(eventType),
		Data:    body,
		Header:  make(nats.Header),
	}
	// Lets JetStream consumers deduplicate if the subject is captured by a stream.
	msg.Header.Set(nats.MsgIdHdr, env.ID)

	if err := m.nc.PublishMsg(msg); err != nil {
		return apperrors.Wrap(apperrors.CodeMirrorPublish, "publish "+msg.Subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (m *Mirror) Close() error {
	return m.nc.Drain()
}
