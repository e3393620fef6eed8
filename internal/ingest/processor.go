// Package ingest accepts device check-ins and answers each with the command
// the device should execute next.
//
// A check-in arrives either as the body of POST /data or as a text frame on
// the persistent /device socket. Both paths share one Processor so the
// response contract is identical.
package ingest

import (
	"log"
	"time"

	apperrors "github.com/pulsehub/hub/internal/errors"
	"github.com/pulsehub/hub/internal/state"
)

// Mode selects the response shape sent back to the device.
type Mode string

const (
	// ModePulse answers {"action":"pulse"|"none"}.
	ModePulse Mode = "pulse"

	// ModeRelay answers {"status":"success","relayState":bool,"action":...}.
	ModeRelay Mode = "relay"
)

// Action values.
const (
	ActionPulse = "pulse"
	ActionNone  = "none"
)

// Response is the JSON body returned to the device.
type Response struct {
	Status     string `json:"status,omitempty"`
	Action     string `json:"action"`
	RelayState *bool  `json:"relayState,omitempty"`
}

// Event describes a processed check-in for side channels.
type Event struct {
	Device     string         `json:"device,omitempty"`
	Readings   state.Readings `json:"readings"`
	Log        string         `json:"log,omitempty"`
	Delivered  bool           `json:"delivered"`
	RelayState bool           `json:"relayState"`
	Malformed  bool           `json:"malformed,omitempty"`
	Transport  string         `json:"transport"`
	At         time.Time      `json:"at"`
}

// Recorder counts check-ins. Implemented by the metrics store.
type Recorder interface {
	RecordCheckIn(delivered bool) error
}

// Sink receives every processed check-in. Implemented by the NATS mirror.
type Sink interface {
	PublishCheckIn(Event) error
}

// Options configures a Processor.
type Options struct {
	// Mode defaults to ModePulse.
	Mode Mode

	// Recorder and Sink are optional.
	Recorder Recorder
	Sink     Sink

	// TimeNow returns the current time. Useful for testing.
	TimeNow func() time.Time
}

// Processor turns raw payloads into store updates and device responses.
type Processor struct {
	store *state.Store
	opts  Options
}

// NewProcessor creates a processor bound to store.
func NewProcessor(store *state.Store, opts Options) *Processor {
	if opts.Mode == "" {
		opts.Mode = ModePulse
	}
	if opts.TimeNow == nil {
		opts.TimeNow = time.Now
	}
	return &Processor{store: store, opts: opts}
}

// Mode returns the configured response mode.
func (p *Processor) Mode() Mode {
	return p.opts.Mode
}

// Process applies one check-in and returns the device response. It never
// fails: a body that is not a JSON object still counts as a check-in, because
// the device did reach the hub, but it leaves the stored readings alone.
func (p *Processor) Process(body []byte, transport string) Response {
	ci, err := state.DecodeCheckIn(body)
	if err != nil {
		log.Printf("ingest: %s (%d bytes via %s)", apperrors.Malformed(err).Error(), len(body), transport)
	}
	return p.apply(ci, err != nil, transport)
}

// ProcessUnreadable records a check-in whose body could not be read, for
// example because it exceeded MaxBodyBytes. Readings are kept as they were.
func (p *Processor) ProcessUnreadable(transport string) Response {
	return p.apply(state.CheckIn{KeepReadings: true}, true, transport)
}

func (p *Processor) apply(ci state.CheckIn, malformed bool, transport string) Response {
	result := p.store.RecordCheckIn(ci)

	event := Event{
		Device:     ci.Device,
		Readings:   result.Readings,
		Log:        ci.Log,
		Delivered:  result.Pulse,
		RelayState: result.RelayState,
		Malformed:  malformed,
		Transport:  transport,
		At:         p.opts.TimeNow(),
	}
	p.sideEffects(event)

	return p.respond(result)
}

// respond builds the mode-specific response.
func (p *Processor) respond(result state.CheckInResult) Response {
	action := ActionNone
	if result.Pulse {
		action = ActionPulse
	}

	if p.opts.Mode == ModeRelay {
		relay := result.RelayState
		return Response{Status: "success", Action: action, RelayState: &relay}
	}
	return Response{Action: action}
}

// sideEffects feeds metrics and the mirror. Failures are logged only; the
// device always gets its response.
func (p *Processor) sideEffects(event Event) {
	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.RecordCheckIn(event.Delivered); err != nil {
			log.Printf("ingest: failed to record check-in: %v", err)
		}
	}
	if p.opts.Sink != nil {
		if err := p.opts.Sink.PublishCheckIn(event); err != nil {
			log.Printf("ingest: failed to mirror check-in: %v", err)
		}
	}
}
