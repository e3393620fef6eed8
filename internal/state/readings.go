package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Reserved payload keys. Everything else in a check-in body is a sensor channel.
const (
	keyLog    = "log"
	keyRelay  = "relayState"
	keyDevice = "device"
)

// Reading is the latest value of one sensor channel.
// A nil Value means the channel is unavailable.
type Reading struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit,omitempty"`
}

// Available reports whether the reading carries a value.
func (r Reading) Available() bool {
	return r.Value != nil
}

// Float returns the value, or 0 when unavailable.
func (r Reading) Float() float64 {
	if r.Value == nil {
		return 0
	}
	return *r.Value
}

// NewReading builds an available reading.
func NewReading(v float64, unit string) Reading {
	return Reading{Value: &v, Unit: unit}
}

// Readings maps channel name to its latest reading.
type Readings map[string]Reading

// Clone returns a deep copy; values are not shared with the receiver.
func (r Readings) Clone() Readings {
	out := make(Readings, len(r))
	for name, reading := range r {
		if reading.Value != nil {
			v := *reading.Value
			reading.Value = &v
		}
		out[name] = reading
	}
	return out
}

// CheckIn is one decoded device report.
type CheckIn struct {
	// Readings holds every sensor field present in the payload.
	Readings Readings

	// Log is the free-text log line. Whitespace-only lines are dropped.
	Log string

	// Device is an optional device identifier, used only for mirrored events.
	Device string

	// KeepReadings leaves the stored readings untouched under every merge
	// policy. Set for bodies that could not be read or decoded: the device
	// still reached the hub, but the payload says nothing about the sensors.
	KeepReadings bool
}

// DecodeCheckIn parses a device payload.
//
// Decoding is maximally tolerant: fields that cannot be read become
// unavailable readings. An empty body is a check-in that keeps the stored
// readings. An error is returned only when the body is not a JSON object at
// all; the returned CheckIn then also keeps the stored readings and is still
// usable.
func DecodeCheckIn(body []byte) (CheckIn, error) {
	ci := CheckIn{Readings: Readings{}}

	if len(bytes.TrimSpace(body)) == 0 {
		ci.KeepReadings = true
		return ci, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		ci.KeepReadings = true
		return ci, fmt.Errorf("decode check-in: %w", err)
	}

	for key, raw := range fields {
		switch key {
		case keyLog:
			var line string
			if json.Unmarshal(raw, &line) == nil && strings.TrimSpace(line) != "" {
				ci.Log = line
			}
		case keyDevice:
			var id string
			if json.Unmarshal(raw, &id) == nil {
				ci.Device = id
			}
		case keyRelay:
			// Echoed by relay-mode firmware. The hub's desired state is
			// authoritative, so the echo is not a sensor channel.
		default:
			ci.Readings[key] = parseReading(raw)
		}
	}

	return ci, nil
}

// parseReading accepts a number, a numeric string, null, or an object with
// "value" and "unit". Anything else is unavailable.
func parseReading(raw json.RawMessage) Reading {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Reading{}
	}

	if trimmed[0] == '{' {
		var obj struct {
			Value json.RawMessage `json:"value"`
			Unit  string          `json:"unit"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Reading{}
		}
		r := Reading{Unit: obj.Unit}
		r.Value = parseValue(obj.Value)
		return r
	}

	return Reading{Value: parseValue(trimmed)}
}

func parseValue(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	// Unmarshalling null into a float64 is a silent no-op, so catch it first.
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return finite(f)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		return finite(f)
	}

	return nil
}

// finite drops NaN and infinities, which JSON cannot carry to dashboards.
func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
