// Package state holds the hub's authoritative in-memory device state:
// the latest sensor readings, the pending command slot, the desired relay
// state, the device's last check-in time and recent device log lines.
//
// Every mutation happens under one mutex. Changes are reported to a single
// Listener in the order they were applied, after the mutex is released, so a
// slow listener never holds up a device check-in.
package state

import (
	"log"
	"sync"
	"time"
)

// MergePolicy selects how a check-in's readings combine with stored ones.
type MergePolicy string

const (
	// MergeReplace makes each check-in the whole state: configured channels
	// missing from the payload fall back to unavailable and ad-hoc channels
	// from earlier check-ins are dropped.
	MergeReplace MergePolicy = "replace"

	// MergeMerge overwrites only the channels present in the payload.
	MergeMerge MergePolicy = "merge"
)

// ChangeKind identifies what a Change describes.
type ChangeKind int

const (
	// ChangeCheckIn is emitted for every device check-in.
	ChangeCheckIn ChangeKind = iota

	// ChangeCommandRequested is emitted for every RequestCommand call,
	// including ones that found the slot already set.
	ChangeCommandRequested

	// ChangeRelay is emitted when the desired relay state is set or toggled.
	ChangeRelay
)

// Change describes one applied mutation.
type Change struct {
	Kind ChangeKind

	// Readings is a snapshot taken under the lock (ChangeCheckIn only).
	Readings Readings

	// Log is the check-in's log line, empty when there was none.
	Log string

	// RelayState is the desired relay state after the mutation.
	RelayState bool

	// At is when the mutation was applied.
	At time.Time
}

// Listener receives changes in application order.
//
// StateChanged runs while the store's notify lock is held, and other
// mutators wait for that lock while holding the state lock. Implementations
// must therefore not block, must not call any Store method (reads included),
// and must not wait on a lock whose holder may be calling into the Store.
// Change carries everything a listener needs. Change.Readings is shared and
// must be treated as read-only.
type Listener interface {
	StateChanged(Change)
}

// Config configures a Store.
type Config struct {
	// Channels are reported as unavailable until the device sends them.
	Channels []string

	// MergePolicy defaults to MergeReplace.
	MergePolicy MergePolicy

	// HistoryLines is the number of device log lines retained for replay.
	HistoryLines int

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// CheckInResult is what the device path needs after a check-in.
type CheckInResult struct {
	// Pulse is true when this check-in consumed the pending command.
	Pulse bool

	// RelayState is the desired relay state to echo back to the device.
	RelayState bool

	// Readings is the state after the check-in.
	Readings Readings
}

// Store is the single owned state object shared by all handlers.
type Store struct {
	mu sync.Mutex

	config Config

	readings Readings

	// pending is the single-slot pulse command.
	pending bool

	relay bool

	// lastSeen is zero until the first check-in.
	lastSeen time.Time

	checkIns uint64

	history *LogHistory

	listener Listener

	// notifyMu is taken before mu is released and held while the listener
	// runs, so listeners observe changes in the order they were applied.
	notifyMu sync.Mutex
}

// NewStore creates a store with every configured channel unavailable.
func NewStore(config Config) *Store {
	if config.MergePolicy == "" {
		config.MergePolicy = MergeReplace
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	s := &Store{
		config:  config,
		history: NewLogHistory(config.HistoryLines),
	}
	s.readings = s.baseline()
	return s
}

// baseline returns the configured channels, all unavailable.
func (s *Store) baseline() Readings {
	r := make(Readings, len(s.config.Channels))
	for _, ch := range s.config.Channels {
		r[ch] = Reading{}
	}
	return r
}

// SetListener registers the change listener. Pass nil to detach.
func (s *Store) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// RecordCheckIn applies a device check-in and returns the command to deliver.
//
// Reading the pending slot, clearing it, replacing the readings and stamping
// lastSeen happen under one lock, so a concurrent RequestCommand lands either
// before this check-in (and is delivered now) or after it (and is delivered
// next time), never lost and never delivered twice.
func (s *Store) RecordCheckIn(ci CheckIn) CheckInResult {
	s.mu.Lock()

	now := s.config.TimeNow()

	switch {
	case ci.KeepReadings:
	case s.config.MergePolicy == MergeMerge:
		for name, reading := range ci.Readings {
			s.readings[name] = reading
		}
	default:
		next := s.baseline()
		for name, reading := range ci.Readings {
			next[name] = reading
		}
		s.readings = next
	}

	pulse := s.pending
	s.pending = false
	s.lastSeen = now
	s.checkIns++

	if ci.Log != "" {
		s.history.Write(ci.Log)
	}

	result := CheckInResult{
		Pulse:      pulse,
		RelayState: s.relay,
		Readings:   s.readings.Clone(),
	}
	change := Change{
		Kind:       ChangeCheckIn,
		Readings:   result.Readings,
		Log:        ci.Log,
		RelayState: s.relay,
		At:         now,
	}

	if pulse {
		log.Printf("state: pending command consumed by check-in")
	}

	s.notifyLocked(change)
	return result
}

// RequestCommand sets the pending command. Calling it again before the
// device checks in keeps the single slot set.
func (s *Store) RequestCommand() {
	s.mu.Lock()
	s.pending = true
	change := Change{
		Kind:       ChangeCommandRequested,
		RelayState: s.relay,
		At:         s.config.TimeNow(),
	}
	s.notifyLocked(change)
}

// SetRelay sets the desired relay state.
func (s *Store) SetRelay(on bool) {
	s.mu.Lock()
	s.relay = on
	change := Change{Kind: ChangeRelay, RelayState: on, At: s.config.TimeNow()}
	s.notifyLocked(change)
}

// ToggleRelay flips the desired relay state and returns the new value.
func (s *Store) ToggleRelay() bool {
	s.mu.Lock()
	s.relay = !s.relay
	on := s.relay
	change := Change{Kind: ChangeRelay, RelayState: on, At: s.config.TimeNow()}
	s.notifyLocked(change)
	return on
}

// notifyLocked hands change to the listener. It must be called with s.mu
// held and releases it.
func (s *Store) notifyLocked(change Change) {
	listener := s.listener
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if listener != nil {
		listener.StateChanged(change)
	}
}

// Snapshot returns a copy of the current readings.
func (s *Store) Snapshot() Readings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readings.Clone()
}

// Pending reports whether a command is waiting for the device.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// RelayState returns the desired relay state.
func (s *Store) RelayState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay
}

// LastSeen returns the time of the last check-in, zero if none.
func (s *Store) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// CheckIns returns the number of check-ins since start.
func (s *Store) CheckIns() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkIns
}

// Online reports whether the device checked in less than timeout before now.
// A device that never checked in is offline; exactly timeout ago is offline.
func (s *Store) Online(now time.Time, timeout time.Duration) bool {
	return IsOnline(s.LastSeen(), now, timeout)
}

// IsOnline is the liveness rule on its own.
func IsOnline(lastSeen, now time.Time, timeout time.Duration) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) < timeout
}

// History returns the retained log lines, oldest first.
func (s *Store) History() []string {
	return s.history.Lines()
}
