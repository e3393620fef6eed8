// Package liveness periodically derives whether the device is online from
// the time of its last check-in and pushes the result to dashboards.
package liveness

import (
	"context"
	"log"
	"sync"
	"time"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 12 * time.Second
)

// Source reports when the device last checked in. Zero means never.
type Source interface {
	LastSeen() time.Time
}

// Publisher receives each evaluation. The hub decides which dashboard
// sessions get to see it.
type Publisher interface {
	PublishLiveness(Status)
}

// Status is one liveness evaluation.
type Status struct {
	Online bool `json:"online"`

	// LastSeen is the last check-in time; zero if the device never checked in.
	LastSeen time.Time `json:"-"`

	// CheckedAt is when the evaluation ran.
	CheckedAt time.Time `json:"-"`
}

// SecondsSinceSeen returns how long ago the device was seen, or -1 if never.
func (s Status) SecondsSinceSeen() int64 {
	if s.LastSeen.IsZero() {
		return -1
	}
	return int64(s.CheckedAt.Sub(s.LastSeen) / time.Second)
}

// Config configures a Monitor.
type Config struct {
	// Interval between evaluations. Default: 5s.
	Interval time.Duration

	// Timeout is the maximum check-in age that still counts as online.
	// At or beyond it the device is offline. Default: 12s.
	Timeout time.Duration

	// TimeNow returns the current time. Useful for testing.
	TimeNow func() time.Time
}

// Monitor evaluates liveness on a fixed interval.
type Monitor struct {
	config    Config
	source    Source
	publisher Publisher

	// checkMu makes evaluations non-reentrant.
	checkMu sync.Mutex

	// statusMu guards last.
	statusMu sync.RWMutex
	last     Status
}

// New creates a monitor. Call Run to start ticking.
func New(config Config, source Source, publisher Publisher) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &Monitor{
		config:    config,
		source:    source,
		publisher: publisher,
	}
}

// Run evaluates liveness every interval until ctx is cancelled.
// Ticks are handled on this goroutine, so a slow evaluation makes the
// ticker drop ticks instead of piling them up.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	log.Printf("liveness: monitor started (interval %s, timeout %s)", m.config.Interval, m.config.Timeout)
	for {
		select {
		case <-ctx.Done():
			log.Printf("liveness: monitor stopped")
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check runs one evaluation and publishes it. If another evaluation is in
// progress it returns false without doing anything.
func (m *Monitor) Check() bool {
	if !m.checkMu.TryLock() {
		return false
	}
	defer m.checkMu.Unlock()

	status := m.Evaluate()

	m.statusMu.Lock()
	changed := m.last.Online != status.Online || m.last.CheckedAt.IsZero()
	m.last = status
	m.statusMu.Unlock()

	if changed {
		if status.Online {
			log.Printf("liveness: device online")
		} else {
			log.Printf("liveness: device offline")
		}
	}

	if m.publisher != nil {
		m.publisher.PublishLiveness(status)
	}
	return true
}

// Evaluate computes the current status without publishing it.
func (m *Monitor) Evaluate() Status {
	now := m.config.TimeNow()
	lastSeen := m.source.LastSeen()
	online := !lastSeen.IsZero() && now.Sub(lastSeen) < m.config.Timeout
	return Status{Online: online, LastSeen: lastSeen, CheckedAt: now}
}

// Last returns the most recent published evaluation.
func (m *Monitor) Last() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.last
}

// Timeout returns the configured timeout.
func (m *Monitor) Timeout() time.Duration {
	return m.config.Timeout
}
