package state

import (
	"sync"
)

// LogHistory is a thread-safe circular buffer of device log lines.
//
// Example with capacity 3:
//
//	Write("A") -> [A, _, _]  head=1, size=1
//	Write("B") -> [A, B, _]  head=2, size=2
//	Write("C") -> [A, B, C]  head=0, size=3 (wrapped!)
//	Write("D") -> [D, B, C]  head=1, size=3 (A was overwritten)
//
// A zero-capacity history accepts writes and keeps nothing.
type LogHistory struct {
	mu sync.RWMutex

	lines []string

	// head points to where the NEXT write will go (not the newest item).
	head int

	// size tracks how many lines are currently stored (0 to cap).
	size int

	cap int
}

// NewLogHistory creates a history holding the last capacity lines.
// Capacity <= 0 disables retention.
func NewLogHistory(capacity int) *LogHistory {
	if capacity < 0 {
		capacity = 0
	}
	return &LogHistory{
		lines: make([]string, capacity),
		cap:   capacity,
	}
}

// Write adds a line, overwriting the oldest when full.
func (h *LogHistory) Write(line string) {
	if h.cap == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lines[h.head] = line
	h.head = (h.head + 1) % h.cap
	if h.size < h.cap {
		h.size++
	}
}

// Lines returns the stored lines from oldest to newest as a new slice.
func (h *LogHistory) Lines() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]string, h.size)
	if h.size == 0 {
		return result
	}

	if h.size < h.cap {
		copy(result, h.lines[:h.size])
	} else {
		// Full: head is the oldest entry.
		for i := 0; i < h.size; i++ {
			result[i] = h.lines[(h.head+i)%h.cap]
		}
	}
	return result
}

// Size returns the current number of lines.
func (h *LogHistory) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity returns the maximum number of lines kept.
func (h *LogHistory) Capacity() int {
	return h.cap
}
