package state

import (
	"fmt"
	"sync"
	"testing"
)

func TestLogHistory_WrapAround(t *testing.T) {
	h := NewLogHistory(3)

	for _, line := range []string{"A", "B", "C", "D"} {
		h.Write(line)
	}

	lines := h.Lines()
	want := []string{"B", "C", "D"}
	if len(lines) != len(want) {
		t.Fatalf("len = %d, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
	if h.Size() != 3 || h.Capacity() != 3 {
		t.Errorf("size/cap = %d/%d", h.Size(), h.Capacity())
	}
}

func TestLogHistory_PartiallyFilled(t *testing.T) {
	h := NewLogHistory(5)
	h.Write("one")
	h.Write("two")

	lines := h.Lines()
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("Lines = %v", lines)
	}
}

func TestLogHistory_Disabled(t *testing.T) {
	for _, capacity := range []int{0, -4} {
		h := NewLogHistory(capacity)
		h.Write("dropped")
		if h.Size() != 0 || len(h.Lines()) != 0 {
			t.Errorf("capacity %d: history should keep nothing", capacity)
		}
	}
}

func TestLogHistory_Concurrent(t *testing.T) {
	h := NewLogHistory(100)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Write(fmt.Sprintf("%d-%d", n, j))
				_ = h.Lines()
			}
		}(i)
	}
	wg.Wait()

	if h.Size() != 100 {
		t.Errorf("Size = %d, want 100", h.Size())
	}
}
