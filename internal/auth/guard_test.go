package auth

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// fakeClock is a manually advanced clock for lockout tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGuard(clock *fakeClock) *Guard {
	return NewGuard(GuardConfig{
		Secret:  "open-sesame",
		TimeNow: clock.Now,
	})
}

func TestGuard_Accepts(t *testing.T) {
	g := newTestGuard(newFakeClock())

	if !g.Enabled() {
		t.Fatal("guard with a secret should be enabled")
	}
	if res := g.AttemptLogin("open-sesame"); res.Outcome != Accepted {
		t.Errorf("outcome = %v, want accepted", res.Outcome)
	}
}

func TestGuard_CaseSensitive(t *testing.T) {
	g := newTestGuard(newFakeClock())
	if res := g.AttemptLogin("OPEN-SESAME"); res.Outcome != Rejected {
		t.Errorf("outcome = %v, want rejected", res.Outcome)
	}
}

// TestGuard_LockoutSequence walks the full failure, lockout and recovery cycle.
func TestGuard_LockoutSequence(t *testing.T) {
	clock := newFakeClock()
	g := newTestGuard(clock)

	for i := 1; i <= 2; i++ {
		res := g.AttemptLogin("wrong")
		if res.Outcome != Rejected {
			t.Fatalf("attempt %d: outcome = %v, want rejected", i, res.Outcome)
		}
		if g.Failures() != i {
			t.Fatalf("attempt %d: failures = %d, want %d", i, g.Failures(), i)
		}
	}

	res := g.AttemptLogin("wrong")
	if res.Outcome != Locked {
		t.Fatalf("third attempt: outcome = %v, want locked", res.Outcome)
	}
	if res.Remaining != 5*time.Minute {
		t.Errorf("remaining = %v, want 5m", res.Remaining)
	}
	if res.RemainingMinutes() != 5 {
		t.Errorf("RemainingMinutes = %d, want 5", res.RemainingMinutes())
	}
	lockedUntil := g.LockedUntil()
	if !lockedUntil.Equal(clock.Now().Add(5 * time.Minute)) {
		t.Errorf("LockedUntil = %v", lockedUntil)
	}

	// Attempts during lockout are not counted and do not extend the window,
	// even with the correct secret.
	clock.Advance(2*time.Minute + 10*time.Second)
	for _, candidate := range []string{"wrong", "open-sesame"} {
		res = g.AttemptLogin(candidate)
		if res.Outcome != Locked {
			t.Fatalf("attempt with %q during lockout: outcome = %v, want locked", candidate, res.Outcome)
		}
	}
	if g.Failures() != 3 {
		t.Errorf("failures during lockout = %d, want 3 (unchanged)", g.Failures())
	}
	if !g.LockedUntil().Equal(lockedUntil) {
		t.Error("lockout window was extended")
	}
	if res.RemainingMinutes() != 3 {
		t.Errorf("RemainingMinutes = %d, want 3 (2m50s rounded up)", res.RemainingMinutes())
	}

	// After the window the counter is reset and the right secret works.
	clock.Advance(3 * time.Minute)
	if g.Failures() != 0 {
		t.Errorf("failures after expiry = %d, want 0", g.Failures())
	}
	if !g.LockedUntil().IsZero() {
		t.Error("LockedUntil should be zero after expiry")
	}
	if res := g.AttemptLogin("open-sesame"); res.Outcome != Accepted {
		t.Fatalf("outcome after lockout = %v, want accepted", res.Outcome)
	}
	if g.Failures() != 0 {
		t.Errorf("failures after success = %d, want 0", g.Failures())
	}
}

// TestGuard_ExpiryResetsBeforeEvaluating checks that a wrong attempt right
// after expiry starts a new count instead of re-locking immediately.
func TestGuard_ExpiryResetsBeforeEvaluating(t *testing.T) {
	clock := newFakeClock()
	g := newTestGuard(clock)

	for i := 0; i < 3; i++ {
		g.AttemptLogin("wrong")
	}
	clock.Advance(5 * time.Minute)

	if res := g.AttemptLogin("wrong"); res.Outcome != Rejected {
		t.Fatalf("outcome = %v, want rejected", res.Outcome)
	}
	if g.Failures() != 1 {
		t.Errorf("failures = %d, want 1", g.Failures())
	}
}

func TestGuard_SuccessResetsCounter(t *testing.T) {
	g := newTestGuard(newFakeClock())

	g.AttemptLogin("wrong")
	g.AttemptLogin("wrong")
	g.AttemptLogin("open-sesame")
	if g.Failures() != 0 {
		t.Fatalf("failures = %d, want 0", g.Failures())
	}

	// Two more failures must not lock: the count restarted.
	g.AttemptLogin("wrong")
	if res := g.AttemptLogin("wrong"); res.Outcome != Rejected {
		t.Errorf("outcome = %v, want rejected", res.Outcome)
	}
}

func TestGuard_Disabled(t *testing.T) {
	g := NewGuard(GuardConfig{})
	if g.Enabled() {
		t.Fatal("guard without secret should be disabled")
	}
	if res := g.AttemptLogin(""); res.Outcome == Accepted {
		t.Error("empty candidate must not match a missing secret")
	}
}

func TestGuard_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	g := NewGuard(GuardConfig{SecretHash: string(hash), Secret: "ignored"})

	if res := g.AttemptLogin("hunter2"); res.Outcome != Accepted {
		t.Errorf("outcome = %v, want accepted", res.Outcome)
	}
	if res := g.AttemptLogin("ignored"); res.Outcome != Rejected {
		t.Errorf("plain secret must be ignored when a hash is set, got %v", res.Outcome)
	}
}

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("pw")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")) != nil {
		t.Error("hash does not verify")
	}
}

func TestGuard_Recorder(t *testing.T) {
	var outcomes []Outcome
	g := NewGuard(GuardConfig{
		Secret:      "s",
		MaxFailures: 1,
		TimeNow:     newFakeClock().Now,
		Recorder:    func(o Outcome) { outcomes = append(outcomes, o) },
	})

	g.AttemptLogin("x")
	g.AttemptLogin("s")

	if len(outcomes) != 2 || outcomes[0] != Locked || outcomes[1] != Locked {
		t.Errorf("outcomes = %v, want [locked locked]", outcomes)
	}
}

// TestGuard_ConcurrentFailuresLockOnce hammers the guard from many goroutines
// and checks the counter never runs past the threshold.
func TestGuard_ConcurrentFailuresLockOnce(t *testing.T) {
	clock := newFakeClock()
	g := newTestGuard(clock)

	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[Outcome]int{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := g.AttemptLogin("wrong")
			mu.Lock()
			counts[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counts[Rejected] != 2 {
		t.Errorf("rejected = %d, want 2", counts[Rejected])
	}
	if counts[Locked] != 18 {
		t.Errorf("locked = %d, want 18", counts[Locked])
	}
	if g.Failures() != 3 {
		t.Errorf("failures = %d, want 3", g.Failures())
	}
}

func TestResult_Rounding(t *testing.T) {
	tests := []struct {
		remaining   time.Duration
		wantMinutes int
		wantSeconds int
	}{
		{0, 0, 0},
		{time.Second, 1, 1},
		{59 * time.Second, 1, 59},
		{time.Minute, 1, 60},
		{time.Minute + time.Millisecond, 2, 61},
		{5 * time.Minute, 5, 300},
	}
	for _, tt := range tests {
		r := Result{Outcome: Locked, Remaining: tt.remaining}
		if got := r.RemainingMinutes(); got != tt.wantMinutes {
			t.Errorf("RemainingMinutes(%v) = %d, want %d", tt.remaining, got, tt.wantMinutes)
		}
		if got := r.RemainingSeconds(); got != tt.wantSeconds {
			t.Errorf("RemainingSeconds(%v) = %d, want %d", tt.remaining, got, tt.wantSeconds)
		}
	}
}
