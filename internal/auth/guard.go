// Package auth gates dashboard control actions behind a single shared secret.
//
// Failed attempts are counted globally, not per connection: once the
// failure threshold is reached every dashboard is locked out until the
// lockout window ends. The lockout is not extended by attempts made while
// it is active.
package auth

import (
	"crypto/subtle"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Outcome is the result category of a login attempt.
type Outcome int

const (
	// Accepted means the secret matched.
	Accepted Outcome = iota

	// Rejected means the secret did not match and no lockout is active.
	Rejected

	// Locked means logins are suspended; Result.Remaining says for how long.
	Locked
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Result is returned by AttemptLogin.
type Result struct {
	Outcome Outcome

	// Remaining is the time left in the lockout window (Locked only).
	Remaining time.Duration
}

// RemainingMinutes returns Remaining rounded up to whole minutes.
func (r Result) RemainingMinutes() int {
	if r.Remaining <= 0 {
		return 0
	}
	return int((r.Remaining + time.Minute - 1) / time.Minute)
}

// RemainingSeconds returns Remaining rounded up to whole seconds.
func (r Result) RemainingSeconds() int {
	if r.Remaining <= 0 {
		return 0
	}
	return int((r.Remaining + time.Second - 1) / time.Second)
}

// Recorder is an optional callback invoked after every attempt.
type Recorder func(outcome Outcome)

// GuardConfig holds configuration for the guard.
type GuardConfig struct {
	// Secret is the plain shared secret. Compared in constant time.
	Secret string

	// SecretHash is a bcrypt hash of the secret. Used instead of Secret when set.
	SecretHash string

	// MaxFailures is the failure count that triggers a lockout.
	// Default: 3.
	MaxFailures int

	// LockoutDuration is how long a lockout lasts.
	// Default: 5 minutes.
	LockoutDuration time.Duration

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time

	// Recorder, when set, is told the outcome of each attempt.
	Recorder Recorder
}

// Guard evaluates login attempts and tracks the global lockout.
type Guard struct {
	mu sync.Mutex

	config GuardConfig

	// failures counts consecutive failed attempts since the last success
	// or lockout expiry.
	failures int

	// lockedUntil is zero when no lockout is active or pending cleanup.
	lockedUntil time.Time
}

// NewGuard creates a guard with defaults applied.
func NewGuard(config GuardConfig) *Guard {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 3
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 5 * time.Minute
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &Guard{config: config}
}

// Enabled reports whether a secret is configured. A disabled guard means
// every dashboard session starts authenticated.
func (g *Guard) Enabled() bool {
	return g.config.Secret != "" || g.config.SecretHash != ""
}

// AttemptLogin checks candidate against the shared secret.
//
// During an active lockout the attempt is answered Locked without being
// counted. Once the lockout has expired the counter starts again from zero.
// The threshold-reaching failure itself returns Locked with the full window.
func (g *Guard) AttemptLogin(candidate string) Result {
	result := g.attempt(candidate)
	if g.config.Recorder != nil {
		g.config.Recorder(result.Outcome)
	}
	return result
}

func (g *Guard) attempt(candidate string) Result {
	// bcrypt is slow, so hash before taking the lock. The comparison result
	// does not depend on guard state.
	match := g.matches(candidate)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.config.TimeNow()

	if !g.lockedUntil.IsZero() {
		if now.Before(g.lockedUntil) {
			log.Printf("auth: login attempt during lockout (%s remaining)", g.lockedUntil.Sub(now).Round(time.Second))
			return Result{Outcome: Locked, Remaining: g.lockedUntil.Sub(now)}
		}
		g.lockedUntil = time.Time{}
		g.failures = 0
	}

	if match {
		g.failures = 0
		log.Printf("auth: login accepted")
		return Result{Outcome: Accepted}
	}

	g.failures++
	if g.failures >= g.config.MaxFailures {
		g.lockedUntil = now.Add(g.config.LockoutDuration)
		log.Printf("auth: %d failed logins, locked until %s", g.failures, g.lockedUntil.Format(time.RFC3339))
		return Result{Outcome: Locked, Remaining: g.config.LockoutDuration}
	}

	log.Printf("auth: login rejected (%d/%d)", g.failures, g.config.MaxFailures)
	return Result{Outcome: Rejected}
}

// matches compares candidate with the configured secret.
func (g *Guard) matches(candidate string) bool {
	if g.config.SecretHash != "" {
		err := bcrypt.CompareHashAndPassword([]byte(g.config.SecretHash), []byte(candidate))
		if err != nil && err != bcrypt.ErrMismatchedHashAndPassword {
			log.Printf("auth: configured password hash is unusable: %v", err)
		}
		return err == nil
	}
	if g.config.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.config.Secret)) == 1
}

// Failures returns the current failure count. Once a lockout has expired
// the count reads as zero.
func (g *Guard) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.lockedUntil.IsZero() && !g.config.TimeNow().Before(g.lockedUntil) {
		return 0
	}
	return g.failures
}

// LockedUntil returns the end of the active lockout, or zero.
func (g *Guard) LockedUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lockedUntil.IsZero() || !g.config.TimeNow().Before(g.lockedUntil) {
		return time.Time{}
	}
	return g.lockedUntil
}

// HashSecret returns a bcrypt hash suitable for the password_hash setting.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
