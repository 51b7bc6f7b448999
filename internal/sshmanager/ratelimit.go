package sshmanager

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/sshrelay/internal/logutil"
)

// Rate limiting defaults. Two independent mechanisms protect upstream hosts
// from password guessing through the relay:
//   - Sliding-window limit: max connect attempts per minute per client.
//   - Consecutive failure block: after N failed handshakes in a row the
//     client is blocked for BlockDuration.
const (
	DefaultMaxAttemptsPerMinute = 10
	DefaultMaxConsecFailures    = 5
	DefaultBlockDuration        = 5 * time.Minute
)

// RateLimitConfig holds configuration for the connect rate limiter. A zero
// MaxAttemptsPerMinute or MaxConsecFailures disables that check.
type RateLimitConfig struct {
	MaxAttemptsPerMinute int
	MaxConsecFailures    int
	BlockDuration        time.Duration
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttemptsPerMinute: DefaultMaxAttemptsPerMinute,
		MaxConsecFailures:    DefaultMaxConsecFailures,
		BlockDuration:        DefaultBlockDuration,
	}
}

// RateLimitError is returned by Allow when an attempt is denied.
type RateLimitError struct {
	Key        string
	Blocked    bool
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("too many failed logins from %s; retry after %s",
			logutil.SanitizeForLog(e.Key), e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s; retry after %s",
		logutil.SanitizeForLog(e.Key), e.RetryAfter)
}

type clientRateState struct {
	attempts       []time.Time
	consecFailures int
	blockedUntil   time.Time
}

// RateLimiter tracks connect attempts per key within a one-minute sliding
// window and blocks keys after repeated failures. It is safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	state  map[string]*clientRateState
	nowFn  func() time.Time
}

// NewRateLimiter creates a new RateLimiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config: config,
		state:  make(map[string]*clientRateState),
		nowFn:  time.Now,
	}
}

// Allow records a connect attempt for key. It returns a *RateLimitError if
// the key is blocked or has used its per-minute budget.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	s := rl.getOrCreateState(key)

	if now.Before(s.blockedUntil) {
		remaining := s.blockedUntil.Sub(now).Truncate(time.Second)
		log.Printf("[ratelimit] %s blocked for %s (consecutive failures: %d)",
			logutil.SanitizeForLog(key), remaining, s.consecFailures)
		return &RateLimitError{Key: key, Blocked: true, RetryAfter: remaining}
	}

	s.attempts = pruneBefore(s.attempts, now.Add(-time.Minute))

	if max := rl.config.MaxAttemptsPerMinute; max > 0 && len(s.attempts) >= max {
		retry := s.attempts[0].Add(time.Minute).Sub(now).Truncate(time.Second)
		log.Printf("[ratelimit] %s exceeded %d attempts/min", logutil.SanitizeForLog(key), max)
		return &RateLimitError{Key: key, RetryAfter: retry}
	}

	s.attempts = append(s.attempts, now)
	return nil
}

// RecordSuccess resets the consecutive failure counter for key.
func (rl *RateLimiter) RecordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	s := rl.getOrCreateState(key)
	s.consecFailures = 0
	s.blockedUntil = time.Time{}
}

// RecordFailure counts a failed handshake for key and blocks it once the
// configured threshold is reached.
func (rl *RateLimiter) RecordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	s := rl.getOrCreateState(key)
	s.consecFailures++

	if max := rl.config.MaxConsecFailures; max > 0 && s.consecFailures >= max {
		s.blockedUntil = now.Add(rl.config.BlockDuration)
		log.Printf("[ratelimit] blocking %s until %s (%d consecutive failures)",
			logutil.SanitizeForLog(key), s.blockedUntil.Format(time.RFC3339), s.consecFailures)
	}
}

// RateLimitStatus is a snapshot of one key's limiter state.
type RateLimitStatus struct {
	RecentAttempts    int        `json:"recent_attempts"`
	MaxAttemptsPerMin int        `json:"max_attempts_per_min"`
	ConsecFailures    int        `json:"consec_failures"`
	MaxConsecFailures int        `json:"max_consec_failures"`
	Blocked           bool       `json:"blocked"`
	BlockedUntil      *time.Time `json:"blocked_until,omitempty"`
}

// Status returns the current limiter state for key.
func (rl *RateLimiter) Status(key string) RateLimitStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	status := RateLimitStatus{
		MaxAttemptsPerMin: rl.config.MaxAttemptsPerMinute,
		MaxConsecFailures: rl.config.MaxConsecFailures,
	}
	s, ok := rl.state[key]
	if !ok {
		return status
	}

	now := rl.nowFn()
	status.RecentAttempts = len(pruneBefore(append([]time.Time(nil), s.attempts...), now.Add(-time.Minute)))
	status.ConsecFailures = s.consecFailures
	if now.Before(s.blockedUntil) {
		bu := s.blockedUntil
		status.Blocked = true
		status.BlockedUntil = &bu
	}
	return status
}

// Prune drops keys with no recent attempts, no failures and no active
// block. It returns the number of keys removed.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	removed := 0
	for key, s := range rl.state {
		s.attempts = pruneBefore(s.attempts, now.Add(-time.Minute))
		if len(s.attempts) == 0 && s.consecFailures == 0 && !now.Before(s.blockedUntil) {
			delete(rl.state, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.state)
}

// Must be called with rl.mu held.
func (rl *RateLimiter) getOrCreateState(key string) *clientRateState {
	s, ok := rl.state[key]
	if !ok {
		s = &clientRateState{}
		rl.state[key] = s
	}
	return s
}

// pruneBefore filters ts in place, keeping entries after cutoff.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
