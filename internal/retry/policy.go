package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy controls how many attempts Do makes and how long it waits between
// them. Policies are immutable; build them with NewPolicy.
type Policy struct {
	maxAttempts   int
	baseDelay     time.Duration
	backoffFactor float64
	maxDelay      time.Duration
}

// NewPolicy validates and returns a policy. maxDelay caps individual delays;
// zero leaves them uncapped.
func NewPolicy(maxAttempts int, baseDelay time.Duration, backoffFactor float64, maxDelay time.Duration) (Policy, error) {
	if maxAttempts < 1 {
		return Policy{}, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidPolicy, maxAttempts)
	}
	if baseDelay <= 0 {
		return Policy{}, fmt.Errorf("%w: base delay must be positive, got %s", ErrInvalidPolicy, baseDelay)
	}
	if backoffFactor <= 0 || math.IsNaN(backoffFactor) || math.IsInf(backoffFactor, 0) {
		return Policy{}, fmt.Errorf("%w: backoff factor must be positive, got %v", ErrInvalidPolicy, backoffFactor)
	}
	if maxDelay < 0 {
		return Policy{}, fmt.Errorf("%w: max delay cannot be negative, got %s", ErrInvalidPolicy, maxDelay)
	}

	return Policy{
		maxAttempts:   maxAttempts,
		baseDelay:     baseDelay,
		backoffFactor: backoffFactor,
		maxDelay:      maxDelay,
	}, nil
}

// MustPolicy is NewPolicy for package-level defaults and tests.
func MustPolicy(maxAttempts int, baseDelay time.Duration, backoffFactor float64, maxDelay time.Duration) Policy {
	p, err := NewPolicy(maxAttempts, baseDelay, backoffFactor, maxDelay)
	if err != nil {
		panic(err)
	}
	return p
}

// DefaultPolicy returns three attempts starting at two seconds, doubling.
func DefaultPolicy() Policy {
	return MustPolicy(3, 2*time.Second, 2, time.Minute)
}

// MaxAttempts returns the attempt budget, including the first attempt.
func (p Policy) MaxAttempts() int { return p.maxAttempts }

// BaseDelay returns the delay before the first retry.
func (p Policy) BaseDelay() time.Duration { return p.baseDelay }

// BackoffFactor returns the per-attempt delay multiplier.
func (p Policy) BackoffFactor() float64 { return p.backoffFactor }

// MaxDelay returns the delay cap, zero when uncapped.
func (p Policy) MaxDelay() time.Duration { return p.maxDelay }

// Delay returns baseDelay * backoffFactor^attemptIndex for a 0-indexed
// attempt, capped by MaxDelay when set.
func (p Policy) Delay(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	d := float64(p.baseDelay) * math.Pow(p.backoffFactor, float64(attemptIndex))
	delay := time.Duration(math.MaxInt64)
	if d < math.MaxInt64 {
		delay = time.Duration(d)
	}
	if p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

// IsZero reports whether p was never built with NewPolicy.
func (p Policy) IsZero() bool {
	return p.maxAttempts == 0
}
