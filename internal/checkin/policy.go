package checkin

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls how long the refresher waits between failed attempts
// and when it stops triggering new ones on its own
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay, 0.1 means +/-10%
	MaxAttempts int     // consecutive failures before giving up, 0 means unbounded
}

// DefaultRetryPolicy returns a retry policy with sensible defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   30 * time.Second,
		MaxDelay:    30 * time.Minute,
		Multiplier:  2,
		Jitter:      0.1,
		MaxAttempts: 8,
	}
}

// Validate checks the policy for nonsensical values
func (p RetryPolicy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive")
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry max delay must not be less than base delay")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("retry jitter must be in [0, 1)")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must not be negative")
	}
	return nil
}

// Delay returns the wait after the given number of consecutive failures.
// No failures means no wait.
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}

	// BaseDelay * Multiplier^(failures-1), capped at MaxDelay
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(failures-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		delay += delay * p.Jitter * (rand.Float64()*2 - 1)
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Exhausted reports whether the given number of consecutive failures reached the ceiling
func (p RetryPolicy) Exhausted(failures int) bool {
	return p.MaxAttempts > 0 && failures >= p.MaxAttempts
}
