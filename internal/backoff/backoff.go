// Package backoff provides retry delay strategies. Strategies are
// stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before attempt n (1-indexed; attempt 1 is
// the first retry after the initial failure).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant returns the same delay for every attempt. Job retries use it
// with the owning queue's configured retry delay.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// ExponentialWithJitter returns a random delay in
// [0, min(Initial * 2^(attempt-1), Max)]. Worker loops use it to pause
// after store errors without all loops retrying in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base)
}
