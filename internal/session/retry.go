package session

import (
	"math/rand"
	"time"
)

// RetryPolicy decides how long to wait before reconnect attempt N (1-based).
type RetryPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same interval between every attempt.
type FixedDelay struct {
	Interval time.Duration
}

func (p FixedDelay) Delay(int) time.Duration {
	return p.Interval
}

// ExponentialBackoff grows the delay by Factor per attempt up to Max, with
// optional proportional jitter.
type ExponentialBackoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultExponentialBackoff provides conservative reconnect defaults.
func DefaultExponentialBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
