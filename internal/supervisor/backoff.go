package supervisor

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// Backoff computes reconnect delays.
//
//	Delay(n) = min(Base * 2^n, Max) + U[0, min(Base * 2^n, Max) / 2]
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Ceiling returns the delay for attempt n before jitter.
func (b Backoff) Ceiling(attempt int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Delay returns the jittered delay for attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Ceiling(attempt)
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return d + time.Duration(r()*float64(d/2))
}
