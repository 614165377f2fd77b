package lock

import (
	"math/rand"
	"time"
)

// Schedule is a stepped exponential backoff: the base interval doubles every StepEvery
// retries up to Max, and every sleep is jittered by ±Jitter.
type Schedule struct {
	Base      time.Duration
	Max       time.Duration
	StepEvery int
	Jitter    float64

	// rnd returns a value in [0,1). Nil uses math/rand.
	rnd func() float64
}

// DefaultSchedule: 20ms doubling every 5 retries, capped at 320ms, ±20%.
func DefaultSchedule() Schedule {
	return Schedule{
		Base:      20 * time.Millisecond,
		Max:       320 * time.Millisecond,
		StepEvery: 5,
		Jitter:    0.2,
	}
}

// BaseDelay is the un-jittered delay before retry number attempt (0-based).
func (s Schedule) BaseDelay(attempt int) time.Duration {
	base, max := s.Base, s.Max
	if base <= 0 {
		base = 20 * time.Millisecond
	}
	if max < base {
		max = base
	}
	step := s.StepEvery
	if step <= 0 {
		step = 1
	}
	if attempt < 0 {
		attempt = 0
	}

	shifts := attempt / step
	if shifts > 30 {
		return max
	}
	d := base << uint(shifts)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Delay is BaseDelay with jitter applied.
func (s Schedule) Delay(attempt int) time.Duration {
	d := s.BaseDelay(attempt)
	if s.Jitter <= 0 {
		return d
	}
	r := rand.Float64
	if s.rnd != nil {
		r = s.rnd
	}
	factor := 1 + s.Jitter*(2*r()-1)
	return time.Duration(float64(d) * factor)
}
