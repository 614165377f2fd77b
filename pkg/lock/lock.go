// Package lock provides bounded-wait mutual exclusion over named resources, across processes
// (sentinel files, Redis) or inside one process (MemLocker).
package lock

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrLeaseLost is returned by Release when the sentinel no longer names this lease's owner,
// typically because it was reclaimed as stale.
var ErrLeaseLost = errors.New("lock: lease lost")

// Locker acquires exclusive leases on resource paths.
//
// Acquire returns (nil, false, nil) when timeout elapses without acquiring. That outcome is
// expected under contention and is not an error. Errors are reserved for real failures and
// context cancellation.
type Locker interface {
	Acquire(ctx context.Context, path string, timeout time.Duration) (Lease, bool, error)
	Backend() string
}

// Lease is a held lock.
type Lease interface {
	Path() string
	Owner() string
	Release() error
}

// Holder is the identity recorded by the process holding a lock.
type Holder struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
	TTLSeconds float64   `json:"ttl_seconds"`
}

// Age reports how long the holder has held the lock as of now.
func (h Holder) Age(now time.Time) time.Duration {
	return now.Sub(h.AcquiredAt)
}

// Observer receives lock wait outcomes.
type Observer interface {
	RecordLockWait(backend string, seconds float64, acquired bool)
	RecordStaleReclaim()
}

func newHolder(owner string, ttl time.Duration, now time.Time) Holder {
	host, _ := os.Hostname()
	return Holder{
		Owner:      owner,
		PID:        os.Getpid(),
		Host:       host,
		AcquiredAt: now.UTC(),
		TTLSeconds: ttl.Seconds(),
	}
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
