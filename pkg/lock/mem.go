package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemLocker is the in-process variant for single-process deployments and tests.
type MemLocker struct {
	mu    sync.Mutex
	slots map[string]chan string
	obs   Observer
}

func NewMemLocker(obs Observer) *MemLocker {
	return &MemLocker{slots: make(map[string]chan string), obs: obs}
}

func (m *MemLocker) Backend() string { return "memory" }

func (m *MemLocker) slot(path string) chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.slots[path]
	if !ok {
		ch = make(chan string, 1)
		m.slots[path] = ch
	}
	return ch
}

func (m *MemLocker) Acquire(ctx context.Context, path string, timeout time.Duration) (Lease, bool, error) {
	start := time.Now()
	ch := m.slot(path)
	owner := uuid.NewString()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case ch <- owner:
		m.observe(start, true)
		return &memLease{ch: ch, path: path, owner: owner}, true, nil
	case <-t.C:
		m.observe(start, false)
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (m *MemLocker) observe(start time.Time, acquired bool) {
	if m.obs != nil {
		m.obs.RecordLockWait(m.Backend(), time.Since(start).Seconds(), acquired)
	}
}

type memLease struct {
	ch    chan string
	path  string
	owner string
	once  sync.Once
}

func (l *memLease) Path() string  { return l.path }
func (l *memLease) Owner() string { return l.owner }

func (l *memLease) Release() error {
	l.once.Do(func() { <-l.ch })
	return nil
}
