//go:build !unix

package lock

import "sync"

var guards sync.Map

type guard struct {
	mu *sync.Mutex
}

// lockGuard falls back to an in-process mutex where flock is unavailable.
func lockGuard(path string, block bool) (*guard, bool, error) {
	v, _ := guards.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if block {
		mu.Lock()
		return &guard{mu: mu}, true, nil
	}
	if !mu.TryLock() {
		return nil, false, nil
	}
	return &guard{mu: mu}, true, nil
}

func (g *guard) unlock() { g.mu.Unlock() }

// processAlive cannot be answered portably; assume alive so only TTL on foreign hosts applies.
func processAlive(pid int) bool { return pid > 0 }
