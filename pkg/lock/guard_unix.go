//go:build unix

package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// guard is an exclusive flock held only while a sentinel is inspected and removed.
type guard struct {
	f *os.File
}

func lockGuard(path string, block bool) (*guard, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open guard: %w", err)
	}

	how := unix.LOCK_EX
	if !block {
		how |= unix.LOCK_NB
	}
	for {
		err = unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock guard: %w", err)
	}
	return &guard{f: f}, true, nil
}

func (g *guard) unlock() {
	_ = unix.Flock(int(g.f.Fd()), unix.LOCK_UN)
	_ = g.f.Close()
}

// processAlive reports whether pid exists on this host. EPERM means it exists but belongs to
// another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
