package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	applogger "FinStore/pkg/logger"
)

const (
	sentinelSuffix = ".lock"
	guardSuffix    = ".lock.guard"
)

// FileOption configures FileLocker.
type FileOption func(*FileConfig)

// FileConfig holds FileLocker configuration.
type FileConfig struct {
	TTL      time.Duration
	Schedule Schedule
	Logger   *applogger.Logger
	Observer Observer
	Now      func() time.Time
}

// WithTTL sets the age after which a sentinel with a dead holder is reclaimed.
func WithTTL(ttl time.Duration) FileOption {
	return func(c *FileConfig) {
		if ttl > 0 {
			c.TTL = ttl
		}
	}
}

// WithSchedule sets the retry schedule.
func WithSchedule(s Schedule) FileOption {
	return func(c *FileConfig) {
		c.Schedule = s
	}
}

// WithLogger sets the logger used for stale reclamation warnings.
func WithLogger(l *applogger.Logger) FileOption {
	return func(c *FileConfig) {
		c.Logger = l
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) FileOption {
	return func(c *FileConfig) {
		c.Observer = o
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) FileOption {
	return func(c *FileConfig) {
		c.Now = now
	}
}

// FileLocker coordinates processes through a sentinel file created with O_EXCL next to the
// protected resource. The sentinel holds the Holder record as JSON.
type FileLocker struct {
	cfg  *FileConfig
	host string
}

// NewFileLocker creates a FileLocker. Default TTL is 60s.
func NewFileLocker(opts ...FileOption) *FileLocker {
	cfg := &FileConfig{
		TTL:      60 * time.Second,
		Schedule: DefaultSchedule(),
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}
	host, _ := os.Hostname()
	return &FileLocker{cfg: cfg, host: host}
}

func (l *FileLocker) Backend() string { return "file" }

// SentinelPath returns the sentinel file guarding path.
func SentinelPath(path string) string { return path + sentinelSuffix }

// Acquire polls for the sentinel until timeout, reclaiming it when stale.
func (l *FileLocker) Acquire(ctx context.Context, path string, timeout time.Duration) (Lease, bool, error) {
	sentinel := SentinelPath(path)
	if err := os.MkdirAll(filepath.Dir(sentinel), 0o755); err != nil {
		return nil, false, fmt.Errorf("lock dir: %w", err)
	}

	start := time.Now()
	deadline := start.Add(timeout)
	owner := uuid.NewString()

	for attempt := 0; ; attempt++ {
		holder := newHolder(owner, l.cfg.TTL, l.cfg.Now())
		ok, err := l.tryCreate(sentinel, holder)
		if err != nil {
			return nil, false, err
		}
		if ok {
			l.observe(start, true)
			return &fileLease{locker: l, path: path, sentinel: sentinel, owner: owner}, true, nil
		}

		reclaimed, err := l.reclaimIfStale(sentinel)
		if err != nil {
			l.cfg.Logger.Debug("stale check failed", applogger.String("sentinel", sentinel), applogger.Error(err))
		}
		if reclaimed {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.observe(start, false)
			return nil, false, nil
		}
		sleep := l.cfg.Schedule.Delay(attempt)
		if sleep > remaining {
			sleep = remaining
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return nil, false, err
		}
	}
}

func (l *FileLocker) observe(start time.Time, acquired bool) {
	if l.cfg.Observer != nil {
		l.cfg.Observer.RecordLockWait(l.Backend(), time.Since(start).Seconds(), acquired)
	}
}

func (l *FileLocker) tryCreate(sentinel string, h Holder) (bool, error) {
	f, err := os.OpenFile(sentinel, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create sentinel: %w", err)
	}

	b, _ := json.Marshal(h)
	_, werr := f.Write(b)
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(sentinel)
		return false, fmt.Errorf("write sentinel: %w", werr)
	}
	return true, nil
}

// Inspect reads the sentinel guarding path. exists is false when the resource is unlocked.
func (l *FileLocker) Inspect(path string) (h Holder, stale bool, exists bool, err error) {
	sentinel := SentinelPath(path)
	h, err = readHolder(sentinel)
	if errors.Is(err, fs.ErrNotExist) {
		return Holder{}, false, false, nil
	}
	if err != nil {
		return Holder{}, false, true, err
	}
	return h, l.isStale(h), true, nil
}

func (l *FileLocker) isStale(h Holder) bool {
	if h.Age(l.cfg.Now()) <= l.cfg.TTL {
		return false
	}
	if h.Host == l.host {
		return !processAlive(h.PID)
	}
	// liveness on another host is unknowable; age alone decides.
	return true
}

// reclaimIfStale removes the sentinel when its holder is stale. The check and the removal run
// under the guard flock so two waiters cannot both reclaim, and a fresh sentinel created in
// between is never removed.
func (l *FileLocker) reclaimIfStale(sentinel string) (bool, error) {
	g, ok, err := lockGuard(sentinel[:len(sentinel)-len(sentinelSuffix)]+guardSuffix, false)
	if err != nil || !ok {
		return false, err
	}
	defer g.unlock()

	h, err := readHolder(sentinel)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !l.isStale(h) {
		return false, nil
	}
	if err := os.Remove(sentinel); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove stale sentinel: %w", err)
	}

	l.cfg.Logger.Warn("reclaimed stale lock",
		applogger.String("sentinel", sentinel),
		applogger.String("holder", h.Owner),
		applogger.Int("holder_pid", h.PID),
		applogger.String("holder_host", h.Host),
		applogger.Duration("age_ms", h.Age(l.cfg.Now())),
		applogger.Duration("ttl_ms", l.cfg.TTL),
	)
	if l.cfg.Observer != nil {
		l.cfg.Observer.RecordStaleReclaim()
	}
	return true, nil
}

// readHolder parses a sentinel. A sentinel that cannot be parsed (for example a crash between
// create and write) is described by its mtime and an unknown pid.
func readHolder(sentinel string) (Holder, error) {
	b, err := os.ReadFile(sentinel)
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	if jerr := json.Unmarshal(b, &h); jerr == nil && !h.AcquiredAt.IsZero() {
		return h, nil
	}
	info, err := os.Stat(sentinel)
	if err != nil {
		return Holder{}, err
	}
	return Holder{AcquiredAt: info.ModTime()}, nil
}

type fileLease struct {
	locker   *FileLocker
	path     string
	sentinel string
	owner    string

	once sync.Once
	err  error
}

func (f *fileLease) Path() string  { return f.path }
func (f *fileLease) Owner() string { return f.owner }

// Release removes the sentinel only if it still names this lease.
func (f *fileLease) Release() error {
	f.once.Do(func() {
		g, _, err := lockGuard(f.path+guardSuffix, true)
		if err != nil {
			f.err = err
			return
		}
		defer g.unlock()

		h, err := readHolder(f.sentinel)
		if errors.Is(err, fs.ErrNotExist) {
			f.err = ErrLeaseLost
			return
		}
		if err != nil {
			f.err = err
			return
		}
		if h.Owner != f.owner {
			f.err = ErrLeaseLost
			return
		}
		if err := os.Remove(f.sentinel); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.err = fmt.Errorf("remove sentinel: %w", err)
		}
	})
	return f.err
}
