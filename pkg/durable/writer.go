// Package durable persists blobs with tmp-file + fsync + atomic rename so readers only ever
// see a complete previous or complete new version of a path.
package durable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	applogger "FinStore/pkg/logger"
)

// Criticality decides what happens when retries are exhausted.
type Criticality int

const (
	// Critical failures are returned to the caller as fatal.
	Critical Criticality = iota
	// BestEffort failures are logged and reported as ErrDegraded.
	BestEffort
)

func (c Criticality) String() string {
	if c == BestEffort {
		return "best_effort"
	}
	return "critical"
}

// ParseCriticality maps config values to a Criticality.
func ParseCriticality(s string) (Criticality, error) {
	switch s {
	case "", "critical":
		return Critical, nil
	case "best_effort", "best-effort", "besteffort":
		return BestEffort, nil
	default:
		return Critical, fmt.Errorf("unknown criticality %q", s)
	}
}

// ErrDegraded is returned when a best-effort write gave up. Callers continue.
var ErrDegraded = errors.New("durable: best-effort write skipped")

// WriteError is returned when a critical write exhausted its retries.
type WriteError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("durable write %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Fatal reports that the caller must not proceed.
func (e *WriteError) Fatal() bool { return true }

// Observer receives per-attempt outcomes.
type Observer interface {
	RecordWriteAttempt(criticality string, ok bool)
}

// WriterOption configures Writer.
type WriterOption func(*WriterConfig)

// WriterConfig holds writer configuration.
type WriterConfig struct {
	Attempts int
	Delay    time.Duration
	FileMode os.FileMode
	FS       FS
	Logger   *applogger.Logger
	Observer Observer
}

// WithRetry sets the attempt bound and the fixed delay between attempts.
func WithRetry(attempts int, delay time.Duration) WriterOption {
	return func(c *WriterConfig) {
		if attempts > 0 {
			c.Attempts = attempts
		}
		if delay >= 0 {
			c.Delay = delay
		}
	}
}

// WithFS swaps the filesystem implementation.
func WithFS(fs FS) WriterOption {
	return func(c *WriterConfig) {
		c.FS = fs
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) WriterOption {
	return func(c *WriterConfig) {
		c.Logger = l
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) WriterOption {
	return func(c *WriterConfig) {
		c.Observer = o
	}
}

// WithFileMode sets the permission bits of written files.
func WithFileMode(mode os.FileMode) WriterOption {
	return func(c *WriterConfig) {
		c.FileMode = mode
	}
}

// Writer performs atomic, retried writes.
type Writer struct {
	cfg *WriterConfig
}

// NewWriter creates a Writer. Defaults: 3 attempts, 100ms fixed delay, 0644.
func NewWriter(opts ...WriterOption) *Writer {
	cfg := &WriterConfig{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
		FileMode: 0o644,
		FS:       OSFS{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}
	return &Writer{cfg: cfg}
}

// Write atomically replaces path with payload.
func (w *Writer) Write(ctx context.Context, path string, payload []byte, crit Criticality) error {
	attempts := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := w.writeOnce(path, payload)
		if w.cfg.Observer != nil {
			w.cfg.Observer.RecordWriteAttempt(crit.String(), err == nil)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.cfg.Logger.Debug("durable write attempt failed",
			applogger.String("path", path),
			applogger.Int("attempt", attempts),
			applogger.Duration("retry_in_ms", next),
			applogger.Error(err),
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.Delay), uint64(w.cfg.Attempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		if attempts > 1 {
			w.cfg.Logger.Info("durable write succeeded after retry",
				applogger.String("path", path),
				applogger.Int("attempts", attempts),
			)
		}
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("durable write %s: %w", path, err)
	}

	if crit == BestEffort {
		w.cfg.Logger.Warn("best-effort write failed, continuing degraded",
			applogger.String("path", path),
			applogger.Int("attempts", attempts),
			applogger.Error(err),
		)
		return fmt.Errorf("%w: %s: %v", ErrDegraded, path, err)
	}

	w.cfg.Logger.Error("critical write failed",
		applogger.String("path", path),
		applogger.Int("attempts", attempts),
		applogger.Error(err),
	)
	return &WriteError{Path: path, Attempts: attempts, Err: err}
}

func (w *Writer) writeOnce(path string, payload []byte) (err error) {
	fs := w.cfg.FS
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := fs.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if err != nil {
			if !closed {
				_ = tmp.Close()
			}
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(payload); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if mf, ok := fs.(interface {
		Chmod(string, os.FileMode) error
	}); ok {
		if err = mf.Chmod(tmpPath, w.cfg.FileMode); err != nil {
			return fmt.Errorf("chmod temp: %w", err)
		}
	}
	if err = fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	// The rename is committed; a failed directory sync is not a reason to retry.
	if serr := fs.SyncDir(dir); serr != nil {
		w.cfg.Logger.Debug("dir sync failed", applogger.String("dir", dir), applogger.Error(serr))
	}
	return nil
}
