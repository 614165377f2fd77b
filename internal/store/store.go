// Package store is the single write entry point for rolling store resources. Update composes
// the lock, the validation gate and the durable writer; Read and Stream never lock.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/internal/domain/repository"
	"FinStore/internal/validation"
	"FinStore/pkg/durable"
	"FinStore/pkg/lock"
	applogger "FinStore/pkg/logger"
)

var (
	// ErrAbsent means the resource has never been written.
	ErrAbsent = errors.New("store: resource absent")
	// ErrUnknownResource means the name is not registered.
	ErrUnknownResource = errors.New("store: unknown resource")
	// ErrConcurrentWriter means a lock-free resource changed on disk during an update.
	ErrConcurrentWriter = errors.New("store: concurrent writer on lock-free resource")
)

// Status is the outcome of Update.
type Status string

const (
	Committed Status = "committed"
	Busy      Status = "busy"
	Rejected  Status = "rejected"
	Degraded  Status = "degraded"
	Unchanged Status = "unchanged"
	Failed    Status = "failed"
)

// Result describes one Update call.
type Result struct {
	Resource string
	Status   Status
	Version  int64
	Records  int
	Waited   time.Duration
}

// Mutator receives a private copy of the current state and returns the proposed next state.
// Returning nil leaves the resource untouched.
type Mutator func(current *models.RollingState) (*models.RollingState, error)

// Resource is a registered rolling store resource.
type Resource struct {
	Name         string
	Path         string
	LockRequired bool
	Criticality  durable.Criticality
	Validate     bool
}

// Observer receives update outcomes.
type Observer interface {
	RecordUpdate(resource, status string)
}

type resource struct {
	Resource
	// mu serializes in-process updates of lock-free resources.
	mu sync.Mutex
}

// Option configures Store.
type Option func(*Store)

func WithLocker(l lock.Locker) Option { return func(s *Store) { s.locker = l } }
func WithWriter(w *durable.Writer) Option { return func(s *Store) { s.writer = w } }
func WithGate(g *validation.Gate) Option { return func(s *Store) { s.gate = g } }
func WithLockTimeout(d time.Duration) Option { return func(s *Store) { s.lockTimeout = d } }
func WithLogger(l *applogger.Logger) Option { return func(s *Store) { s.logger = l } }
func WithObserver(o Observer) Option { return func(s *Store) { s.obs = o } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }
func WithEvents(p repository.EventPublisher) Option {
	return func(s *Store) { s.events = p }
}

// Store holds the registered resources.
type Store struct {
	resources   map[string]*resource
	locker      lock.Locker
	writer      *durable.Writer
	gate        *validation.Gate
	lockTimeout time.Duration
	events      repository.EventPublisher
	obs         Observer
	logger      *applogger.Logger
	now         func() time.Time
	host        string
}

// New registers resources. Names and paths must be unique.
func New(resources []Resource, opts ...Option) (*Store, error) {
	s := &Store{
		resources:   make(map[string]*resource, len(resources)),
		lockTimeout: 5 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = applogger.Nop()
	}
	if s.locker == nil {
		s.locker = lock.NewFileLocker(lock.WithLogger(s.logger))
	}
	if s.writer == nil {
		s.writer = durable.NewWriter(durable.WithLogger(s.logger))
	}
	if s.gate == nil {
		s.gate = validation.NewGate(0, nil)
	}
	if s.events == nil {
		s.events = repository.NopEvents{}
	}
	s.host, _ = os.Hostname()

	paths := make(map[string]string, len(resources))
	for _, r := range resources {
		if r.Name == "" || r.Path == "" {
			return nil, fmt.Errorf("resource %q: name and path are required", r.Name)
		}
		if _, dup := s.resources[r.Name]; dup {
			return nil, fmt.Errorf("resource %q registered twice", r.Name)
		}
		if other, dup := paths[r.Path]; dup {
			return nil, fmt.Errorf("resources %q and %q share path %s", other, r.Name, r.Path)
		}
		paths[r.Path] = r.Name
		s.resources[r.Name] = &resource{Resource: r}
	}
	return s, nil
}

// Resource returns the registration for name.
func (s *Store) Resource(name string) (Resource, error) {
	r, err := s.lookup(name)
	if err != nil {
		return Resource{}, err
	}
	return r.Resource, nil
}

// Resources lists registrations sorted by name.
func (s *Store) Resources() []Resource {
	out := make([]Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r.Resource)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) lookup(name string) (*resource, error) {
	r, ok := s.resources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return r, nil
}

// Read returns the last committed state of name.
func (s *Store) Read(ctx context.Context, name string) (*models.RollingState, error) {
	r, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readState(r.Path)
}

func readState(path string) (*models.RollingState, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	state, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return state, nil
}

// Update runs mutator against the current state and commits the result.
//
// Lock timeout yields Busy with a nil error. A gate rejection yields Rejected together with the
// *validation.RejectionError. Exhausted best-effort writes yield Degraded with a nil error;
// exhausted critical writes return the *durable.WriteError.
func (s *Store) Update(ctx context.Context, name string, mutate Mutator) (Result, error) {
	r, err := s.lookup(name)
	if err != nil {
		return Result{Resource: name, Status: Failed}, err
	}
	res := Result{Resource: name}

	start := time.Now()
	if r.LockRequired {
		lease, ok, err := s.locker.Acquire(ctx, r.Path, s.lockTimeout)
		res.Waited = time.Since(start)
		if err != nil {
			return s.finish(res, Failed), fmt.Errorf("lock %s: %w", name, err)
		}
		if !ok {
			s.logger.Info("resource busy, skipping update",
				applogger.String("resource", name),
				applogger.Duration("waited_ms", res.Waited),
			)
			return s.finish(res, Busy), nil
		}
		defer func() {
			if err := lease.Release(); err != nil {
				s.logger.Warn("lock release failed",
					applogger.String("resource", name),
					applogger.String("owner", lease.Owner()),
					applogger.Error(err),
				)
			}
		}()
	} else {
		r.mu.Lock()
		defer r.mu.Unlock()
		res.Waited = time.Since(start)
	}

	current, err := readState(r.Path)
	switch {
	case errors.Is(err, ErrAbsent):
		current = models.NewRollingState(name)
	case err != nil:
		return s.finish(res, Failed), err
	}
	base := current.Version

	next, err := mutate(current.Clone())
	if err != nil {
		return s.finish(res, Failed), fmt.Errorf("mutate %s: %w", name, err)
	}
	if next == nil {
		res.Version = base
		return s.finish(res, Unchanged), nil
	}
	if next.Records == nil {
		next.Records = make(map[string]models.PredictionRecord)
	}

	if r.Validate {
		if err := s.gate.ValidateState(next); err != nil {
			s.logger.Error("update rejected by validation gate",
				applogger.String("resource", name),
				applogger.Int("records", len(next.Records)),
				applogger.Error(err),
			)
			s.publish(ctx, models.StoreEvent{Type: models.EventStoreRejected, Resource: name, Version: base, Detail: err.Error()})
			return s.finish(res, Rejected), err
		}
	}

	next.Resource = name
	next.Version = base + 1
	next.UpdatedAt = s.now().UTC()
	payload, err := Encode(next)
	if err != nil {
		return s.finish(res, Failed), err
	}

	if !r.LockRequired {
		if err := checkVersion(r.Path, base); err != nil {
			s.logger.Error("lock-free resource changed during update",
				applogger.String("resource", name),
				applogger.Int64("base_version", base),
				applogger.Error(err),
			)
			return s.finish(res, Failed), err
		}
	}

	if err := s.writer.Write(ctx, r.Path, payload, r.Criticality); err != nil {
		if errors.Is(err, durable.ErrDegraded) {
			res.Version = base
			return s.finish(res, Degraded), nil
		}
		return s.finish(res, Failed), err
	}

	res.Version = next.Version
	res.Records = len(next.Records)
	s.logger.Debug("update committed",
		applogger.String("resource", name),
		applogger.Int64("version", res.Version),
		applogger.Int("records", res.Records),
	)
	s.publish(ctx, models.StoreEvent{Type: models.EventStoreUpdated, Resource: name, Version: res.Version})
	return s.finish(res, Committed), nil
}

func (s *Store) finish(res Result, st Status) Result {
	res.Status = st
	if s.obs != nil {
		s.obs.RecordUpdate(res.Resource, string(st))
	}
	return res
}

func (s *Store) publish(ctx context.Context, ev models.StoreEvent) {
	ev.Host = s.host
	ev.At = s.now().UTC()
	if err := s.events.PublishEvent(ctx, ev); err != nil {
		s.logger.Warn("publish store event failed",
			applogger.String("type", ev.Type),
			applogger.String("resource", ev.Resource),
			applogger.Error(err),
		)
	}
}

// checkVersion fails when the on-disk version is no longer base.
func checkVersion(path string, base int64) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if base == 0 {
			return nil
		}
		return fmt.Errorf("%w: %s removed (expected version %d)", ErrConcurrentWriter, path, base)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var got int64
	_, err = decodeStream(context.Background(), f, func(h models.Header) error {
		got = h.Version
		return errStop
	}, nil)
	if err != nil && !errors.Is(err, errStop) {
		return fmt.Errorf("read version of %s: %w", path, err)
	}
	if got != base {
		return fmt.Errorf("%w: %s at version %d, expected %d", ErrConcurrentWriter, path, got, base)
	}
	return nil
}
