// Package snapshot captures, persists and validates dated point-in-time bundles used by
// replay.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"FinStore/internal/domain/models"
	"FinStore/internal/domain/repository"
	"FinStore/pkg/codec"
	"FinStore/pkg/durable"
	"FinStore/pkg/lock"
	applogger "FinStore/pkg/logger"
	"FinStore/pkg/util"
)

var (
	// ErrNotFound means no manifest exists for the date.
	ErrNotFound = errors.New("snapshot: not found")
	// ErrCorrupt means a component does not match its manifest entry.
	ErrCorrupt = errors.New("snapshot: corrupt")
	// ErrBusy means another writer held the date's lock for the whole wait.
	ErrBusy = errors.New("snapshot: date busy")
)

const defaultLockTimeout = 5 * time.Second

// RollingReader is the read side of the rolling store.
type RollingReader interface {
	Read(ctx context.Context, name string) (*models.RollingState, error)
}

// Observer receives save outcomes.
type Observer interface {
	RecordSnapshotSaved(ok bool)
}

// Config configures Manager.
type Config struct {
	Root     string
	Resource string // rolling store resource copied into every snapshot
	// IsAbsent reports whether a store read error means the resource was never written.
	IsAbsent func(error) bool
	// Locker serializes Save per date across processes. Nil disables locking.
	Locker      lock.Locker
	LockTimeout time.Duration
}

// Manager owns the snapshot root directory.
type Manager struct {
	cfg     Config
	sources repository.MarketSources
	rolling RollingReader
	writer  *durable.Writer
	events  repository.EventPublisher
	obs     Observer
	logger  *applogger.Logger
	now     func() time.Time
}

// NewManager creates a Manager. sources and rolling may be nil for read-only use (Open, Load,
// List); Capture then fails.
func NewManager(cfg Config, sources repository.MarketSources, rolling RollingReader, w *durable.Writer, events repository.EventPublisher, obs Observer, l *applogger.Logger) *Manager {
	if l == nil {
		l = applogger.Nop()
	}
	if w == nil {
		w = durable.NewWriter(durable.WithLogger(l))
	}
	if events == nil {
		events = repository.NopEvents{}
	}
	if cfg.IsAbsent == nil {
		cfg.IsAbsent = func(error) bool { return false }
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	return &Manager{cfg: cfg, sources: sources, rolling: rolling, writer: w, events: events, obs: obs, logger: l, now: time.Now}
}

// Dir returns the directory of the snapshot for asOf.
func (m *Manager) Dir(asOf time.Time) string {
	return filepath.Join(m.cfg.Root, util.FormatDate(asOf))
}

// Capture gathers every dependent dataset as of asOf. Sources are queried concurrently; the
// rolling store copy is taken last.
func (m *Manager) Capture(ctx context.Context, asOf time.Time) (*models.EODSnapshot, error) {
	if m.sources == nil || m.rolling == nil {
		return nil, errors.New("snapshot: capture needs market sources and a rolling store")
	}
	asOf = util.Day(asOf)
	snap := &models.EODSnapshot{AsOf: asOf}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Bars, err = m.sources.Bars(gctx, asOf)
		return wrapSource(models.ComponentBars, err)
	})
	g.Go(func() (err error) {
		snap.Fundamentals, err = m.sources.Fundamentals(gctx, asOf)
		return wrapSource(models.ComponentFundamentals, err)
	})
	g.Go(func() (err error) {
		snap.Macro, err = m.sources.Macro(gctx, asOf)
		return wrapSource(models.ComponentMacro, err)
	})
	g.Go(func() (err error) {
		snap.News, err = m.sources.News(gctx, asOf)
		return wrapSource(models.ComponentNews, err)
	})
	g.Go(func() (err error) {
		snap.Sentiment, err = m.sources.Sentiment(gctx, asOf)
		return wrapSource(models.ComponentSentiment, err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	state, err := m.rolling.Read(ctx, m.cfg.Resource)
	switch {
	case err != nil && m.cfg.IsAbsent(err):
		state = models.NewRollingState(m.cfg.Resource)
	case err != nil:
		return nil, fmt.Errorf("capture rolling %s: %w", m.cfg.Resource, err)
	}
	snap.Rolling = state

	m.logger.Info("snapshot captured",
		applogger.Date("as_of", asOf),
		applogger.Int("bars", len(snap.Bars)),
		applogger.Int("fundamentals", len(snap.Fundamentals)),
		applogger.Int("macro", len(snap.Macro)),
		applogger.Int("news", len(snap.News)),
		applogger.Int("sentiment", len(snap.Sentiment)),
		applogger.Int("rolling", len(state.Records)),
		applogger.Duration("took_ms", time.Since(start)),
	)
	return snap, nil
}

func wrapSource(component string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("capture %s: %w", component, err)
}

type component struct {
	name    string
	value   any
	records int
	first   string
	last    string
}

func components(snap *models.EODSnapshot) []component {
	rolling := snap.Rolling
	if rolling == nil {
		rolling = models.NewRollingState("")
	}
	recs := rollingRecords(rolling)

	out := make([]component, 0, len(models.Components))
	add := func(name string, v any, n int, first, last string) {
		out = append(out, component{name: name, value: v, records: n, first: first, last: last})
	}
	bf, bl := dateRange(snap.Bars)
	add(models.ComponentBars, nonNil(snap.Bars), len(snap.Bars), bf, bl)
	ff, fl := dateRange(snap.Fundamentals)
	add(models.ComponentFundamentals, nonNil(snap.Fundamentals), len(snap.Fundamentals), ff, fl)
	mf, ml := dateRange(snap.Macro)
	add(models.ComponentMacro, nonNil(snap.Macro), len(snap.Macro), mf, ml)
	nf, nl := dateRange(snap.News)
	add(models.ComponentNews, nonNil(snap.News), len(snap.News), nf, nl)
	sf, sl := dateRange(snap.Sentiment)
	add(models.ComponentSentiment, nonNil(snap.Sentiment), len(snap.Sentiment), sf, sl)
	rf, rl := dateRange(recs)
	add(models.ComponentRolling, rolling, len(recs), rf, rl)
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Save writes every component of snap and then the manifest. An existing snapshot for the
// same date is replaced: its manifest is removed first so the date reads as absent until the
// new manifest lands. With a Locker configured, writers of the same date are serialized and a
// writer that waits past LockTimeout gets ErrBusy.
func (m *Manager) Save(ctx context.Context, snap *models.EODSnapshot) (_ *Manifest, err error) {
	defer func() {
		if m.obs != nil {
			m.obs.RecordSnapshotSaved(err == nil)
		}
	}()

	dir := m.Dir(snap.AsOf)
	if m.cfg.Locker != nil {
		lease, ok, lerr := m.cfg.Locker.Acquire(ctx, dir, m.cfg.LockTimeout)
		if lerr != nil {
			return nil, fmt.Errorf("lock snapshot %s: %w", util.FormatDate(snap.AsOf), lerr)
		}
		if !ok {
			m.logger.Warn("snapshot date busy", applogger.Date("as_of", snap.AsOf), applogger.Duration("waited_ms", m.cfg.LockTimeout))
			return nil, fmt.Errorf("%w: %s", ErrBusy, util.FormatDate(snap.AsOf))
		}
		defer func() {
			if rerr := lease.Release(); rerr != nil {
				m.logger.Warn("snapshot lock release failed", applogger.Date("as_of", snap.AsOf), applogger.Error(rerr))
			}
		}()
	}
	manifestPath := filepath.Join(dir, manifestFile)
	if _, statErr := os.Stat(manifestPath); statErr == nil {
		m.logger.Warn("overwriting existing snapshot", applogger.Date("as_of", snap.AsOf), applogger.String("dir", dir))
		if err := os.Remove(manifestPath); err != nil {
			return nil, fmt.Errorf("remove old manifest: %w", err)
		}
	}

	manifest := &models.Manifest{AsOf: util.FormatDate(snap.AsOf), CreatedAt: m.now().UTC()}
	for _, c := range components(snap) {
		payload, err := codec.Marshal(c.value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.name, err)
		}
		file := c.name + codec.Ext
		if err := m.writer.Write(ctx, filepath.Join(dir, file), payload, durable.Critical); err != nil {
			return nil, fmt.Errorf("save %s: %w", c.name, err)
		}
		manifest.Components = append(manifest.Components, models.ComponentEntry{
			Name:    c.name,
			File:    file,
			Records: c.records,
			SHA256:  checksum(payload),
			Bytes:   int64(len(payload)),
			MinDate: c.first,
			MaxDate: c.last,
		})
	}

	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := m.writer.Write(ctx, manifestPath, b, durable.Critical); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	snap.Manifest = manifest

	m.logger.Info("snapshot saved", applogger.Date("as_of", snap.AsOf), applogger.String("dir", dir))
	if err := m.events.PublishEvent(ctx, models.StoreEvent{
		Type: models.EventSnapshotSaved,
		Date: manifest.AsOf,
		At:   m.now().UTC(),
	}); err != nil {
		m.logger.Warn("publish snapshot event failed", applogger.Error(err))
	}
	return manifest, nil
}

// Manifest is re-exported for callers that only import this package.
type Manifest = models.Manifest

// ReadManifest returns the manifest for date.
func (m *Manager) ReadManifest(ctx context.Context, date time.Time) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(m.Dir(date), manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, util.FormatDate(date))
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var man Manifest
	if err := json.Unmarshal(b, &man); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", ErrCorrupt, util.FormatDate(date), err)
	}
	return &man, nil
}

// Open reads and checksums a snapshot without leakage validation, for inspection.
func (m *Manager) Open(ctx context.Context, date time.Time) (*models.EODSnapshot, error) {
	man, err := m.ReadManifest(ctx, date)
	if err != nil {
		return nil, err
	}
	asOf, err := util.ParseDate(man.AsOf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	snap := &models.EODSnapshot{AsOf: asOf, Manifest: man}
	dir := m.Dir(date)
	for _, name := range models.Components {
		entry, ok := man.Component(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s missing component %s", ErrCorrupt, man.AsOf, name)
		}
		b, err := os.ReadFile(filepath.Join(dir, entry.File))
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, man.AsOf, entry.File, err)
		}
		if got := checksum(b); got != entry.SHA256 {
			return nil, fmt.Errorf("%w: %s/%s checksum %s, manifest %s", ErrCorrupt, man.AsOf, entry.File, got[:12], entry.SHA256)
		}
		if err := decodeComponent(snap, name, b); err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, man.AsOf, entry.File, err)
		}
	}
	return snap, nil
}

func decodeComponent(snap *models.EODSnapshot, name string, b []byte) error {
	switch name {
	case models.ComponentBars:
		return codec.Unmarshal(b, &snap.Bars)
	case models.ComponentFundamentals:
		return codec.Unmarshal(b, &snap.Fundamentals)
	case models.ComponentMacro:
		return codec.Unmarshal(b, &snap.Macro)
	case models.ComponentNews:
		return codec.Unmarshal(b, &snap.News)
	case models.ComponentSentiment:
		return codec.Unmarshal(b, &snap.Sentiment)
	case models.ComponentRolling:
		snap.Rolling = &models.RollingState{}
		return codec.Unmarshal(b, snap.Rolling)
	}
	return fmt.Errorf("unknown component %s", name)
}

// Load opens a snapshot and validates it for replay. A snapshot with future-dated records is
// returned together with a *LeakageError so callers can still inspect it.
func (m *Manager) Load(ctx context.Context, date time.Time) (*models.EODSnapshot, error) {
	snap, err := m.Open(ctx, date)
	if err != nil {
		return nil, err
	}
	if err := Validate(snap); err != nil {
		m.logger.Error("snapshot failed leakage validation",
			applogger.Date("as_of", snap.AsOf),
			applogger.Error(err),
		)
		return snap, err
	}
	return snap, nil
}

// List returns the dates that have a manifest, ascending.
func (m *Manager) List(ctx context.Context) ([]time.Time, error) {
	entries, err := os.ReadDir(m.cfg.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var out []time.Time
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		d, err := util.ParseDate(e.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.cfg.Root, e.Name(), manifestFile)); err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
