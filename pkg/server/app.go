// Package server assembles the long-running and one-shot jobs of the binary.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FinStore/internal/compaction"
	"FinStore/internal/domain/models"
	"FinStore/internal/handler/api"
	"FinStore/internal/replay"
	svccache "FinStore/internal/service/cache"
	"FinStore/internal/snapshot"
	"FinStore/internal/store"
	"FinStore/internal/usecase"
	"FinStore/pkg/config"
	xhttp "FinStore/pkg/http"
	pkgkafka "FinStore/pkg/kafka"
	"FinStore/pkg/lock"
	applogger "FinStore/pkg/logger"
)

// Deps are the components an App drives.
type Deps struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Registry   *prometheus.Registry
	Replay     replay.Context
	Store      *store.Store
	Locker     lock.Locker
	Snapshots  *snapshot.Manager
	Controller *replay.Controller
	Optimizer  *compaction.Optimizer
	Publisher  *usecase.PredictionPublisher
	Capture    *usecase.CaptureJob
	Artifacts  *usecase.ArtifactReader
}

// App encapsulates the application lifecycle.
type App struct {
	Deps
}

func New(d Deps) *App {
	if d.Logger == nil {
		d.Logger = applogger.Nop()
	}
	return &App{Deps: d}
}

// Serve runs the inspection API, the cache invalidators and, in live mode, the compaction
// scheduler until ctx is done. A replay context whose snapshot is unavailable fails startup.
func (a *App) Serve(ctx context.Context) error {
	l := a.Logger
	gw, err := a.Controller.Activate(ctx, a.Replay)
	if err != nil {
		return err
	}

	readCache := svccache.NewTTLCache(a.Config.Server.CacheTTL, l)

	dirs := []string{a.Config.Store.Root, a.Config.Compaction.Dir, a.Config.Snapshot.Root}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	watcher, err := svccache.NewFileWatcher(dirs, readCache, 200*time.Millisecond, l)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer func() {
		if err := watcher.Stop(); err != nil {
			l.Warn("file watcher stop error", applogger.Error(err))
		}
	}()

	var consumer *pkgkafka.Consumer
	if a.Config.Kafka.Enabled {
		consumer, err = a.newConsumer()
		if err != nil {
			return err
		}
		consumer.RegisterHandler(svccache.NewEventHandler(a.Config.Kafka.EventsTopic, readCache))
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	}

	var wg sync.WaitGroup
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()
	if a.Config.Compaction.Enabled && !a.Replay.IsReplay() {
		sched := compaction.NewScheduler(a.Optimizer, a.Config.Compaction.Interval, l)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sched.Run(jobCtx)
		}()
	}

	handler := api.NewHandler(l, gw, readCache, a.Artifacts, a.Snapshots)
	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.Config.Server.Port),
		xhttp.WithTimeouts(a.Config.Server.ReadTimeout, a.Config.Server.WriteTimeout, a.Config.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
	}
	if a.Config.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(a.Registry, a.Config.Metrics.Path))
	}
	httpServer := xhttp.NewServer(handler, opts...)
	errCh := httpServer.Start()
	l.Info("serving", applogger.String("context", a.Replay.String()), applogger.Int("port", a.Config.Server.Port))

	var runErr error
	select {
	case <-ctx.Done():
		l.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			runErr = err
		}
	}

	cancelJobs()
	stopCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Stop(stopCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}
	if consumer != nil {
		if err := consumer.Stop(stopCtx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	wg.Wait()
	l.Info("shutdown complete")
	return runErr
}

func (a *App) newConsumer() (*pkgkafka.Consumer, error) {
	kc := a.Config.Kafka
	host, _ := os.Hostname()
	// one group per host so every API server sees every event
	return pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(kc.Brokers),
		pkgkafka.WithConsumerGroupID(kc.Consumer.GroupID+"-"+host),
		pkgkafka.WithConsumerRetry(kc.Consumer.RetryMax, kc.Consumer.BackoffMin, kc.Consumer.BackoffMax),
		pkgkafka.WithConsumerLogger(a.Logger),
	)
}

// Compact runs a single compaction pass. Writing artifacts is refused in replay mode.
func (a *App) Compact(ctx context.Context) (compaction.Report, error) {
	if a.Replay.IsReplay() {
		return compaction.Report{}, errors.New("compaction writes live artifacts and cannot run in replay mode")
	}
	return a.Optimizer.Compact(ctx)
}

// CaptureSnapshot takes and saves the snapshot for asOf.
func (a *App) CaptureSnapshot(ctx context.Context, asOf time.Time) (*models.Manifest, error) {
	return a.Capture.Run(ctx, asOf)
}

// ListSnapshots returns every saved snapshot date, ascending.
func (a *App) ListSnapshots(ctx context.Context) ([]time.Time, error) {
	return a.Snapshots.List(ctx)
}

// VerifySnapshot checks checksums and leakage for date. The manifest is returned whenever it
// could be read.
func (a *App) VerifySnapshot(ctx context.Context, date time.Time) (*models.Manifest, error) {
	man, err := a.Snapshots.ReadManifest(ctx, date)
	if err != nil {
		return nil, err
	}
	_, err = a.Snapshots.Load(ctx, date)
	return man, err
}

// CheckReplay activates the configured context without serving it.
func (a *App) CheckReplay(ctx context.Context) error {
	_, err := a.Controller.Activate(ctx, a.Replay)
	return err
}

// Publish merges a batch of predictions into the configured snapshot resource.
func (a *App) Publish(ctx context.Context, batch []models.PredictionRecord) (store.Result, error) {
	if a.Replay.IsReplay() {
		return store.Result{}, errors.New("publishing is refused in replay mode")
	}
	return a.Publisher.Publish(ctx, batch)
}

// LockStatus describes the sentinel of one resource.
type LockStatus struct {
	Resource string
	Path     string
	Held     bool
	Stale    bool
	Holder   lock.Holder
	Age      time.Duration
}

// LockStatuses inspects the sentinel of every lock-protected resource. Only the file backend
// records holders on disk.
func (a *App) LockStatuses() ([]LockStatus, error) {
	fl, ok := a.Locker.(*lock.FileLocker)
	if !ok {
		return nil, fmt.Errorf("lock backend %q does not expose holders", a.Locker.Backend())
	}
	var out []LockStatus
	now := time.Now()
	for _, r := range a.Store.Resources() {
		if !r.LockRequired {
			continue
		}
		h, stale, exists, err := fl.Inspect(r.Path)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", r.Name, err)
		}
		st := LockStatus{Resource: r.Name, Path: lock.SentinelPath(r.Path), Held: exists, Stale: stale, Holder: h}
		if exists {
			st.Age = h.Age(now)
		}
		out = append(out, st)
	}
	return out, nil
}
