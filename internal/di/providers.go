package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"FinStore/internal/compaction"
	"FinStore/internal/domain/repository"
	internalrepo "FinStore/internal/repository"
	"FinStore/internal/replay"
	"FinStore/internal/snapshot"
	"FinStore/internal/store"
	"FinStore/internal/usecase"
	"FinStore/internal/validation"
	"FinStore/pkg/cache"
	pkgch "FinStore/pkg/clickhouse"
	"FinStore/pkg/config"
	"FinStore/pkg/durable"
	pkgkafka "FinStore/pkg/kafka"
	"FinStore/pkg/lock"
	applogger "FinStore/pkg/logger"
	"FinStore/pkg/metrics"
	"FinStore/pkg/server"
)

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the registry served on the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideKafkaProducer creates the Kafka producer, or nil when kafka is disabled. With audit
// enabled the logger starts shipping aggregated warn/error entries through it.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	kc := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(kc.Brokers),
		pkgkafka.WithCompression(kc.Compression),
		pkgkafka.WithRequiredAcks(kc.RequiredAcks),
		pkgkafka.WithMaxAttempts(kc.Producer.MaxAttempts),
		pkgkafka.WithLinger(kc.Producer.Linger),
		pkgkafka.WithWriteTimeout(kc.Producer.WriteTimeout),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.Audit {
		host, _ := os.Hostname()
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   time.Minute,
			CountThreshold: 100,
			Topic:          kc.AuditTopic,
			Publisher:      producer,
			Source:         host,
		})
	}

	cleanup := func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideEvents announces store changes on Kafka when a producer exists.
func ProvideEvents(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return repository.NopEvents{}
	}
	return internalrepo.NewKafkaEvents(producer, cfg.Kafka.EventsTopic)
}

// ProvideRedisCache connects to Redis, or returns nil when redis is disabled.
func ProvideRedisCache(ctx context.Context, cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisHost(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideArtifactIndex mirrors artifacts into Redis, or into process memory without it.
func ProvideArtifactIndex(cfg *config.Config, rc *cache.RedisCache) (repository.ArtifactIndex, func()) {
	if rc != nil {
		return internalrepo.NewCacheArtifactIndex(rc, cfg.Redis.TTL), func() {}
	}
	mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(256))
	return internalrepo.NewCacheArtifactIndex(mc, cfg.Redis.TTL), func() { _ = mc.Close() }
}

// ProvideLocker selects the lock backend.
func ProvideLocker(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger, m repository.Metrics) (lock.Locker, error) {
	lc := cfg.Store.Lock
	sched := lock.Schedule{Base: lc.Base, Max: lc.Max, StepEvery: lc.StepEvery, Jitter: lc.Jitter}
	switch lc.Backend {
	case "memory":
		return lock.NewMemLocker(m), nil
	case "redis":
		if rc == nil {
			return nil, errors.New("lock backend redis requires redis.enabled")
		}
		return lock.NewRedisLocker(rc.Client(), cfg.Redis.Prefix, lc.TTL, sched, l, m), nil
	default:
		return lock.NewFileLocker(
			lock.WithTTL(lc.TTL),
			lock.WithSchedule(sched),
			lock.WithLogger(l),
			lock.WithObserver(m),
		), nil
	}
}

// ProvideWriter creates the durable writer shared by the store, snapshots and compaction.
func ProvideWriter(cfg *config.Config, l *applogger.Logger, m repository.Metrics) *durable.Writer {
	return durable.NewWriter(
		durable.WithRetry(cfg.Store.Retry.Attempts, cfg.Store.Retry.Delay),
		durable.WithLogger(l),
		durable.WithObserver(m),
	)
}

func ProvideGate(cfg *config.Config, m repository.Metrics) *validation.Gate {
	return validation.NewGate(cfg.Store.Validation.MinStd, m)
}

// ProvideStore registers every configured resource.
func ProvideStore(
	cfg *config.Config,
	locker lock.Locker,
	w *durable.Writer,
	gate *validation.Gate,
	events repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) (*store.Store, error) {
	resources := make([]store.Resource, 0, len(cfg.Store.Resources))
	for _, rc := range cfg.Store.Resources {
		crit, err := durable.ParseCriticality(rc.Criticality)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rc.Name, err)
		}
		resources = append(resources, store.Resource{
			Name:         rc.Name,
			Path:         cfg.ResourcePath(rc),
			LockRequired: rc.LockRequired,
			Criticality:  crit,
			Validate:     rc.Validate,
		})
	}
	return store.New(resources,
		store.WithLocker(locker),
		store.WithWriter(w),
		store.WithGate(gate),
		store.WithLockTimeout(cfg.Store.Lock.Timeout),
		store.WithEvents(events),
		store.WithObserver(m),
		store.WithLogger(l),
	)
}

// ProvideClickHouse opens the read-only market data pool, or returns nil when disabled.
func ProvideClickHouse(ctx context.Context, cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	cc := cfg.ClickHouse
	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cc.Host, cc.Port),
		pkgch.WithDatabase(cc.Database),
		pkgch.WithCredentials(cc.User, cc.Password),
		pkgch.WithTimeouts(cc.DialTimeout, cc.ReadTimeout),
		pkgch.WithHTTP(cc.UseHTTP),
		pkgch.WithMaxExecutionTime(cc.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideMarketSources reads ClickHouse when connected. Without it every live source is empty,
// which keeps snapshots and the API usable on a bare store.
func ProvideMarketSources(ch *pkgch.Client, l *applogger.Logger) repository.MarketSources {
	if ch == nil {
		l.Warn("clickhouse disabled; live market sources are empty")
		return &internalrepo.StaticSources{}
	}
	return internalrepo.NewCHMarketSources(ch, l)
}

func ProvideSnapshotManager(
	cfg *config.Config,
	sources repository.MarketSources,
	st *store.Store,
	w *durable.Writer,
	locker lock.Locker,
	events repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *snapshot.Manager {
	return snapshot.NewManager(snapshot.Config{
		Root:        cfg.Snapshot.Root,
		Resource:    cfg.Snapshot.Resource,
		IsAbsent:    func(err error) bool { return errors.Is(err, store.ErrAbsent) },
		Locker:      locker,
		LockTimeout: cfg.Store.Lock.Timeout,
	}, sources, st, w, events, m, l)
}

func ProvideReplayContext(cfg *config.Config) (replay.Context, error) {
	return replay.FromConfig(cfg.Replay.Mode, cfg.Replay.AsOf)
}

func ProvideController(cfg *config.Config, sources repository.MarketSources, st *store.Store, snaps *snapshot.Manager, l *applogger.Logger) *replay.Controller {
	return replay.NewController(sources, st, cfg.Snapshot.Resource, snaps, l)
}

// ProvideOptimizer builds the compaction job over the configured source resource.
func ProvideOptimizer(
	cfg *config.Config,
	st *store.Store,
	w *durable.Writer,
	index repository.ArtifactIndex,
	events repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) (*compaction.Optimizer, error) {
	specs := make([]compaction.Spec, 0, len(cfg.Compaction.Artifacts))
	for _, a := range cfg.Compaction.Artifacts {
		specs = append(specs, compaction.Spec{Name: a.Name, TopK: a.TopK, RankBy: a.RankBy})
	}
	return compaction.NewOptimizer(st, cfg.Compaction.Source, cfg.Compaction.Dir, specs, w, index, events, m, l)
}

func ProvidePublisher(cfg *config.Config, st *store.Store, gate *validation.Gate, l *applogger.Logger) *usecase.PredictionPublisher {
	return usecase.NewPredictionPublisher(st, gate, cfg.Snapshot.Resource, l)
}

func ProvideCaptureJob(snaps *snapshot.Manager, l *applogger.Logger) *usecase.CaptureJob {
	return usecase.NewCaptureJob(snaps, l)
}

func ProvideArtifactReader(index repository.ArtifactIndex, opt *compaction.Optimizer, l *applogger.Logger) *usecase.ArtifactReader {
	return usecase.NewArtifactReader(index, opt.ArtifactPath, l)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	rc replay.Context,
	st *store.Store,
	locker lock.Locker,
	snaps *snapshot.Manager,
	ctrl *replay.Controller,
	opt *compaction.Optimizer,
	pub *usecase.PredictionPublisher,
	capture *usecase.CaptureJob,
	artifacts *usecase.ArtifactReader,
) *server.App {
	return server.New(server.Deps{
		Config:     cfg,
		Logger:     l,
		Registry:   reg,
		Replay:     rc,
		Store:      st,
		Locker:     locker,
		Snapshots:  snaps,
		Controller: ctrl,
		Optimizer:  opt,
		Publisher:  pub,
		Capture:    capture,
		Artifacts:  artifacts,
	})
}
