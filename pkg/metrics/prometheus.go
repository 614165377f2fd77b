package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	lockWait       *prometheus.HistogramVec
	lockAcquire    *prometheus.CounterVec
	lockReclaimed  prometheus.Counter
	writeAttempts  *prometheus.CounterVec
	updates        *prometheus.CounterVec
	horizonStd     *prometheus.GaugeVec
	compactionRuns *prometheus.CounterVec
	compactionDur  prometheus.Histogram
	snapshotsSaved *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		lockWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finstore_lock_wait_seconds",
				Help:    "Time spent waiting for a resource lock",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		lockAcquire: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finstore_lock_acquire_total",
				Help: "Lock acquisition outcomes",
			},
			[]string{"backend", "result"},
		),
		lockReclaimed: f.NewCounter(
			prometheus.CounterOpts{
				Name: "finstore_lock_stale_reclaimed_total",
				Help: "Stale lock sentinels forcibly reclaimed",
			},
		),
		writeAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finstore_write_attempts_total",
				Help: "Durable write attempts by criticality and result",
			},
			[]string{"criticality", "result"},
		),
		updates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finstore_update_total",
				Help: "Rolling store update outcomes",
			},
			[]string{"resource", "status"},
		),
		horizonStd: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finstore_validation_horizon_std",
				Help: "Last observed score standard deviation per horizon",
			},
			[]string{"horizon"},
		),
		compactionRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finstore_compaction_runs_total",
				Help: "Compaction runs by result",
			},
			[]string{"result"},
		),
		compactionDur: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finstore_compaction_duration_seconds",
				Help:    "Duration of a compaction run",
				Buckets: prometheus.DefBuckets,
			},
		),
		snapshotsSaved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finstore_snapshot_saved_total",
				Help: "Snapshots saved",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finstore_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) RecordLockWait(backend string, seconds float64, acquired bool) {
	result := "acquired"
	if !acquired {
		result = "timeout"
	}
	r.lockWait.WithLabelValues(backend).Observe(seconds)
	r.lockAcquire.WithLabelValues(backend, result).Inc()
}

func (r *Recorder) RecordStaleReclaim() {
	r.lockReclaimed.Inc()
}

func (r *Recorder) RecordWriteAttempt(criticality string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.writeAttempts.WithLabelValues(criticality, result).Inc()
}

func (r *Recorder) RecordUpdate(resource, status string) {
	r.updates.WithLabelValues(resource, status).Inc()
}

func (r *Recorder) RecordHorizonStd(horizon string, std float64) {
	r.horizonStd.WithLabelValues(horizon).Set(std)
}

func (r *Recorder) RecordCompaction(seconds float64, ok bool) {
	result := "ok"
	if !ok {
		result = "partial"
	}
	r.compactionRuns.WithLabelValues(result).Inc()
	r.compactionDur.Observe(seconds)
}

func (r *Recorder) RecordSnapshotSaved(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.snapshotsSaved.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// Noop discards every observation. Used by tests and CLI one-shots.
type Noop struct{}

func (Noop) RecordLockWait(string, float64, bool) {}
func (Noop) RecordStaleReclaim()                  {}
func (Noop) RecordWriteAttempt(string, bool)      {}
func (Noop) RecordUpdate(string, string)          {}
func (Noop) RecordHorizonStd(string, float64)     {}
func (Noop) RecordCompaction(float64, bool)       {}
func (Noop) RecordSnapshotSaved(bool)             {}
func (Noop) RecordError(string)                   {}
