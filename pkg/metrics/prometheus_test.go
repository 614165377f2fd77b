package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordUpdate("predictions", "committed")
	r.RecordUpdate("predictions", "committed")
	r.RecordUpdate("predictions", "rejected")
	r.RecordLockWait("file", 0.01, false)
	r.RecordStaleReclaim()
	r.RecordHorizonStd("1w", 1.2e-5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.updates.WithLabelValues("predictions", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.updates.WithLabelValues("predictions", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lockAcquire.WithLabelValues("file", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lockReclaimed))
	assert.InDelta(t, 1.2e-5, testutil.ToFloat64(r.horizonStd.WithLabelValues("1w")), 1e-12)
}

func TestRecordersOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
