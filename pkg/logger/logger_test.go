package logger

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches []AuditBatch
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.(AuditBatch))
	return nil
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf).With(String("component", "store"))
	l.Warn("lock timeout", String("resource", "predictions"))

	out := buf.String()
	assert.Contains(t, out, `"component":"store"`)
	assert.Contains(t, out, `"resource":"predictions"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestCollectorReachesChildrenAndFlushesOnRemove(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(&buf)
	child := root.With(String("component", "compaction"))

	pub := &capturePublisher{}
	root.AddCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "audit",
		Publisher:      pub,
		Source:         "test",
	})

	child.Error("artifact write failed", String("artifact", "top"))
	child.Error("artifact write failed", String("artifact", "top"))
	child.Warn("slow compaction")
	child.Info("not audited")
	root.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "audit", pub.topic)
	b := pub.batches[0]
	assert.Equal(t, "test", b.Source)
	require.Len(t, b.Entries, 2)
	byLevel := map[string]AggregatedLogEntry{}
	for _, e := range b.Entries {
		byLevel[e.Level] = e
	}
	assert.Equal(t, "artifact write failed", byLevel["error"].Message)
	assert.Equal(t, 2, byLevel["error"].Count)
	assert.Equal(t, "slow compaction", byLevel["warn"].Message)

	child.Error("after removal")
	assert.Len(t, pub.batches, 1)
}
