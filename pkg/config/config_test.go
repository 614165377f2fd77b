package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
environment: test
store:
  resources:
    - name: predictions
      path: predictions.json.zst
    - name: cache_index
      path: cache_index.json.zst
      lock_required: false
      criticality: best_effort
      validate: false
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "file", c.Store.Lock.Backend)
	assert.Equal(t, 60*time.Second, c.Store.Lock.TTL)
	assert.Equal(t, 20*time.Millisecond, c.Store.Lock.Base)
	assert.Equal(t, 320*time.Millisecond, c.Store.Lock.Max)
	assert.Equal(t, 3, c.Store.Retry.Attempts)
	assert.InDelta(t, 0.002, c.Store.Validation.MinStd, 1e-12)
	assert.Equal(t, 30*time.Second, c.Compaction.Interval)
	assert.Equal(t, "live", c.Replay.Mode)

	require.Len(t, c.Store.Resources, 2)
	assert.True(t, c.Store.Resources[0].LockRequired)
	assert.True(t, c.Store.Resources[0].Validate)
	assert.Equal(t, "critical", c.Store.Resources[0].Criticality)

	// explicit false must survive defaulting
	assert.False(t, c.Store.Resources[1].LockRequired)
	assert.False(t, c.Store.Resources[1].Validate)
	assert.Equal(t, "best_effort", c.Store.Resources[1].Criticality)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing environment", "store:\n  resources:\n    - {name: predictions, path: p}\n"},
		{"no resources", "environment: test\n"},
		{"duplicate resource", "environment: test\nstore:\n  resources:\n    - {name: predictions, path: a}\n    - {name: predictions, path: b}\n"},
		{"replay without date", "environment: test\nreplay: {mode: replay}\nstore:\n  resources:\n    - {name: predictions, path: p}\n"},
		{"bad criticality", "environment: test\nstore:\n  resources:\n    - {name: predictions, path: p, criticality: sometimes}\n"},
		{"unknown compaction source", "environment: test\ncompaction: {source: nope}\nstore:\n  resources:\n    - {name: predictions, path: p}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	env := map[string]string{
		"FINSTORE_REPLAY_MODE":   "REPLAY",
		"FINSTORE_AS_OF":         "2024-06-01",
		"FINSTORE_LOCK_TTL":      "45",
		"FINSTORE_KAFKA_BROKERS": "k1:9092,k2:9092",
	}
	require.NoError(t, c.ApplyEnv(func(k string) string { return env[k] }))
	require.NoError(t, c.Validate())

	assert.Equal(t, "replay", c.Replay.Mode)
	assert.Equal(t, "2024-06-01", c.Replay.AsOf)
	assert.Equal(t, 45*time.Second, c.Store.Lock.TTL)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestLoadWithEnvReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))
	t.Setenv("FINSTORE_LOCK_TTL", "90s")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, c.Store.Lock.TTL)
}

func TestResourcePath(t *testing.T) {
	c := &Config{}
	c.Store.Root = "/var/lib/finstore"
	assert.Equal(t, "/var/lib/finstore/p.json.zst", c.ResourcePath(ResourceConfig{Path: "p.json.zst"}))
	assert.Equal(t, "/abs/p.json.zst", c.ResourcePath(ResourceConfig{Path: "/abs/p.json.zst"}))
}
