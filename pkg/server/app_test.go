package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinStore/internal/domain/models"
	"FinStore/internal/replay"
	"FinStore/internal/store"
	"FinStore/pkg/durable"
	"FinStore/pkg/lock"
)

func newTestStore(t *testing.T, locker lock.Locker) *store.Store {
	t.Helper()
	root := t.TempDir()
	st, err := store.New([]store.Resource{
		{Name: "predictions", Path: filepath.Join(root, "predictions.json.zst"), LockRequired: true, Criticality: durable.Critical, Validate: true},
		{Name: "cache_index", Path: filepath.Join(root, "cache_index.json.zst"), Criticality: durable.BestEffort},
	}, store.WithLocker(locker))
	require.NoError(t, err)
	return st
}

func TestLockStatusesReportsHolder(t *testing.T) {
	locker := lock.NewFileLocker()
	st := newTestStore(t, locker)
	app := New(Deps{Store: st, Locker: locker})

	statuses, err := app.LockStatuses()
	require.NoError(t, err)
	require.Len(t, statuses, 1, "lock-free resources are skipped")
	assert.Equal(t, "predictions", statuses[0].Resource)
	assert.False(t, statuses[0].Held)

	res, err := st.Resource("predictions")
	require.NoError(t, err)
	lease, ok, err := locker.Acquire(context.Background(), res.Path, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release()

	statuses, err = app.LockStatuses()
	require.NoError(t, err)
	assert.True(t, statuses[0].Held)
	assert.False(t, statuses[0].Stale)
	assert.Equal(t, lease.Owner(), statuses[0].Holder.Owner)
	assert.Equal(t, lock.SentinelPath(res.Path), statuses[0].Path)
}

func TestLockStatusesNeedsFileBackend(t *testing.T) {
	locker := lock.NewMemLocker(nil)
	app := New(Deps{Store: newTestStore(t, locker), Locker: locker})

	_, err := app.LockStatuses()
	assert.ErrorContains(t, err, "memory")
}

func TestReplayRefusesWrites(t *testing.T) {
	rc, err := replay.NewContext(replay.Replay, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	app := New(Deps{Replay: rc})

	_, err = app.Compact(context.Background())
	assert.Error(t, err)

	_, err = app.Publish(context.Background(), []models.PredictionRecord{{Symbol: "AAPL"}})
	assert.Error(t, err)
}
