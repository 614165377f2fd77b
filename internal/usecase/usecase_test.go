package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinStore/internal/domain/models"
	domainrepo "FinStore/internal/domain/repository"
	"FinStore/internal/repository"
	"FinStore/internal/snapshot"
	"FinStore/internal/store"
	"FinStore/internal/validation"
	"FinStore/pkg/cache"
	"FinStore/pkg/durable"
	"FinStore/pkg/lock"
)

type countingStore struct {
	*store.Store
	updates int
}

func (c *countingStore) Update(ctx context.Context, name string, m store.Mutator) (store.Result, error) {
	c.updates++
	return c.Store.Update(ctx, name, m)
}

func newPublisher(t *testing.T) (*PredictionPublisher, *countingStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(
		[]store.Resource{{Name: "predictions", Path: filepath.Join(dir, "predictions.json.zst"), LockRequired: true, Criticality: durable.Critical, Validate: true}},
		store.WithLocker(lock.NewMemLocker(nil)),
		store.WithWriter(durable.NewWriter(durable.WithRetry(1, 0))),
	)
	require.NoError(t, err)
	cs := &countingStore{Store: st}
	p := NewPredictionPublisher(cs, validation.NewGate(0, nil), "predictions", nil)
	p.now = func() time.Time { return time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC) }
	return p, cs
}

func batch(n int, spread float64) []models.PredictionRecord {
	out := make([]models.PredictionRecord, n)
	for i := range out {
		v := float64(i) * spread
		out[i] = models.PredictionRecord{
			Symbol:     fmt.Sprintf("SYM%02d", i),
			Score:      v,
			Confidence: 0.6,
			Horizons:   map[string]float64{"1d": float64(i) * 0.01, "1w": v},
		}
	}
	return out
}

func TestPublishCommitsAndStampsTimestamps(t *testing.T) {
	p, cs := newPublisher(t)

	res, err := p.Publish(context.Background(), batch(10, 0.01))
	require.NoError(t, err)
	assert.Equal(t, store.Committed, res.Status)
	assert.Equal(t, int64(1), res.Version)

	state, err := cs.Read(context.Background(), "predictions")
	require.NoError(t, err)
	require.Len(t, state.Records, 10)
	assert.Equal(t, time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC), state.Records["SYM03"].Timestamp)
}

func TestPublishRejectsDegenerateBatchWithoutLocking(t *testing.T) {
	p, cs := newPublisher(t)

	res, err := p.Publish(context.Background(), batch(10, 0))
	require.Error(t, err)
	assert.Equal(t, store.Rejected, res.Status)

	var rej *validation.RejectionError
	require.True(t, errors.As(err, &rej))
	require.Len(t, rej.Horizons, 1)
	assert.Equal(t, "1w", rej.Horizons[0].Horizon)
	assert.Equal(t, 0, cs.updates)

	_, err = cs.Read(context.Background(), "predictions")
	assert.ErrorIs(t, err, store.ErrAbsent)
}

func TestPublishEdgeCases(t *testing.T) {
	p, cs := newPublisher(t)

	res, err := p.Publish(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, store.Unchanged, res.Status)

	_, err = p.Publish(context.Background(), []models.PredictionRecord{{Score: 1}})
	assert.ErrorContains(t, err, "symbol is required")
	assert.Equal(t, 0, cs.updates)
}

type leakySources struct {
	*repository.StaticSources
}

// Bars ignores asOf like a misconfigured query would.
func (l leakySources) Bars(context.Context, time.Time) ([]models.Bar, error) {
	return l.BarsData, nil
}

func captureFixture(t *testing.T, leaky bool) (*CaptureJob, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New([]store.Resource{{Name: "predictions", Path: filepath.Join(dir, "predictions.json.zst")}})
	require.NoError(t, err)

	src := &repository.StaticSources{
		BarsData: []models.Bar{
			{Symbol: "AAPL", Date: time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), Close: 192},
			{Symbol: "AAPL", Date: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), Close: 194},
		},
	}
	var sources domainrepo.MarketSources = src
	if leaky {
		sources = leakySources{src}
	}
	root := filepath.Join(dir, "snapshots")
	mgr := snapshot.NewManager(
		snapshot.Config{Root: root, Resource: "predictions", IsAbsent: func(err error) bool { return errors.Is(err, store.ErrAbsent) }},
		sources, st, nil, nil, nil, nil,
	)
	return NewCaptureJob(mgr, nil), root
}

func TestCaptureJobSavesBoundedSnapshot(t *testing.T) {
	job, root := captureFixture(t, false)

	man, err := job.Run(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", man.AsOf)
	bars, ok := man.Component(models.ComponentBars)
	require.True(t, ok)
	assert.Equal(t, 1, bars.Records)

	_, err = os.Stat(filepath.Join(root, "2024-06-01", "manifest.json"))
	assert.NoError(t, err)
}

func TestCaptureJobRefusesLeakingCapture(t *testing.T) {
	job, root := captureFixture(t, true)

	_, err := job.Run(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	var leak *snapshot.LeakageError
	require.True(t, errors.As(err, &leak))
	assert.Equal(t, []string{"2024-06-03"}, leak.Dates())

	_, err = os.Stat(filepath.Join(root, "2024-06-01"))
	assert.True(t, os.IsNotExist(err))
}

func TestArtifactReaderFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	idx := repository.NewCacheArtifactIndex(mc, 0)
	path := func(name string) string { return filepath.Join(dir, name+".json") }
	r := NewArtifactReader(idx, path, nil)
	ctx := context.Background()

	_, err := r.Artifact(ctx, "top_confidence")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	b, err := json.Marshal(models.OptimizedArtifact{Name: "top_confidence", SourceVersion: 3, Count: 0})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path("top_confidence"), b, 0o644))

	a, err := r.Artifact(ctx, "top_confidence")
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.SourceVersion)

	require.NoError(t, idx.PutArtifact(ctx, &models.OptimizedArtifact{Name: "top_confidence", SourceVersion: 4}))
	a, err = r.Artifact(ctx, "top_confidence")
	require.NoError(t, err)
	assert.Equal(t, int64(4), a.SourceVersion, "index wins when populated")
}
