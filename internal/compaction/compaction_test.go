package compaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinStore/internal/domain/models"
	"FinStore/internal/store"
	"FinStore/pkg/durable"
)

var fixed = time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)

func seeded(t *testing.T, n int) (*store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New([]store.Resource{{Name: "predictions", Path: filepath.Join(dir, "predictions.json.zst"), LockRequired: true}})
	require.NoError(t, err)

	rnd := rand.New(rand.NewSource(42))
	recs := make([]models.PredictionRecord, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, models.PredictionRecord{
			Symbol:     fmt.Sprintf("SYM%05d", i),
			Score:      rnd.NormFloat64() * 0.05,
			Confidence: float64(rnd.Intn(10000)) / 10000,
			Horizons:   map[string]float64{"1d": rnd.Float64()},
			Metadata:   map[string]string{"model": "v7"},
			History:    []float64{1, 2, 3},
			Debug:      json.RawMessage(`{"trace":"x"}`),
			Timestamp:  fixed,
		})
	}
	_, err = st.Update(context.Background(), "predictions", func(cur *models.RollingState) (*models.RollingState, error) {
		cur.Merge(recs)
		return cur, nil
	})
	require.NoError(t, err)
	return st, dir
}

func newOptimizer(t *testing.T, st *store.Store, dir string, specs []Spec, opts ...durable.WriterOption) *Optimizer {
	t.Helper()
	o, err := NewOptimizer(st, "predictions", filepath.Join(dir, "artifacts"), specs, durable.NewWriter(append([]durable.WriterOption{durable.WithRetry(2, 0)}, opts...)...), nil, nil, nil, nil)
	require.NoError(t, err)
	o.now = func() time.Time { return fixed }
	return o
}

func readArtifact(t *testing.T, path string) (models.OptimizedArtifact, []byte) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var a models.OptimizedArtifact
	require.NoError(t, json.Unmarshal(b, &a))
	return a, b
}

func TestCompactTop200Of5000(t *testing.T) {
	st, dir := seeded(t, 5000)
	o := newOptimizer(t, st, dir, []Spec{{Name: "top_confidence", TopK: 200, RankBy: RankConfidence}})

	rep, err := o.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000, rep.Scanned)
	assert.Equal(t, int64(1), rep.Version)
	require.Len(t, rep.Artifacts, 1)
	assert.Equal(t, 200, rep.Artifacts[0].Entries)

	a, first := readArtifact(t, o.ArtifactPath("top_confidence"))
	require.Len(t, a.Entries, 200)
	assert.Equal(t, 200, a.Count)
	assert.Equal(t, "predictions", a.Source)
	for i := 1; i < len(a.Entries); i++ {
		prev, cur := a.Entries[i-1], a.Entries[i]
		assert.True(t, prev.Confidence > cur.Confidence || (prev.Confidence == cur.Confidence && prev.Symbol < cur.Symbol),
			"entry %d out of order", i)
	}

	state, err := st.Read(context.Background(), "predictions")
	require.NoError(t, err)
	all := make([]models.PredictionRecord, 0, len(state.Records))
	for _, r := range state.Records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].Symbol < all[j].Symbol
	})
	for i := range a.Entries {
		assert.Equal(t, all[i].Symbol, a.Entries[i].Symbol)
	}

	assert.NotContains(t, string(first), "history")
	assert.NotContains(t, string(first), "debug")
	assert.NotContains(t, string(first), "metadata")

	_, err = o.Compact(context.Background())
	require.NoError(t, err)
	_, second := readArtifact(t, o.ArtifactPath("top_confidence"))
	assert.Equal(t, first, second, "unchanged source compacts to identical bytes")
}

func TestCompactDeterministicApartFromTimestamp(t *testing.T) {
	st, dir := seeded(t, 300)
	o := newOptimizer(t, st, dir, []Spec{{Name: "movers", TopK: 50, RankBy: RankAbsScore}})

	_, err := o.Compact(context.Background())
	require.NoError(t, err)
	a1, _ := readArtifact(t, o.ArtifactPath("movers"))

	o.now = func() time.Time { return fixed.Add(time.Hour) }
	_, err = o.Compact(context.Background())
	require.NoError(t, err)
	a2, _ := readArtifact(t, o.ArtifactPath("movers"))

	assert.False(t, a1.GeneratedAt.Equal(a2.GeneratedAt))
	a2.GeneratedAt = a1.GeneratedAt
	assert.Equal(t, a1, a2)
}

func TestTopKTiesAndRankFields(t *testing.T) {
	recs := []models.PredictionRecord{
		{Symbol: "D", Score: -0.9, Confidence: 0.5},
		{Symbol: "B", Score: 0.3, Confidence: 0.5},
		{Symbol: "A", Score: 0.1, Confidence: 0.5},
		{Symbol: "C", Score: 0.5, Confidence: 0.9},
	}
	symbols := func(field string, k int) []string {
		r, err := rankerFor(field)
		require.NoError(t, err)
		top := newTopK(k, r)
		for _, rec := range recs {
			top.offer(rec)
		}
		var out []string
		for _, e := range top.sorted() {
			out = append(out, e.Symbol)
		}
		return out
	}

	assert.Equal(t, []string{"C", "A", "B"}, symbols(RankConfidence, 3))
	assert.Equal(t, []string{"C", "B"}, symbols(RankScore, 2))
	assert.Equal(t, []string{"D", "C"}, symbols(RankAbsScore, 2))
	assert.Len(t, symbols(RankScore, 10), 4)

	_, err := rankerFor("volume")
	assert.Error(t, err)
}

type failingFS struct{ durable.OSFS }

func (failingFS) Rename(oldpath, newpath string) error {
	if strings.Contains(newpath, "broken") {
		return errors.New("no space left on device")
	}
	return os.Rename(oldpath, newpath)
}

func TestCompactArtifactFailuresAreIndependent(t *testing.T) {
	st, dir := seeded(t, 100)
	o := newOptimizer(t, st, dir, []Spec{
		{Name: "broken", TopK: 10},
		{Name: "top_confidence", TopK: 10},
	}, durable.WithFS(failingFS{}))

	rep, err := o.Compact(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact broken")

	require.Len(t, rep.Artifacts, 2)
	assert.Error(t, rep.Artifacts[0].Err)
	assert.NoError(t, rep.Artifacts[1].Err)

	a, _ := readArtifact(t, o.ArtifactPath("top_confidence"))
	assert.Len(t, a.Entries, 10)
	_, statErr := os.Stat(o.ArtifactPath("broken"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompactAbsentSource(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New([]store.Resource{{Name: "predictions", Path: filepath.Join(dir, "p.json.zst")}})
	require.NoError(t, err)
	o := newOptimizer(t, st, dir, []Spec{{Name: "a", TopK: 5}})

	_, err = o.Compact(context.Background())
	assert.ErrorIs(t, err, store.ErrAbsent)
}

func TestNewOptimizerRejectsBadSpecs(t *testing.T) {
	for _, specs := range [][]Spec{
		{{Name: "", TopK: 1}},
		{{Name: "a", TopK: 0}},
		{{Name: "a", TopK: 1}, {Name: "a", TopK: 2}},
		{{Name: "a", TopK: 1, RankBy: "volume"}},
	} {
		_, err := NewOptimizer(nil, "predictions", t.TempDir(), specs, nil, nil, nil, nil, nil)
		assert.Error(t, err)
	}
}

type countingCompactor struct {
	n   int32
	err error
}

func (c *countingCompactor) Compact(context.Context) (Report, error) {
	atomic.AddInt32(&c.n, 1)
	return Report{Source: "predictions"}, c.err
}

func TestSchedulerRunsImmediatelyThenOnInterval(t *testing.T) {
	c := &countingCompactor{err: store.ErrAbsent}
	s := NewScheduler(c, 10*time.Millisecond, nil)
	runs := make(chan Report, 16)
	s.Notify(runs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d never happened", i)
		}
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&c.n), int32(3))
}

// flakyIndex rejects every put and remembers which names were evicted.
type flakyIndex struct {
	stale   map[string]*models.OptimizedArtifact
	deleted []string
}

func (f *flakyIndex) PutArtifact(context.Context, *models.OptimizedArtifact) error {
	return errors.New("redis: connection refused")
}

func (f *flakyIndex) GetArtifact(_ context.Context, name string) (*models.OptimizedArtifact, error) {
	a, ok := f.stale[name]
	if !ok {
		return nil, errors.New("not indexed")
	}
	return a, nil
}

func (f *flakyIndex) DeleteArtifact(_ context.Context, name string) error {
	delete(f.stale, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func TestCompactEvictsIndexEntryWhenPutFails(t *testing.T) {
	st, dir := seeded(t, 50)
	idx := &flakyIndex{stale: map[string]*models.OptimizedArtifact{
		"top_confidence": {Name: "top_confidence", SourceVersion: 0},
	}}
	o, err := NewOptimizer(st, "predictions", filepath.Join(dir, "artifacts"),
		[]Spec{{Name: "top_confidence", TopK: 10, RankBy: RankConfidence}},
		durable.NewWriter(durable.WithRetry(1, 0)), idx, nil, nil, nil)
	require.NoError(t, err)

	_, err = o.Compact(context.Background())
	require.NoError(t, err, "index failures are best-effort")
	assert.Equal(t, []string{"top_confidence"}, idx.deleted)
	assert.Empty(t, idx.stale)

	a, _ := readArtifact(t, o.ArtifactPath("top_confidence"))
	assert.Equal(t, int64(1), a.SourceVersion)
}
