package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinStore/internal/domain/models"
	"FinStore/internal/repository"
	"FinStore/internal/store"
	"FinStore/pkg/lock"
	applogger "FinStore/pkg/logger"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixtureSources() *repository.StaticSources {
	var bars []models.Bar
	for d := 28; d <= 31; d++ {
		bars = append(bars, models.Bar{Symbol: "AAPL", Date: day(2024, 5, d), Close: 190 + float64(d)})
	}
	bars = append(bars,
		models.Bar{Symbol: "AAPL", Date: day(2024, 6, 1), Close: 195},
		models.Bar{Symbol: "AAPL", Date: day(2024, 6, 3), Close: 197},
	)
	return &repository.StaticSources{
		BarsData: bars,
		FundamentalsData: []models.Fundamental{
			{Symbol: "AAPL", ReportDate: day(2024, 5, 2), Period: "2024Q1", Metrics: map[string]float64{"eps": 1.53}},
		},
		MacroData: []models.MacroPoint{
			{Series: "DGS10", Date: day(2024, 5, 31), Value: 4.51},
			{Series: "DGS10", Date: day(2024, 6, 4), Value: 4.33},
		},
		NewsData: []models.NewsItem{
			{ID: "n1", Symbol: "AAPL", Headline: "WWDC dates set", PublishedAt: time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)},
		},
		SentimentData: []models.SentimentPoint{
			{Symbol: "AAPL", Date: day(2024, 6, 1), Score: 0.31, Volume: 120},
		},
	}
}

type fixture struct {
	root    string
	store   *store.Store
	sources *repository.StaticSources
	mgr     *Manager
	log     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New([]store.Resource{{Name: "predictions", Path: filepath.Join(dir, "store", "predictions.json.zst"), LockRequired: true}})
	require.NoError(t, err)

	var buf bytes.Buffer
	src := fixtureSources()
	root := filepath.Join(dir, "snapshots")
	mgr := NewManager(
		Config{Root: root, Resource: "predictions", IsAbsent: func(err error) bool { return errors.Is(err, store.ErrAbsent) }},
		src, st, nil, nil, nil, applogger.NewWithWriter(&buf),
	)
	return &fixture{root: root, store: st, sources: src, mgr: mgr, log: &buf}
}

func seedStore(t *testing.T, st *store.Store) {
	t.Helper()
	_, err := st.Update(context.Background(), "predictions", func(cur *models.RollingState) (*models.RollingState, error) {
		cur.Merge([]models.PredictionRecord{
			{Symbol: "AAPL", Score: 0.02, Confidence: 0.7, Timestamp: time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)},
			{Symbol: "MSFT", Score: -0.03, Confidence: 0.6, Timestamp: time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)},
		})
		return cur, nil
	})
	require.NoError(t, err)
}

func TestCaptureSaveLoadRoundTrip(t *testing.T) {
	f := newFixture(t)
	seedStore(t, f.store)
	ctx := context.Background()
	asOf := day(2024, 6, 1)

	snap, err := f.mgr.Capture(ctx, asOf.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, asOf, snap.AsOf)
	assert.Len(t, snap.Bars, 5, "bar from 2024-06-03 is not captured")
	assert.Len(t, snap.Macro, 1)
	assert.Len(t, snap.Rolling.Records, 2)

	man, err := f.mgr.Save(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", man.AsOf)
	require.Len(t, man.Components, len(models.Components))
	bars, ok := man.Component(models.ComponentBars)
	require.True(t, ok)
	assert.Equal(t, 5, bars.Records)
	assert.Equal(t, "2024-05-28", bars.MinDate)
	assert.Equal(t, "2024-06-01", bars.MaxDate)
	assert.Len(t, bars.SHA256, 64)

	for _, c := range man.Components {
		_, err := os.Stat(filepath.Join(f.root, "2024-06-01", c.File))
		assert.NoError(t, err, c.File)
	}

	loaded, err := f.mgr.Load(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, snap.Bars[0].Close, loaded.Bars[0].Close)
	assert.True(t, snap.Bars[4].Date.Equal(loaded.Bars[4].Date))
	assert.Equal(t, snap.Fundamentals[0].Metrics, loaded.Fundamentals[0].Metrics)
	assert.Equal(t, int64(1), loaded.Rolling.Version)
	assert.Len(t, loaded.Rolling.Records, 2)
}

func TestCaptureWithAbsentStoreCopiesEmptyState(t *testing.T) {
	f := newFixture(t)
	snap, err := f.mgr.Capture(context.Background(), day(2024, 6, 1))
	require.NoError(t, err)
	require.NotNil(t, snap.Rolling)
	assert.Empty(t, snap.Rolling.Records)
}

func TestLoadRejectsFutureDatedBar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asOf := day(2024, 6, 1)

	snap := &models.EODSnapshot{
		AsOf: asOf,
		Bars: []models.Bar{
			{Symbol: "AAPL", Date: day(2024, 5, 31)},
			{Symbol: "AAPL", Date: day(2024, 6, 3)},
		},
		Rolling: models.NewRollingState("predictions"),
	}
	_, err := f.mgr.Save(ctx, snap)
	require.NoError(t, err)

	loaded, err := f.mgr.Load(ctx, asOf)
	var leak *LeakageError
	require.ErrorAs(t, err, &leak)
	assert.Equal(t, []string{"2024-06-03"}, leak.Dates())
	require.Len(t, leak.Violations, 1)
	assert.Equal(t, models.ComponentBars, leak.Violations[0].Component)
	assert.Equal(t, "AAPL", leak.Violations[0].Key)
	assert.Contains(t, err.Error(), "bars/AAPL@2024-06-03")

	require.NotNil(t, loaded, "leaking snapshot stays inspectable")
	assert.Len(t, loaded.Bars, 2)

	_, err = f.mgr.Open(ctx, asOf)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.root, "2024-06-01", "bars.json.zst"))
	assert.NoError(t, err, "rejection never deletes")
}

func TestValidateChecksEveryComponent(t *testing.T) {
	asOf := day(2024, 6, 1)
	late := day(2024, 6, 2)
	snap := &models.EODSnapshot{
		AsOf:         asOf,
		Fundamentals: []models.Fundamental{{Symbol: "X", Period: "2024Q2", ReportDate: late}},
		Macro:        []models.MacroPoint{{Series: "CPI", Date: late}},
		News:         []models.NewsItem{{ID: "n9", PublishedAt: late.Add(time.Hour)}},
		Sentiment:    []models.SentimentPoint{{Symbol: "X", Date: late}},
		Rolling: &models.RollingState{Records: map[string]models.PredictionRecord{
			"X": {Symbol: "X", Timestamp: late},
			"Y": {Symbol: "Y", Timestamp: asOf.Add(23 * time.Hour)},
		}},
	}
	err := Validate(snap)
	var leak *LeakageError
	require.ErrorAs(t, err, &leak)

	var comps []string
	for _, v := range leak.Violations {
		comps = append(comps, v.Component)
	}
	assert.Equal(t, []string{"fundamentals", "macro", "news", "rolling", "sentiment"}, comps)
}

func TestOpenDetectsCorruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asOf := day(2024, 6, 1)

	snap, err := f.mgr.Capture(ctx, asOf)
	require.NoError(t, err)
	_, err = f.mgr.Save(ctx, snap)
	require.NoError(t, err)

	path := filepath.Join(f.root, "2024-06-01", "news.json.zst")
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	_, err = f.mgr.Load(ctx, asOf)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadMissingDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Load(context.Background(), day(2023, 1, 2))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndResave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, d := range []time.Time{day(2024, 6, 3), day(2024, 5, 31), day(2024, 6, 1)} {
		snap, err := f.mgr.Capture(ctx, d)
		require.NoError(t, err)
		_, err = f.mgr.Save(ctx, snap)
		require.NoError(t, err)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "2024-06-02"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "scratch"), 0o755))

	dates, err := f.mgr.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2024, 5, 31), day(2024, 6, 1), day(2024, 6, 3)}, dates)

	snap, err := f.mgr.Capture(ctx, day(2024, 6, 1))
	require.NoError(t, err)
	snap.Sentiment = nil
	man, err := f.mgr.Save(ctx, snap)
	require.NoError(t, err)
	sent, _ := man.Component(models.ComponentSentiment)
	assert.Zero(t, sent.Records)
	assert.Contains(t, f.log.String(), "overwriting existing snapshot")

	loaded, err := f.mgr.Load(ctx, day(2024, 6, 1))
	require.NoError(t, err)
	assert.Empty(t, loaded.Sentiment)
}

func TestListEmptyRoot(t *testing.T) {
	mgr := NewManager(Config{Root: filepath.Join(t.TempDir(), "none")}, nil, nil, nil, nil, nil, nil)
	dates, err := mgr.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dates)

	_, err = mgr.Capture(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestSaveSerializesSameDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	locker := lock.NewMemLocker(nil)
	f.mgr.cfg.Locker = locker
	f.mgr.cfg.LockTimeout = 20 * time.Millisecond

	snap, err := f.mgr.Capture(ctx, day(2024, 6, 1))
	require.NoError(t, err)

	held, ok, err := locker.Acquire(ctx, f.mgr.Dir(day(2024, 6, 1)), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.mgr.Save(ctx, snap)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.mgr.ReadManifest(ctx, day(2024, 6, 1))
	assert.ErrorIs(t, err, ErrNotFound, "a refused save writes nothing")

	other, err := f.mgr.Capture(ctx, day(2024, 6, 2))
	require.NoError(t, err)
	_, err = f.mgr.Save(ctx, other)
	require.NoError(t, err, "other dates are not blocked")

	require.NoError(t, held.Release())
	_, err = f.mgr.Save(ctx, snap)
	require.NoError(t, err)
}

func TestListIgnoresLockSentinels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mgr.cfg.Locker = lock.NewFileLocker()

	snap, err := f.mgr.Capture(ctx, day(2024, 6, 1))
	require.NoError(t, err)
	_, err = f.mgr.Save(ctx, snap)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "2024-06-05.lock"), []byte("{}"), 0o644))

	dates, err := f.mgr.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2024, 6, 1)}, dates)
}
