package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinStore/internal/domain/models"
	"FinStore/internal/repository"
	"FinStore/internal/snapshot"
	"FinStore/internal/store"
	"FinStore/pkg/util"
)

func day(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

type env struct {
	sources *repository.StaticSources
	store   *store.Store
	snaps   *snapshot.Manager
	ctrl    *Controller
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New([]store.Resource{{Name: "predictions", Path: filepath.Join(dir, "predictions.json.zst"), LockRequired: true}})
	require.NoError(t, err)

	src := &repository.StaticSources{
		BarsData: []models.Bar{
			{Symbol: "AAPL", Date: day(5, 31), Close: 192},
			{Symbol: "AAPL", Date: day(6, 1), Close: 195},
			{Symbol: "AAPL", Date: day(6, 3), Close: 197},
		},
		MacroData: []models.MacroPoint{{Series: "DGS10", Date: day(6, 1), Value: 4.5}},
		NewsData:  []models.NewsItem{{ID: "n1", PublishedAt: day(6, 1).Add(13 * time.Hour)}},
	}
	mgr := snapshot.NewManager(snapshot.Config{
		Root:     filepath.Join(dir, "snapshots"),
		Resource: "predictions",
		IsAbsent: func(err error) bool { return errors.Is(err, store.ErrAbsent) },
	}, src, st, nil, nil, nil, nil)

	return &env{sources: src, store: st, snaps: mgr, ctrl: NewController(src, st, "predictions", mgr, nil)}
}

func (e *env) capture(t *testing.T, asOf time.Time) {
	t.Helper()
	snap, err := e.snaps.Capture(context.Background(), asOf)
	require.NoError(t, err)
	_, err = e.snaps.Save(context.Background(), snap)
	require.NoError(t, err)
}

func TestContext(t *testing.T) {
	rc, err := FromConfig("REPLAY", "2024-06-01")
	require.NoError(t, err)
	assert.True(t, rc.IsReplay())
	assert.Equal(t, day(6, 1), rc.AsOf())
	assert.Equal(t, "replay(2024-06-01)", rc.String())

	live, err := FromConfig("", "2024-06-01")
	require.NoError(t, err)
	assert.False(t, live.IsReplay())
	assert.True(t, live.AsOf().IsZero())
	assert.Equal(t, "live", live.String())

	_, err = FromConfig("replay", "")
	assert.Error(t, err)
	_, err = FromConfig("replay", "June 1")
	assert.Error(t, err)
	_, err = FromConfig("backtest", "2024-06-01")
	assert.Error(t, err)
	_, err = NewContext(Replay, time.Time{})
	assert.Error(t, err)

	rc, err = NewContext(Replay, day(6, 1).Add(17*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, day(6, 1), rc.AsOf())
}

func TestReplayReadsOnlyFromSnapshot(t *testing.T) {
	e := newEnv(t)
	e.capture(t, day(6, 1))

	rc, err := NewContext(Replay, day(6, 1))
	require.NoError(t, err)

	before := e.sources.Calls()
	gw, err := e.ctrl.Activate(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, rc, gw.Context())

	ctx := context.Background()
	bars, err := gw.Bars(ctx)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	macro, err := gw.Macro(ctx)
	require.NoError(t, err)
	news, err := gw.News(ctx)
	require.NoError(t, err)
	_, err = gw.Fundamentals(ctx)
	require.NoError(t, err)
	sent, err := gw.Sentiment(ctx)
	require.NoError(t, err)
	preds, err := gw.Predictions(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, e.sources.Calls(), "replay makes no live calls")

	var dated []models.Dated
	for _, b := range bars {
		dated = append(dated, b)
	}
	for _, m := range macro {
		dated = append(dated, m)
	}
	for _, n := range news {
		dated = append(dated, n)
	}
	for _, s := range sent {
		dated = append(dated, s)
	}
	for _, p := range preds.Records {
		dated = append(dated, p)
	}
	for _, d := range dated {
		assert.True(t, util.OnOrBefore(d.RecordDate(), rc.AsOf()), "%s dated %s", d.RecordKey(), d.RecordDate())
	}
}

func TestReplayIsReproducible(t *testing.T) {
	e := newEnv(t)
	e.capture(t, day(6, 1))
	rc, _ := NewContext(Replay, day(6, 1))

	a, err := e.ctrl.Activate(context.Background(), rc)
	require.NoError(t, err)
	first, err := a.Bars(context.Background())
	require.NoError(t, err)
	first[0].Close = -1

	// live data moves on; the snapshot must not
	e.sources.BarsData = append(e.sources.BarsData, models.Bar{Symbol: "MSFT", Date: day(5, 30)})

	b, err := e.ctrl.Activate(context.Background(), rc)
	require.NoError(t, err)
	second, err := b.Bars(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 192.0, second[0].Close)
}

func TestReplayFailsWithoutSnapshot(t *testing.T) {
	e := newEnv(t)
	rc, _ := NewContext(Replay, day(6, 1))

	gw, err := e.ctrl.Activate(context.Background(), rc)
	assert.Nil(t, gw)
	var un *UnavailableError
	require.ErrorAs(t, err, &un)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
	assert.Contains(t, err.Error(), "snapshot missing/invalid for date 2024-06-01")
	assert.Zero(t, e.sources.Calls(), "no fallback to live data")
}

func TestReplayRefusesLeakingSnapshot(t *testing.T) {
	e := newEnv(t)
	_, err := e.snaps.Save(context.Background(), &models.EODSnapshot{
		AsOf: day(6, 1),
		Bars: []models.Bar{{Symbol: "AAPL", Date: day(6, 3)}},
	})
	require.NoError(t, err)

	rc, _ := NewContext(Replay, day(6, 1))
	_, err = e.ctrl.Activate(context.Background(), rc)
	var leak *snapshot.LeakageError
	require.ErrorAs(t, err, &leak)
	assert.Equal(t, []string{"2024-06-03"}, leak.Dates())
}

func TestLiveGatewayReadsProducers(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.Update(context.Background(), "predictions", func(cur *models.RollingState) (*models.RollingState, error) {
		cur.Merge([]models.PredictionRecord{{Symbol: "AAPL", Score: 0.1}})
		return cur, nil
	})
	require.NoError(t, err)

	gw, err := e.ctrl.Activate(context.Background(), LiveContext())
	require.NoError(t, err)
	assert.Nil(t, gw.Snapshot())

	bars, err := gw.Bars(context.Background())
	require.NoError(t, err)
	assert.Len(t, bars, 3)
	assert.Equal(t, int64(1), e.sources.Calls())

	preds, err := gw.Predictions(context.Background())
	require.NoError(t, err)
	assert.Contains(t, preds.Records, "AAPL")
}
