package replay

import (
	"context"
	"slices"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/internal/domain/repository"
)

// DataAccess is what consumers read through. Consumers that join their own auxiliary data
// must filter it to Context().AsOf() themselves.
type DataAccess interface {
	Context() Context
	Bars(ctx context.Context) ([]models.Bar, error)
	Fundamentals(ctx context.Context) ([]models.Fundamental, error)
	Macro(ctx context.Context) ([]models.MacroPoint, error)
	News(ctx context.Context) ([]models.NewsItem, error)
	Sentiment(ctx context.Context) ([]models.SentimentPoint, error)
	Predictions(ctx context.Context) (*models.RollingState, error)
}

type liveAccess struct {
	sources  repository.MarketSources
	rolling  RollingReader
	resource string
	now      func() time.Time
}

// Gateway serves either live sources or one snapshot, never both.
type Gateway struct {
	rc   Context
	live *liveAccess
	snap *models.EODSnapshot
}

var _ DataAccess = (*Gateway)(nil)

func (g *Gateway) Context() Context { return g.rc }

// Snapshot is nil in live mode.
func (g *Gateway) Snapshot() *models.EODSnapshot { return g.snap }

func (g *Gateway) Bars(ctx context.Context) ([]models.Bar, error) {
	if g.snap != nil {
		return slices.Clone(g.snap.Bars), ctx.Err()
	}
	return g.live.sources.Bars(ctx, g.live.now())
}

func (g *Gateway) Fundamentals(ctx context.Context) ([]models.Fundamental, error) {
	if g.snap != nil {
		return slices.Clone(g.snap.Fundamentals), ctx.Err()
	}
	return g.live.sources.Fundamentals(ctx, g.live.now())
}

func (g *Gateway) Macro(ctx context.Context) ([]models.MacroPoint, error) {
	if g.snap != nil {
		return slices.Clone(g.snap.Macro), ctx.Err()
	}
	return g.live.sources.Macro(ctx, g.live.now())
}

func (g *Gateway) News(ctx context.Context) ([]models.NewsItem, error) {
	if g.snap != nil {
		return slices.Clone(g.snap.News), ctx.Err()
	}
	return g.live.sources.News(ctx, g.live.now())
}

func (g *Gateway) Sentiment(ctx context.Context) ([]models.SentimentPoint, error) {
	if g.snap != nil {
		return slices.Clone(g.snap.Sentiment), ctx.Err()
	}
	return g.live.sources.Sentiment(ctx, g.live.now())
}

// Predictions returns a private copy of the rolling state.
func (g *Gateway) Predictions(ctx context.Context) (*models.RollingState, error) {
	if g.snap != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.snap.Rolling == nil {
			return models.NewRollingState(""), nil
		}
		return g.snap.Rolling.Clone(), nil
	}
	return g.live.rolling.Read(ctx, g.live.resource)
}
