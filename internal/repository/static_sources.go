package repository

import (
	"context"
	"sync/atomic"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/pkg/util"
)

// StaticSources serves fixed datasets, filtered to the as-of date like a live query would be.
// Used when no ClickHouse is configured and in tests.
type StaticSources struct {
	BarsData         []models.Bar
	FundamentalsData []models.Fundamental
	MacroData        []models.MacroPoint
	NewsData         []models.NewsItem
	SentimentData    []models.SentimentPoint

	calls atomic.Int64
}

// Calls reports how many source methods have been invoked.
func (s *StaticSources) Calls() int64 { return s.calls.Load() }

func upTo[T models.Dated](in []T, asOf time.Time) []T {
	out := make([]T, 0, len(in))
	for _, r := range in {
		if util.OnOrBefore(r.RecordDate(), asOf) {
			out = append(out, r)
		}
	}
	return out
}

func (s *StaticSources) Bars(ctx context.Context, asOf time.Time) ([]models.Bar, error) {
	s.calls.Add(1)
	return upTo(s.BarsData, asOf), ctx.Err()
}

func (s *StaticSources) Fundamentals(ctx context.Context, asOf time.Time) ([]models.Fundamental, error) {
	s.calls.Add(1)
	return upTo(s.FundamentalsData, asOf), ctx.Err()
}

func (s *StaticSources) Macro(ctx context.Context, asOf time.Time) ([]models.MacroPoint, error) {
	s.calls.Add(1)
	return upTo(s.MacroData, asOf), ctx.Err()
}

func (s *StaticSources) News(ctx context.Context, asOf time.Time) ([]models.NewsItem, error) {
	s.calls.Add(1)
	return upTo(s.NewsData, asOf), ctx.Err()
}

func (s *StaticSources) Sentiment(ctx context.Context, asOf time.Time) ([]models.SentimentPoint, error) {
	s.calls.Add(1)
	return upTo(s.SentimentData, asOf), ctx.Err()
}
