package repository

import (
	"context"
	"time"

	"FinStore/internal/domain/models"
)

// BarSource serves daily bars up to and including asOf.
type BarSource interface {
	Bars(ctx context.Context, asOf time.Time) ([]models.Bar, error)
}

type FundamentalSource interface {
	Fundamentals(ctx context.Context, asOf time.Time) ([]models.Fundamental, error)
}

type MacroSource interface {
	Macro(ctx context.Context, asOf time.Time) ([]models.MacroPoint, error)
}

type NewsSource interface {
	News(ctx context.Context, asOf time.Time) ([]models.NewsItem, error)
}

type SentimentSource interface {
	Sentiment(ctx context.Context, asOf time.Time) ([]models.SentimentPoint, error)
}

// MarketSources bundles every live producer the snapshot manager and the replay gateway read.
type MarketSources interface {
	BarSource
	FundamentalSource
	MacroSource
	NewsSource
	SentimentSource
}

// EventPublisher announces on-disk state changes to other processes.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.StoreEvent) error
}

// ArtifactIndex mirrors optimized artifacts for hosts without the artifact directory.
type ArtifactIndex interface {
	PutArtifact(ctx context.Context, a *models.OptimizedArtifact) error
	GetArtifact(ctx context.Context, name string) (*models.OptimizedArtifact, error)
	DeleteArtifact(ctx context.Context, name string) error
}

// Metrics is the union of the observers each component accepts.
type Metrics interface {
	RecordLockWait(backend string, seconds float64, acquired bool)
	RecordStaleReclaim()
	RecordWriteAttempt(criticality string, ok bool)
	RecordUpdate(resource, status string)
	RecordHorizonStd(horizon string, std float64)
	RecordCompaction(seconds float64, ok bool)
	RecordSnapshotSaved(ok bool)
	RecordError(kind string)
}

// NopEvents discards events.
type NopEvents struct{}

func (NopEvents) PublishEvent(context.Context, models.StoreEvent) error { return nil }
