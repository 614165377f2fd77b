package replay

import (
	"context"
	"fmt"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/internal/domain/repository"
	applogger "FinStore/pkg/logger"
	"FinStore/pkg/util"
)

// SnapshotLoader loads a snapshot validated for replay.
type SnapshotLoader interface {
	Load(ctx context.Context, date time.Time) (*models.EODSnapshot, error)
}

// RollingReader is the read side of the rolling store.
type RollingReader interface {
	Read(ctx context.Context, name string) (*models.RollingState, error)
}

// UnavailableError fails a replay run whose snapshot is missing or invalid. There is no
// fallback to live data.
type UnavailableError struct {
	AsOf time.Time
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("snapshot missing/invalid for date %s: %v", util.FormatDate(e.AsOf), e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Controller hands out gateways for a replay context.
type Controller struct {
	sources   repository.MarketSources
	rolling   RollingReader
	resource  string
	snapshots SnapshotLoader
	logger    *applogger.Logger
	now       func() time.Time
}

func NewController(sources repository.MarketSources, rolling RollingReader, resource string, snapshots SnapshotLoader, l *applogger.Logger) *Controller {
	if l == nil {
		l = applogger.Nop()
	}
	return &Controller{sources: sources, rolling: rolling, resource: resource, snapshots: snapshots, logger: l, now: time.Now}
}

// Activate returns a gateway bound to rc. In replay mode the snapshot for rc.AsOf must exist
// and pass leakage validation.
func (c *Controller) Activate(ctx context.Context, rc Context) (*Gateway, error) {
	if !rc.IsReplay() {
		return &Gateway{rc: LiveContext(), live: &liveAccess{sources: c.sources, rolling: c.rolling, resource: c.resource, now: c.now}}, nil
	}

	snap, err := c.snapshots.Load(ctx, rc.AsOf())
	if err != nil {
		c.logger.Error("replay unavailable",
			applogger.Date("as_of", rc.AsOf()),
			applogger.Error(err),
		)
		return nil, &UnavailableError{AsOf: rc.AsOf(), Err: err}
	}
	c.logger.Info("replay activated",
		applogger.Date("as_of", rc.AsOf()),
		applogger.Int("bars", len(snap.Bars)),
	)
	return &Gateway{rc: rc, snap: snap}, nil
}
