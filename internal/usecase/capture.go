package usecase

import (
	"context"
	"fmt"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/internal/snapshot"
	applogger "FinStore/pkg/logger"
	"FinStore/pkg/util"
)

// SnapshotWriter is the capture side of *snapshot.Manager.
type SnapshotWriter interface {
	Capture(ctx context.Context, asOf time.Time) (*models.EODSnapshot, error)
	Save(ctx context.Context, snap *models.EODSnapshot) (*models.Manifest, error)
}

// CaptureJob takes the end-of-day snapshot. A capture that would leak records dated after its
// as-of date is refused and nothing is written.
type CaptureJob struct {
	snapshots SnapshotWriter
	logger    *applogger.Logger
}

func NewCaptureJob(s SnapshotWriter, l *applogger.Logger) *CaptureJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &CaptureJob{snapshots: s, logger: l}
}

func (j *CaptureJob) Run(ctx context.Context, asOf time.Time) (*models.Manifest, error) {
	snap, err := j.snapshots.Capture(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", util.FormatDate(asOf), err)
	}
	if err := snapshot.Validate(snap); err != nil {
		j.logger.Error("captured snapshot leaks future data, not saving",
			applogger.Date("as_of", asOf),
			applogger.Error(err),
		)
		return nil, err
	}
	man, err := j.snapshots.Save(ctx, snap)
	if err != nil {
		return nil, err
	}
	return man, nil
}
