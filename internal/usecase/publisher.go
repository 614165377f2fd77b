package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/internal/store"
	"FinStore/internal/validation"
	applogger "FinStore/pkg/logger"
)

// RollingStore is the part of *store.Store producers use.
type RollingStore interface {
	Read(ctx context.Context, name string) (*models.RollingState, error)
	Update(ctx context.Context, name string, mutate store.Mutator) (store.Result, error)
}

// PredictionPublisher merges prediction batches into a rolling store resource. A batch is
// checked against the current state before the lock is taken, so a degenerate batch is refused
// without contending for it; the store repeats the check inside its critical section.
type PredictionPublisher struct {
	store    RollingStore
	gate     *validation.Gate
	resource string
	logger   *applogger.Logger
	now      func() time.Time
}

func NewPredictionPublisher(st RollingStore, gate *validation.Gate, resource string, l *applogger.Logger) *PredictionPublisher {
	if l == nil {
		l = applogger.Nop()
	}
	return &PredictionPublisher{store: st, gate: gate, resource: resource, logger: l, now: time.Now}
}

// Publish merges batch into the resource. Records without a timestamp are stamped with the
// publish time. Busy and Degraded outcomes are reported through the Result with a nil error.
func (p *PredictionPublisher) Publish(ctx context.Context, batch []models.PredictionRecord) (store.Result, error) {
	if len(batch) == 0 {
		return store.Result{Resource: p.resource, Status: store.Unchanged}, nil
	}
	now := p.now().UTC()
	stamped := make([]models.PredictionRecord, len(batch))
	for i, r := range batch {
		if r.Symbol == "" {
			return store.Result{Resource: p.resource, Status: store.Failed}, fmt.Errorf("record %d: symbol is required", i)
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		stamped[i] = r
	}

	if p.gate != nil {
		if err := p.precheck(ctx, stamped); err != nil {
			return store.Result{Resource: p.resource, Status: store.Rejected}, err
		}
	}

	res, err := p.store.Update(ctx, p.resource, func(s *models.RollingState) (*models.RollingState, error) {
		s.Merge(stamped)
		return s, nil
	})
	if err != nil {
		return res, err
	}
	p.logger.Info("predictions published",
		applogger.String("resource", p.resource),
		applogger.String("status", string(res.Status)),
		applogger.Int64("version", res.Version),
		applogger.Int("batch", len(batch)),
	)
	return res, nil
}

func (p *PredictionPublisher) precheck(ctx context.Context, batch []models.PredictionRecord) error {
	current, err := p.store.Read(ctx, p.resource)
	switch {
	case errors.Is(err, store.ErrAbsent):
		current = models.NewRollingState(p.resource)
	case err != nil:
		return fmt.Errorf("precheck read: %w", err)
	}
	current.Merge(batch)
	if err := p.gate.ValidateState(current); err != nil {
		p.logger.Warn("prediction batch rejected before commit",
			applogger.String("resource", p.resource),
			applogger.Int("batch", len(batch)),
			applogger.Error(err),
		)
		return err
	}
	return nil
}
