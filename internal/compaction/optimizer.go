// Package compaction derives small ranked artifacts from a rolling store resource.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"FinStore/internal/domain/models"
	"FinStore/internal/domain/repository"
	"FinStore/pkg/durable"
	applogger "FinStore/pkg/logger"
)

// Source streams a rolling store resource.
type Source interface {
	Stream(ctx context.Context, name string, fn func(models.PredictionRecord) error) (models.Header, error)
}

// Observer receives run outcomes.
type Observer interface {
	RecordCompaction(seconds float64, ok bool)
}

// Spec describes one output artifact.
type Spec struct {
	Name   string
	TopK   int
	RankBy string
}

// ArtifactResult is the outcome of one artifact write.
type ArtifactResult struct {
	Name    string
	Path    string
	Entries int
	Err     error
}

// Report summarizes a Compact run.
type Report struct {
	Source    string
	Version   int64
	Scanned   int
	Artifacts []ArtifactResult
	Took      time.Duration
}

// Optimizer compacts one source resource into every configured artifact.
type Optimizer struct {
	source   Source
	resource string
	dir      string
	specs    []Spec
	rankers  []rankFunc
	writer   *durable.Writer
	index    repository.ArtifactIndex
	events   repository.EventPublisher
	obs      Observer
	logger   *applogger.Logger
	now      func() time.Time
}

// NewOptimizer validates specs. index, events and obs may be nil.
func NewOptimizer(source Source, resource, dir string, specs []Spec, w *durable.Writer, index repository.ArtifactIndex, events repository.EventPublisher, obs Observer, l *applogger.Logger) (*Optimizer, error) {
	if l == nil {
		l = applogger.Nop()
	}
	if w == nil {
		w = durable.NewWriter(durable.WithLogger(l))
	}
	if events == nil {
		events = repository.NopEvents{}
	}
	o := &Optimizer{source: source, resource: resource, dir: dir, writer: w, index: index, events: events, obs: obs, logger: l, now: time.Now}
	seen := map[string]bool{}
	for _, s := range specs {
		if s.Name == "" || s.TopK <= 0 {
			return nil, fmt.Errorf("artifact %q: name and positive top_k required", s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("artifact %q declared twice", s.Name)
		}
		seen[s.Name] = true
		r, err := rankerFor(s.RankBy)
		if err != nil {
			return nil, fmt.Errorf("artifact %q: %w", s.Name, err)
		}
		if s.RankBy == "" {
			s.RankBy = RankConfidence
		}
		o.specs = append(o.specs, s)
		o.rankers = append(o.rankers, r)
	}
	return o, nil
}

// ArtifactPath is where the artifact named name is written.
func (o *Optimizer) ArtifactPath(name string) string {
	return filepath.Join(o.dir, name+".json")
}

// Compact streams the source once and rewrites every artifact. Write failures are independent:
// each artifact is attempted and reported, and the returned error aggregates the failures.
func (o *Optimizer) Compact(ctx context.Context) (rep Report, err error) {
	start := time.Now()
	rep.Source = o.resource
	defer func() {
		rep.Took = time.Since(start)
		if o.obs != nil {
			o.obs.RecordCompaction(rep.Took.Seconds(), err == nil)
		}
	}()

	tops := make([]*topK, len(o.specs))
	for i, s := range o.specs {
		tops[i] = newTopK(s.TopK, o.rankers[i])
	}

	h, err := o.source.Stream(ctx, o.resource, func(r models.PredictionRecord) error {
		rep.Scanned++
		for _, t := range tops {
			t.offer(r)
		}
		return nil
	})
	if err != nil {
		return rep, err
	}
	rep.Version = h.Version

	generated := o.now().UTC()
	rep.Artifacts = make([]ArtifactResult, len(o.specs))
	artifacts := make([]*models.OptimizedArtifact, len(o.specs))

	var g multierror.Group
	for i, s := range o.specs {
		entries := tops[i].sorted()
		a := &models.OptimizedArtifact{
			Name:          s.Name,
			GeneratedAt:   generated,
			Source:        o.resource,
			SourceVersion: h.Version,
			RankBy:        s.RankBy,
			Count:         len(entries),
			Entries:       entries,
		}
		artifacts[i] = a
		path := o.ArtifactPath(s.Name)
		rep.Artifacts[i] = ArtifactResult{Name: s.Name, Path: path, Entries: len(entries)}

		g.Go(func() error {
			werr := o.write(ctx, path, a)
			rep.Artifacts[i].Err = werr
			if werr != nil {
				return fmt.Errorf("artifact %s: %w", s.Name, werr)
			}
			return nil
		})
	}
	merr := g.Wait()

	for i, res := range rep.Artifacts {
		if res.Err != nil {
			o.logger.Error("artifact write failed", applogger.String("artifact", res.Name), applogger.Error(res.Err))
			continue
		}
		if o.index != nil {
			if ierr := o.index.PutArtifact(ctx, artifacts[i]); ierr != nil {
				o.logger.Warn("artifact index update failed", applogger.String("artifact", res.Name), applogger.Error(ierr))
				// an older generation must not shadow the file just written
				if derr := o.index.DeleteArtifact(ctx, res.Name); derr != nil {
					o.logger.Warn("artifact index eviction failed", applogger.String("artifact", res.Name), applogger.Error(derr))
				}
			}
		}
	}

	o.logger.Info("compaction finished",
		applogger.String("source", o.resource),
		applogger.Int64("version", h.Version),
		applogger.Int("scanned", rep.Scanned),
		applogger.Int("artifacts", len(rep.Artifacts)),
		applogger.Duration("took_ms", time.Since(start)),
	)
	if perr := o.events.PublishEvent(ctx, models.StoreEvent{
		Type:     models.EventCompactionFinished,
		Resource: o.resource,
		Version:  h.Version,
		At:       generated,
	}); perr != nil {
		o.logger.Warn("publish compaction event failed", applogger.Error(perr))
	}

	return rep, merr.ErrorOrNil()
}

func (o *Optimizer) write(ctx context.Context, path string, a *models.OptimizedArtifact) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return o.writer.Write(ctx, path, b, durable.Critical)
}
