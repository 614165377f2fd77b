package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/pkg/cache"
)

var ErrArtifactNotIndexed = errors.New("artifact not indexed")

// CacheArtifactIndex keeps the latest version of every artifact under artifact:<name>.
// Backed by Redis in multi-host deployments and by the memory cache otherwise.
type CacheArtifactIndex struct {
	c   cache.Service
	ttl time.Duration
}

func NewCacheArtifactIndex(c cache.Service, ttl time.Duration) *CacheArtifactIndex {
	return &CacheArtifactIndex{c: c, ttl: ttl}
}

func artifactKey(name string) string { return "artifact:" + name }

func (i *CacheArtifactIndex) PutArtifact(ctx context.Context, a *models.OptimizedArtifact) error {
	if err := i.c.Set(ctx, artifactKey(a.Name), a, i.ttl); err != nil {
		return fmt.Errorf("index artifact %s: %w", a.Name, err)
	}
	return nil
}

func (i *CacheArtifactIndex) GetArtifact(ctx context.Context, name string) (*models.OptimizedArtifact, error) {
	var a models.OptimizedArtifact
	if err := i.c.Get(ctx, artifactKey(name), &a); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrArtifactNotIndexed
		}
		return nil, fmt.Errorf("artifact %s: %w", name, err)
	}
	return &a, nil
}

// DeleteArtifact drops the indexed copy so readers fall back to the artifact file.
func (i *CacheArtifactIndex) DeleteArtifact(ctx context.Context, name string) error {
	if err := i.c.Delete(ctx, artifactKey(name)); err != nil {
		return fmt.Errorf("unindex artifact %s: %w", name, err)
	}
	return nil
}
