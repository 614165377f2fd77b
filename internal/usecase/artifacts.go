package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"FinStore/internal/domain/models"
	"FinStore/internal/domain/repository"
	applogger "FinStore/pkg/logger"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactReader serves the latest optimized artifacts. The index is consulted first; the
// artifact file written by compaction is the fallback and the source of truth.
type ArtifactReader struct {
	index  repository.ArtifactIndex
	path   func(name string) string
	logger *applogger.Logger
}

func NewArtifactReader(index repository.ArtifactIndex, path func(name string) string, l *applogger.Logger) *ArtifactReader {
	if l == nil {
		l = applogger.Nop()
	}
	return &ArtifactReader{index: index, path: path, logger: l}
}

func (r *ArtifactReader) Artifact(ctx context.Context, name string) (*models.OptimizedArtifact, error) {
	if r.index != nil {
		a, err := r.index.GetArtifact(ctx, name)
		if err == nil {
			return a, nil
		}
		r.logger.Debug("artifact index miss", applogger.String("artifact", name), applogger.Error(err))
	}

	b, err := os.ReadFile(r.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	var a models.OptimizedArtifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", name, err)
	}
	return &a, nil
}
