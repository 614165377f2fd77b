package models

import "time"

// OptimizedArtifact is a bounded projection of a rolling store written by compaction.
type OptimizedArtifact struct {
	Name          string          `json:"name"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Source        string          `json:"source"`
	SourceVersion int64           `json:"source_version"`
	RankBy        string          `json:"rank_by"`
	Count         int             `json:"count"`
	Entries       []ArtifactEntry `json:"entries"`
}

// ArtifactEntry is a PredictionRecord without history, debug or metadata.
type ArtifactEntry struct {
	Symbol     string             `json:"symbol"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Horizons   map[string]float64 `json:"horizons,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}
