package models

import (
	"encoding/json"
	"time"
)

// PredictionRecord is the per-symbol entry of a rolling store.
type PredictionRecord struct {
	Symbol     string             `json:"symbol"`
	Score      float64            `json:"score"`      // primary return estimate
	Confidence float64            `json:"confidence"` // ranking field for compaction
	Horizons   map[string]float64 `json:"horizons,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	History    []float64          `json:"history,omitempty"` // historical curve, stripped by compaction
	Debug      json.RawMessage    `json:"debug,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// RecordDate implements Dated.
func (p PredictionRecord) RecordDate() time.Time { return p.Timestamp }

// RecordKey implements Dated.
func (p PredictionRecord) RecordKey() string { return p.Symbol }

// Clone returns a deep copy.
func (p PredictionRecord) Clone() PredictionRecord {
	out := p
	if p.Horizons != nil {
		out.Horizons = make(map[string]float64, len(p.Horizons))
		for k, v := range p.Horizons {
			out.Horizons[k] = v
		}
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	if p.History != nil {
		out.History = append([]float64(nil), p.History...)
	}
	if p.Debug != nil {
		out.Debug = append(json.RawMessage(nil), p.Debug...)
	}
	return out
}

// RollingState is the persisted envelope of a rolling store resource. Field order matters:
// records comes last so a streaming decoder sees the header first.
type RollingState struct {
	Resource  string                      `json:"resource"`
	Version   int64                       `json:"version"`
	UpdatedAt time.Time                   `json:"updated_at"`
	Records   map[string]PredictionRecord `json:"records"`
}

// NewRollingState returns an empty state for resource.
func NewRollingState(resource string) *RollingState {
	return &RollingState{Resource: resource, Records: make(map[string]PredictionRecord)}
}

// Clone returns a deep copy that a mutator may modify freely.
func (s *RollingState) Clone() *RollingState {
	if s == nil {
		return nil
	}
	out := &RollingState{
		Resource:  s.Resource,
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
		Records:   make(map[string]PredictionRecord, len(s.Records)),
	}
	for k, v := range s.Records {
		out.Records[k] = v.Clone()
	}
	return out
}

// Merge upserts records by symbol.
func (s *RollingState) Merge(records []PredictionRecord) {
	if s.Records == nil {
		s.Records = make(map[string]PredictionRecord, len(records))
	}
	for _, r := range records {
		s.Records[r.Symbol] = r
	}
}

// Header is the non-record part of a RollingState.
type Header struct {
	Resource  string    `json:"resource"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
