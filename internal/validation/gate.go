// Package validation rejects degenerate prediction sets before they are persisted.
package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"FinStore/internal/domain/models"
)

// DefaultMinStd is the smallest per-horizon score deviation accepted.
const DefaultMinStd = 2e-3

// HorizonStat summarizes one horizon's score vector.
type HorizonStat struct {
	Horizon   string
	Valid     int     // finite values
	Discarded int     // NaN or Inf
	Std       float64 // population std over valid values
}

// Insufficient reports that the horizon has too few values to judge.
func (h HorizonStat) Insufficient() bool { return h.Valid < 2 }

// RejectionError lists every offending horizon.
type RejectionError struct {
	MinStd   float64
	Horizons []HorizonStat // offending horizons, sorted by name
	Reason   string
}

func (e *RejectionError) Error() string {
	if len(e.Horizons) == 0 {
		return "validation rejected: " + e.Reason
	}
	parts := make([]string, 0, len(e.Horizons))
	for _, h := range e.Horizons {
		parts = append(parts, fmt.Sprintf("%s std=%.2g < min %.0e", h.Horizon, h.Std, e.MinStd))
	}
	return "validation rejected: degenerate horizons: " + strings.Join(parts, ", ")
}

// Observer receives per-horizon statistics.
type Observer interface {
	RecordHorizonStd(horizon string, std float64)
}

// Gate is the pre-persistence variance check.
type Gate struct {
	minStd float64
	obs    Observer
}

// NewGate builds a gate; minStd <= 0 selects DefaultMinStd.
func NewGate(minStd float64, obs Observer) *Gate {
	if minStd <= 0 {
		minStd = DefaultMinStd
	}
	return &Gate{minStd: minStd, obs: obs}
}

func (g *Gate) MinStd() float64 { return g.minStd }

// Validate returns nil or a *RejectionError.
func (g *Gate) Validate(byHorizon map[string][]float64) error {
	stats := Stats(byHorizon)

	var offending []HorizonStat
	valid := 0
	for _, s := range stats {
		if s.Insufficient() {
			continue
		}
		valid++
		if g.obs != nil {
			g.obs.RecordHorizonStd(s.Horizon, s.Std)
		}
		if s.Std < g.minStd {
			offending = append(offending, s)
		}
	}

	if valid == 0 {
		names := make([]string, 0, len(stats))
		for _, s := range stats {
			names = append(names, fmt.Sprintf("%s(%d valid)", s.Horizon, s.Valid))
		}
		reason := "no horizon has valid data"
		if len(names) > 0 {
			reason += ": " + strings.Join(names, ", ")
		}
		return &RejectionError{MinStd: g.minStd, Reason: reason}
	}
	if len(offending) > 0 {
		return &RejectionError{MinStd: g.minStd, Horizons: offending, Reason: "degenerate horizons"}
	}
	return nil
}

// ValidateState runs the gate over every horizon of state.
func (g *Gate) ValidateState(state *models.RollingState) error {
	return g.Validate(ByHorizon(state))
}

// Stats computes per-horizon statistics in horizon order.
func Stats(byHorizon map[string][]float64) []HorizonStat {
	keys := make([]string, 0, len(byHorizon))
	for k := range byHorizon {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]HorizonStat, 0, len(keys))
	for _, k := range keys {
		out = append(out, stat(k, byHorizon[k]))
	}
	return out
}

func stat(horizon string, values []float64) HorizonStat {
	s := HorizonStat{Horizon: horizon}
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.Discarded++
			continue
		}
		s.Valid++
		sum += v
	}
	if s.Valid == 0 {
		return s
	}
	mean := sum / float64(s.Valid)
	var sq float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		d := v - mean
		sq += d * d
	}
	s.Std = math.Sqrt(sq / float64(s.Valid))
	return s
}

// ByHorizon collects each horizon's scores across all symbols. Records without per-horizon
// scores contribute their primary score under the "default" horizon.
func ByHorizon(state *models.RollingState) map[string][]float64 {
	out := make(map[string][]float64)
	if state == nil {
		return out
	}
	symbols := make([]string, 0, len(state.Records))
	for s := range state.Records {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		rec := state.Records[sym]
		if len(rec.Horizons) == 0 {
			out[DefaultHorizon] = append(out[DefaultHorizon], rec.Score)
			continue
		}
		for h, v := range rec.Horizons {
			out[h] = append(out[h], v)
		}
	}
	return out
}

// DefaultHorizon names the bucket for records that carry only a primary score.
const DefaultHorizon = "default"
