package compaction

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"FinStore/internal/domain/models"
)

// Ranking fields.
const (
	RankConfidence = "confidence"
	RankScore      = "score"
	RankAbsScore   = "abs_score"
)

// rankFunc extracts the ranking value of a record.
type rankFunc func(models.PredictionRecord) float64

func rankerFor(field string) (rankFunc, error) {
	switch field {
	case "", RankConfidence:
		return func(r models.PredictionRecord) float64 { return r.Confidence }, nil
	case RankScore:
		return func(r models.PredictionRecord) float64 { return r.Score }, nil
	case RankAbsScore:
		return func(r models.PredictionRecord) float64 { return math.Abs(r.Score) }, nil
	}
	return nil, fmt.Errorf("unknown rank field %q", field)
}

type ranked struct {
	rank  float64
	entry models.ArtifactEntry
}

// better orders by rank descending, then symbol ascending.
func better(a, b ranked) bool {
	if a.rank != b.rank {
		return a.rank > b.rank
	}
	return a.entry.Symbol < b.entry.Symbol
}

// minHeap keeps the worst retained entry on top.
type minHeap []ranked

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(ranked)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK retains the k best records seen, in memory proportional to k.
type topK struct {
	k    int
	rank rankFunc
	h    minHeap
}

func newTopK(k int, rank rankFunc) *topK {
	return &topK{k: k, rank: rank, h: make(minHeap, 0, k+1)}
}

func (t *topK) offer(r models.PredictionRecord) {
	v := t.rank(r)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	c := ranked{rank: v, entry: strip(r)}
	if len(t.h) < t.k {
		heap.Push(&t.h, c)
		return
	}
	if better(c, t.h[0]) {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// sorted returns the retained entries, best first.
func (t *topK) sorted() []models.ArtifactEntry {
	all := append([]ranked(nil), t.h...)
	sort.Slice(all, func(i, j int) bool { return better(all[i], all[j]) })
	out := make([]models.ArtifactEntry, len(all))
	for i, r := range all {
		out[i] = r.entry
	}
	return out
}

// strip drops history, debug and metadata.
func strip(r models.PredictionRecord) models.ArtifactEntry {
	e := models.ArtifactEntry{
		Symbol:     r.Symbol,
		Score:      r.Score,
		Confidence: r.Confidence,
		Timestamp:  r.Timestamp,
	}
	if len(r.Horizons) > 0 {
		e.Horizons = make(map[string]float64, len(r.Horizons))
		for k, v := range r.Horizons {
			e.Horizons[k] = v
		}
	}
	return e
}
