package models

import (
	"sort"
	"time"
)

// QualityScore is the combined quality of one answer plus its per-metric breakdown.
type QualityScore struct {
	// Combined is the arithmetic mean of the Breakdown values, in [0,1].
	Combined float64 `json:"combined"`

	// Breakdown maps metric name to its score in [0,1].
	Breakdown map[string]float64 `json:"breakdown"`
}

// NewQualityScore builds a score from per-metric values. Combined is the mean
// of the values, or 0 when there are none.
func NewQualityScore(breakdown map[string]float64) QualityScore {
	score := QualityScore{Breakdown: make(map[string]float64, len(breakdown))}
	if len(breakdown) == 0 {
		return score
	}
	// Sum in key order so the mean is bit-for-bit reproducible.
	keys := make([]string, 0, len(breakdown))
	for name := range breakdown {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	var total float64
	for _, name := range keys {
		score.Breakdown[name] = breakdown[name]
		total += breakdown[name]
	}
	score.Combined = total / float64(len(keys))
	return score
}

// Metrics returns the breakdown metric names in sorted order.
func (q QualityScore) Metrics() []string {
	names := make([]string, 0, len(q.Breakdown))
	for name := range q.Breakdown {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ablation records the outcome of one leave-one-out run.
type Ablation struct {
	// Index is the position of the removed document in the full document list.
	Index int `json:"index"`

	// Removed identifies the document left out of this run.
	Removed SourceMeta `json:"removed"`

	// Answer is the answer generated without the removed document.
	Answer string `json:"answer"`

	// Quality is the quality of Answer measured against the remaining documents.
	Quality QualityScore `json:"quality"`

	// Impact is the full-context quality minus Quality.Combined.
	Impact float64 `json:"impact"`
}

// AttributionReport is the result of a leave-one-out attribution study.
//
// PerSourceImpact, SourcesMeta and Ablations are index-aligned with the
// documents resolved for the run, in the order their URLs were supplied.
type AttributionReport struct {
	RunID       string    `json:"run_id"`
	Question    string    `json:"question"`
	GeneratedAt time.Time `json:"generated_at"`

	FullAnswer      string       `json:"full_answer"`
	FullQuality     QualityScore `json:"full_quality"`
	PerSourceImpact []float64    `json:"per_source_impact"`
	SourcesMeta     []SourceMeta `json:"sources_meta"`

	Ablations []Ablation `json:"ablations"`

	// SoloQuality holds, when requested, the quality of an answer generated
	// from each document alone.
	SoloQuality []QualityScore `json:"solo_quality,omitempty"`
}
