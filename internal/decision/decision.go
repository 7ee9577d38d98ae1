// Package decision picks a final taxonomy class from a ranked candidate
// list. It is a pure decision table: no I/O, deterministic given its
// inputs, unit-testable in isolation.
package decision

import (
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/logclass/internal/repository"
)

// Default threshold values. All three are tunable through config; the
// defaults come from the abstention policy: below MinScore a forced
// guess is worse than "unclassified", while within Margin of the
// runner-up the top class is still the most useful answer but should
// not carry full confidence.
const (
	DefaultMinScore         = 0.35
	DefaultMargin           = 0.05
	DefaultAmbiguityPenalty = 0.8
)

// Thresholds holds the decision policy parameters.
type Thresholds struct {
	// MinScore is the abstention floor: a top score below it yields
	// "unclassified".
	MinScore float64

	// Margin is the minimum top-to-second gap for full confidence.
	Margin float64

	// AmbiguityPenalty multiplies the confidence of close calls.
	AmbiguityPenalty float64
}

// DefaultThresholds returns the default decision policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinScore:         DefaultMinScore,
		Margin:           DefaultMargin,
		AmbiguityPenalty: DefaultAmbiguityPenalty,
	}
}

// Engine applies the threshold policy to ranked candidate lists.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates a decision engine. Zero-valued thresholds fall back
// to the defaults.
func NewEngine(t Thresholds) *Engine {
	if t.MinScore <= 0 {
		t.MinScore = DefaultMinScore
	}
	if t.Margin <= 0 {
		t.Margin = DefaultMargin
	}
	if t.AmbiguityPenalty <= 0 {
		t.AmbiguityPenalty = DefaultAmbiguityPenalty
	}
	return &Engine{thresholds: t}
}

// Decide picks the final class for a record from its ranked candidates.
// The full ranked list is attached to the decision for audit.
func (e *Engine) Decide(rec *repository.NormalizedRecord, ranked []repository.RankedCandidate, now time.Time) *repository.Decision {
	d := &repository.Decision{
		ID:         uuid.New(),
		DedupKey:   rec.DedupKey(),
		SourceType: rec.SourceType,
		SourceID:   rec.SourceID,
		Status:     repository.StatusAuto,
		Candidates: ranked,
		Attributes: map[string]string{},
		DecidedAt:  now,
		CreatedAt:  now,
	}

	if len(ranked) == 0 {
		d.ClassID = repository.ClassUnclassified
		d.Confidence = 0.0
		return d
	}

	top := ranked[0]

	if top.RerankScore < e.thresholds.MinScore {
		d.ClassID = repository.ClassUnclassified
		d.Confidence = top.RerankScore
		return d
	}

	d.ClassID = top.ClassID
	d.Confidence = top.RerankScore

	if len(ranked) > 1 {
		second := ranked[1]
		if top.RerankScore-second.RerankScore < e.thresholds.Margin {
			d.Confidence = top.RerankScore * e.thresholds.AmbiguityPenalty
		}
	}

	return d
}
