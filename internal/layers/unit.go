package layers

import (
	"time"

	"github.com/daycast/daycast/pkg/types"
)

// Unit is the feature-provider contract consumed by the engine. Features
// must be pure with respect to the engine: no engine-visible side effects.
// A Unit may be expensive or fallible — the engine recovers per-day errors
// with a fallback score rather than aborting the layer.
type Unit interface {
	// Info describes the layer for result metadata and aggregation.
	Info() types.LayerInfo

	// Features returns the flat map of named values for the given day.
	// Values are numbers, booleans, or strings.
	Features(date time.Time) (map[string]any, error)

	// Score is the unit's built-in heuristic daily score, used only when
	// the layer has no scoring rules configured.
	Score(date time.Time) (float64, error)

	// Confidence reports how much the day's score should be trusted,
	// in [0,1]. Most units return their accuracy rating unchanged.
	Confidence(date time.Time) float64

	// FallbackScore is substituted when a day's computation fails.
	FallbackScore(date time.Time) float64
}

// meta carries the identity fields shared by every unit kind.
type meta struct {
	id          int
	name        string
	accuracy    float64
	methodology string
	description string
	factors     []string
}

func (m meta) Info() types.LayerInfo {
	return types.LayerInfo{
		ID:                 m.id,
		Name:               m.name,
		AccuracyRating:     m.accuracy,
		Methodology:        m.methodology,
		Description:        m.description,
		CalculationFactors: append([]string(nil), m.factors...),
	}
}

func (m meta) Confidence(time.Time) float64 { return m.accuracy }

func (m meta) FallbackScore(time.Time) float64 { return 0.5 }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
