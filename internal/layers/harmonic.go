package layers

import (
	"math"
	"time"
)

// harmonicEpoch anchors the harmonic series so runs are reproducible.
var harmonicEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Harmonic blends three id-seeded sine waves of different periods into a
// smooth deterministic daily series. It stands in for the position and
// transit layers, whose real inputs come from external ephemeris math.
type Harmonic struct {
	meta
	periods [3]float64
	phases  [3]float64
}

// NewHarmonic returns the harmonic unit for the given layer slot. The
// layer id seeds the periods and phase offsets, so each slot produces a
// distinct but stable series.
func NewHarmonic(id int, accuracy float64) *Harmonic {
	seed := float64(id)
	return &Harmonic{
		meta: meta{
			id:          id,
			name:        "Harmonic Influences",
			accuracy:    accuracy,
			methodology: "Blend of three fixed-period harmonic waves seeded by layer id",
			description: "Favorability from slow periodic influences approximated as layered harmonic waves with layer-specific periods and phases.",
			factors: []string{
				"harmonic_primary", "harmonic_secondary", "harmonic_tertiary",
				"harmonic_blend", "cycle_position",
			},
		},
		periods: [3]float64{27.32 + seed, 91.31 + 2*seed, 365.25},
		phases:  [3]float64{seed * 0.7, seed * 1.3, seed * 2.1},
	}
}

func (h *Harmonic) Features(date time.Time) (map[string]any, error) {
	day := date.Sub(harmonicEpoch).Hours() / 24

	primary := h.wave(0, day)
	secondary := h.wave(1, day)
	tertiary := h.wave(2, day)
	blend := 0.5*primary + 0.3*secondary + 0.2*tertiary

	return map[string]any{
		"harmonic_primary":   primary,
		"harmonic_secondary": secondary,
		"harmonic_tertiary":  tertiary,
		"harmonic_blend":     blend,
		"cycle_position":     math.Mod(day, h.periods[0]) / h.periods[0],
	}, nil
}

func (h *Harmonic) Score(date time.Time) (float64, error) {
	features, _ := h.Features(date)
	return clamp01(features["harmonic_blend"].(float64)), nil
}

// wave evaluates the i-th harmonic at the given day offset, in [0,1].
func (h *Harmonic) wave(i int, day float64) float64 {
	return 0.5 + 0.5*math.Sin(2*math.Pi*day/h.periods[i]+h.phases[i])
}
