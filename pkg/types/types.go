package types

// LayerInfo describes one calculation layer: its identity, accuracy rating
// and the factors that feed its score.
type LayerInfo struct {
	ID int `json:"id"`

	// Name is the human-readable layer name, e.g. "Astronomical Facts".
	Name string `json:"name"`

	// AccuracyRating is the layer's weight in cross-layer aggregation,
	// in the range 0–1. 1.0 means mathematically verifiable.
	AccuracyRating float64 `json:"accuracy_rating"`

	// Methodology is a short description of how the layer computes scores.
	Methodology string `json:"methodology"`

	Description string `json:"description"`

	// CalculationFactors lists the feature names the layer produces.
	CalculationFactors []string `json:"calculation_factors"`
}

// DailyScore is the favorability result for a single calendar day.
// Immutable once created; Score and Confidence are always in [0,1].
type DailyScore struct {
	// Date is the ISO calendar date, e.g. "2026-03-14".
	Date string `json:"date"`

	// DayOfYear is 1-based and unique within a LayerData.
	DayOfYear int `json:"day_of_year"`

	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`

	// ContributingFactors is the feature vector the score was derived from.
	// For fallback days it instead carries "error" and "fallback_used" markers.
	ContributingFactors map[string]any `json:"contributing_factors"`
}

// LayerData is the complete annual output of one layer run.
// AnnualData holds exactly one entry per day of the year, in calendar order.
type LayerData struct {
	LayerInfo           LayerInfo          `json:"layer_info"`
	AnnualData          []DailyScore       `json:"annual_data"`
	SummaryStatistics   map[string]float64 `json:"summary_statistics"`
	CalculationMetadata map[string]any     `json:"calculation_metadata"`
}
