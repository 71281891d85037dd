package aggregate

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"

	"github.com/daycast/daycast/pkg/types"
)

// Score bands used for the favorable/unfavorable day counts.
const (
	favorableThreshold   = 0.6
	unfavorableThreshold = 0.4
)

// Summarize computes the summary statistics block for one layer's annual
// data. Fallback days (zero confidence) are counted but still included in
// the score statistics, since they carry the neutral score that shipped.
func Summarize(daily []types.DailyScore) map[string]float64 {
	if len(daily) == 0 {
		return map[string]float64{}
	}

	scores := make([]float64, 0, len(daily))
	var failed int
	for _, d := range daily {
		scores = append(scores, d.Score)
		if d.Confidence == 0 {
			failed++
		}
	}

	mean, _ := stats.Mean(scores)
	median, _ := stats.Median(scores)
	highest, _ := stats.Max(scores)
	lowest, _ := stats.Min(scores)
	stddev := 0.0
	if len(scores) >= 2 {
		stddev, _ = stats.StandardDeviationSample(scores)
	}

	var favorable, unfavorable int
	for _, s := range scores {
		switch {
		case s > favorableThreshold:
			favorable++
		case s < unfavorableThreshold:
			unfavorable++
		}
	}

	return map[string]float64{
		"total_days":         float64(len(daily)),
		"valid_days":         float64(len(daily) - failed),
		"failed_days":        float64(failed),
		"average_score":      mean,
		"median_score":       median,
		"highest_score":      highest,
		"lowest_score":       lowest,
		"standard_deviation": stddev,
		"favorable_days":     float64(favorable),
		"unfavorable_days":   float64(unfavorable),
		"neutral_days":       float64(len(scores) - favorable - unfavorable),
	}
}

// CombinedDay is one day of the cross-layer weighted series.
type CombinedDay struct {
	Date       string  `json:"date"`
	DayOfYear  int     `json:"day_of_year"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Metadata describes one aggregation run.
type Metadata struct {
	RunID             string    `json:"run_id"`
	Year              int       `json:"year"`
	TotalLayers       int       `json:"total_layers"`
	SuccessfulLayers  int       `json:"successful_layers"`
	FailedLayers      int       `json:"failed_layers"`
	ProcessingSeconds float64   `json:"processing_seconds"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Aggregated is the cross-layer view of one engine run.
type Aggregated struct {
	LayerData         map[int]*types.LayerData `json:"layer_data"`
	CombinedDaily     []CombinedDay            `json:"combined_daily"`
	SummaryStatistics map[string]float64       `json:"summary_statistics"`
	Metadata          Metadata                 `json:"metadata"`
}

// Combine folds the successful layers into one accuracy-weighted daily
// series and attaches run metadata. requested is the number of layers the
// run asked for, so the failure count survives aggregation.
func Combine(results map[int]*types.LayerData, year, requested int, duration time.Duration) *Aggregated {
	agg := &Aggregated{
		LayerData: results,
		Metadata: Metadata{
			RunID:             uuid.NewString(),
			Year:              year,
			TotalLayers:       requested,
			SuccessfulLayers:  len(results),
			FailedLayers:      requested - len(results),
			ProcessingSeconds: duration.Seconds(),
			GeneratedAt:       time.Now().UTC(),
		},
	}
	if len(results) == 0 {
		agg.SummaryStatistics = map[string]float64{}
		return agg
	}

	// Stable layer order so the weighted fold is deterministic.
	ids := make([]int, 0, len(results))
	days := 0
	for id, ld := range results {
		ids = append(ids, id)
		if len(ld.AnnualData) > days {
			days = len(ld.AnnualData)
		}
	}
	sort.Ints(ids)

	combined := make([]CombinedDay, 0, days)
	for i := 0; i < days; i++ {
		var scoreSum, confSum, weightSum float64
		var date string
		var dayOfYear int
		for _, id := range ids {
			ld := results[id]
			if i >= len(ld.AnnualData) {
				continue
			}
			d := ld.AnnualData[i]
			w := ld.LayerInfo.AccuracyRating
			scoreSum += d.Score * w
			confSum += d.Confidence * w
			weightSum += w
			date = d.Date
			dayOfYear = d.DayOfYear
		}
		day := CombinedDay{Date: date, DayOfYear: dayOfYear, Score: 0.5}
		if weightSum > 0 {
			day.Score = scoreSum / weightSum
			day.Confidence = confSum / weightSum
		}
		combined = append(combined, day)
	}
	agg.CombinedDaily = combined

	scores := make([]types.DailyScore, len(combined))
	for i, d := range combined {
		scores[i] = types.DailyScore{Score: d.Score, Confidence: d.Confidence}
	}
	agg.SummaryStatistics = Summarize(scores)
	return agg
}
