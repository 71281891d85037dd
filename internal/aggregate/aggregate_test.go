package aggregate

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/daycast/daycast/pkg/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func daily(scores ...float64) []types.DailyScore {
	out := make([]types.DailyScore, len(scores))
	for i, s := range scores {
		out[i] = types.DailyScore{
			Date:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02"),
			DayOfYear:  i + 1,
			Score:      s,
			Confidence: 0.9,
		}
	}
	return out
}

func TestSummarize(t *testing.T) {
	data := daily(0.2, 0.5, 0.8, 0.9)
	data[0].Confidence = 0 // a fallback day

	stats := Summarize(data)
	if stats["total_days"] != 4 {
		t.Errorf("total_days = %v, want 4", stats["total_days"])
	}
	if stats["valid_days"] != 3 || stats["failed_days"] != 1 {
		t.Errorf("valid/failed = %v/%v, want 3/1", stats["valid_days"], stats["failed_days"])
	}
	if !almostEqual(stats["average_score"], 0.6) {
		t.Errorf("average_score = %v, want 0.6", stats["average_score"])
	}
	if !almostEqual(stats["median_score"], 0.65) {
		t.Errorf("median_score = %v, want 0.65", stats["median_score"])
	}
	if stats["highest_score"] != 0.9 || stats["lowest_score"] != 0.2 {
		t.Errorf("extremes = %v/%v, want 0.9/0.2", stats["highest_score"], stats["lowest_score"])
	}
	if stats["favorable_days"] != 2 {
		t.Errorf("favorable_days = %v, want 2 (> 0.6)", stats["favorable_days"])
	}
	if stats["unfavorable_days"] != 1 {
		t.Errorf("unfavorable_days = %v, want 1 (< 0.4)", stats["unfavorable_days"])
	}
	if stats["neutral_days"] != 1 {
		t.Errorf("neutral_days = %v, want 1", stats["neutral_days"])
	}
	if stats["standard_deviation"] <= 0 {
		t.Errorf("standard_deviation = %v, want > 0", stats["standard_deviation"])
	}
}

func TestSummarize_Empty(t *testing.T) {
	stats := Summarize(nil)
	if len(stats) != 0 {
		t.Errorf("Summarize(nil) = %v, want empty", stats)
	}
}

func TestSummarize_SingleDay(t *testing.T) {
	stats := Summarize(daily(0.7))
	if stats["standard_deviation"] != 0 {
		t.Errorf("single-day stddev = %v, want 0", stats["standard_deviation"])
	}
	if stats["average_score"] != 0.7 {
		t.Errorf("average_score = %v, want 0.7", stats["average_score"])
	}
}

func layerData(id int, accuracy float64, scores ...float64) *types.LayerData {
	return &types.LayerData{
		LayerInfo:  types.LayerInfo{ID: id, AccuracyRating: accuracy},
		AnnualData: daily(scores...),
	}
}

func TestCombine_AccuracyWeighted(t *testing.T) {
	results := map[int]*types.LayerData{
		1: layerData(1, 1.0, 0.8, 0.8),
		8: layerData(8, 0.3, 0.2, 0.2),
	}
	agg := Combine(results, 2026, 2, 2*time.Second)

	if len(agg.CombinedDaily) != 2 {
		t.Fatalf("CombinedDaily length = %d, want 2", len(agg.CombinedDaily))
	}
	// (0.8*1.0 + 0.2*0.3) / 1.3
	want := (0.8 + 0.06) / 1.3
	if !almostEqual(agg.CombinedDaily[0].Score, want) {
		t.Errorf("combined score = %v, want %v", agg.CombinedDaily[0].Score, want)
	}
	if agg.CombinedDaily[0].Date != "2026-01-01" || agg.CombinedDaily[0].DayOfYear != 1 {
		t.Errorf("combined day identity = %s/%d", agg.CombinedDaily[0].Date, agg.CombinedDaily[0].DayOfYear)
	}

	md := agg.Metadata
	if md.RunID == "" {
		t.Error("RunID empty")
	}
	if md.TotalLayers != 2 || md.SuccessfulLayers != 2 || md.FailedLayers != 0 {
		t.Errorf("metadata counts = %+v", md)
	}
	if md.ProcessingSeconds != 2 {
		t.Errorf("ProcessingSeconds = %v, want 2", md.ProcessingSeconds)
	}
}

func TestCombine_CountsFailedLayers(t *testing.T) {
	results := map[int]*types.LayerData{
		1: layerData(1, 1.0, 0.5),
	}
	agg := Combine(results, 2026, 3, time.Second)
	if agg.Metadata.FailedLayers != 2 {
		t.Errorf("FailedLayers = %d, want 2", agg.Metadata.FailedLayers)
	}
}

func TestCombine_Empty(t *testing.T) {
	agg := Combine(nil, 2026, 4, time.Second)
	if len(agg.CombinedDaily) != 0 {
		t.Errorf("CombinedDaily = %v, want empty", agg.CombinedDaily)
	}
	if agg.Metadata.SuccessfulLayers != 0 || agg.Metadata.FailedLayers != 4 {
		t.Errorf("metadata = %+v", agg.Metadata)
	}
}

func TestExportJSON(t *testing.T) {
	dir := t.TempDir()
	results := map[int]*types.LayerData{
		1: layerData(1, 1.0, 0.8),
		3: layerData(3, 0.8, 0.6),
	}
	agg := Combine(results, 2026, 2, time.Second)

	written, err := ExportJSON(agg, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	// Two layer files plus the combined document.
	if len(written) != 3 {
		t.Fatalf("written = %v, want 3 files", written)
	}

	raw, err := os.ReadFile(written[1])
	if err != nil {
		t.Fatalf("read layer file: %v", err)
	}
	var ld types.LayerData
	if err := json.Unmarshal(raw, &ld); err != nil {
		t.Fatalf("layer file is not valid JSON: %v", err)
	}
	if ld.LayerInfo.ID != 1 {
		t.Errorf("exported layer id = %d, want 1", ld.LayerInfo.ID)
	}
	if filepath.Base(written[1]) != "layer_01_data.json" {
		t.Errorf("layer file name = %s, want layer_01_data.json", filepath.Base(written[1]))
	}

	raw, err = os.ReadFile(written[0])
	if err != nil {
		t.Fatalf("read combined file: %v", err)
	}
	var out Aggregated
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("combined file is not valid JSON: %v", err)
	}
	if out.Metadata.RunID != agg.Metadata.RunID {
		t.Error("combined document lost the run id")
	}
}
