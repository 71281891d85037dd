package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/daycast/daycast/internal/config"
	"github.com/daycast/daycast/internal/layers"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func TestEngine_AvailableLayers(t *testing.T) {
	eng := newTestEngine(t)
	ids := eng.AvailableLayers()
	if len(ids) != 10 {
		t.Fatalf("AvailableLayers = %v, want 10 layers", ids)
	}
	for i, id := range ids {
		if id != i+1 {
			t.Errorf("AvailableLayers[%d] = %d, want %d", i, id, i+1)
		}
	}
}

func TestEngine_DisabledLayerExcluded(t *testing.T) {
	cfg, err := config.Parse([]byte("layers:\n  - id: 7\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, id := range eng.AvailableLayers() {
		if id == 7 {
			t.Fatal("disabled layer 7 listed as available")
		}
	}
	if _, err := eng.ProcessSingleLayer(context.Background(), 7, 2026); err == nil {
		t.Error("processing a disabled layer must fail")
	}
}

func TestEngine_ProcessSingleLayer_FullYear(t *testing.T) {
	eng := newTestEngine(t)
	ld, err := eng.ProcessSingleLayer(context.Background(), 2, 2026)
	if err != nil {
		t.Fatalf("ProcessSingleLayer: %v", err)
	}

	if len(ld.AnnualData) != 365 {
		t.Fatalf("AnnualData length = %d, want 365", len(ld.AnnualData))
	}
	first, last := ld.AnnualData[0], ld.AnnualData[364]
	if first.Date != "2026-01-01" || first.DayOfYear != 1 {
		t.Errorf("first day = %s/%d, want 2026-01-01/1", first.Date, first.DayOfYear)
	}
	if last.Date != "2026-12-31" || last.DayOfYear != 365 {
		t.Errorf("last day = %s/%d, want 2026-12-31/365", last.Date, last.DayOfYear)
	}
	for _, ds := range ld.AnnualData {
		if ds.Score < 0 || ds.Score > 1 {
			t.Fatalf("day %s score %v out of [0,1]", ds.Date, ds.Score)
		}
	}
	if ld.LayerInfo.ID != 2 {
		t.Errorf("LayerInfo.ID = %d, want 2", ld.LayerInfo.ID)
	}
	if ld.SummaryStatistics["average_score"] <= 0 {
		t.Errorf("summary average_score = %v, want > 0", ld.SummaryStatistics["average_score"])
	}
	if ld.CalculationMetadata["schema_version"] != "2.0" {
		t.Errorf("schema_version = %v, want 2.0", ld.CalculationMetadata["schema_version"])
	}
}

func TestEngine_LeapYear(t *testing.T) {
	eng := newTestEngine(t)
	ld, err := eng.ProcessSingleLayer(context.Background(), 1, 2028)
	if err != nil {
		t.Fatalf("ProcessSingleLayer: %v", err)
	}
	if len(ld.AnnualData) != 366 {
		t.Errorf("2028 AnnualData length = %d, want 366", len(ld.AnnualData))
	}
	if last := ld.AnnualData[365]; last.Date != "2028-12-31" {
		t.Errorf("last day = %s, want 2028-12-31", last.Date)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	eng := newTestEngine(t)
	first, err := eng.ProcessSingleLayer(context.Background(), 3, 2026)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	eng.Reset()
	second, err := eng.ProcessSingleLayer(context.Background(), 3, 2026)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for i := range first.AnnualData {
		if first.AnnualData[i].Score != second.AnnualData[i].Score {
			t.Fatalf("day %d: %v != %v, runs must be deterministic",
				i+1, first.AnnualData[i].Score, second.AnnualData[i].Score)
		}
	}
}

func TestEngine_ParallelMatchesSequential(t *testing.T) {
	ids := []int{1, 2, 3}

	seq := newTestEngine(t)
	seqResults, err := seq.ProcessMultipleLayers(context.Background(), ids, 2026, false)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	par := newTestEngine(t)
	parResults, err := par.ProcessMultipleLayers(context.Background(), ids, 2026, true)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}

	for _, id := range ids {
		s, p := seqResults[id], parResults[id]
		if s == nil || p == nil {
			t.Fatalf("layer %d missing from results", id)
		}
		for day := range s.AnnualData {
			if s.AnnualData[day].Score != p.AnnualData[day].Score {
				t.Fatalf("layer %d day %d: parallel/sequential scores differ", id, day+1)
			}
		}
	}
}

func TestEngine_ErrorIsolation(t *testing.T) {
	eng := newTestEngine(t)
	spec, _ := eng.reg.Spec(5)
	spec.New = func() (layers.Unit, error) {
		return nil, fmt.Errorf("ephemeris table unavailable")
	}

	results, err := eng.ProcessMultipleLayers(context.Background(), []int{4, 5, 6}, 2026, true)
	if err != nil {
		t.Fatalf("ProcessMultipleLayers: %v", err)
	}

	if _, ok := results[5]; ok {
		t.Error("failed layer 5 has a result")
	}
	if results[4] == nil || results[6] == nil {
		t.Error("healthy layers 4 and 6 must still complete")
	}
	if got := eng.tracker.Status(5); got != StatusFailed {
		t.Errorf("layer 5 status = %v, want failed", got)
	}

	m := eng.Metrics()
	if m.Completed != 2 || m.Failed != 1 {
		t.Errorf("metrics = %+v, want 2 completed / 1 failed", m)
	}
	if m.SuccessRate() < 0.66 || m.SuccessRate() > 0.67 {
		t.Errorf("SuccessRate = %v, want 2/3", m.SuccessRate())
	}
}

func TestEngine_DependencyFailureFailsDependent(t *testing.T) {
	eng := newTestEngine(t)
	broken, _ := eng.reg.Spec(1)
	broken.New = func() (layers.Unit, error) {
		return nil, fmt.Errorf("init failed")
	}
	dependent, _ := eng.reg.Spec(2)
	dependent.DependsOn = []int{1}

	results, err := eng.ProcessMultipleLayers(context.Background(), []int{1, 2}, 2026, true)
	if err != nil {
		t.Fatalf("ProcessMultipleLayers: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want none", results)
	}
	if got := eng.tracker.Status(2); got != StatusFailed {
		t.Errorf("dependent status = %v, want failed", got)
	}
	var layerErr *LayerError
	if err := eng.layerFailure(2); !errors.As(err, &layerErr) || layerErr.LayerID != 2 {
		t.Errorf("layer 2 failure = %v, want *LayerError for layer 2", err)
	}
}

func TestEngine_DependencyRunsFirst(t *testing.T) {
	eng := newTestEngine(t)
	dependent, _ := eng.reg.Spec(3)
	dependent.DependsOn = []int{1}

	var order []int
	eng.Tracker().OnStatus(func(id int, _, to Status) {
		if to == StatusCompleted {
			order = append(order, id)
		}
	})

	results, err := eng.ProcessMultipleLayers(context.Background(), []int{3, 1}, 2026, true)
	if err != nil {
		t.Fatalf("ProcessMultipleLayers: %v", err)
	}
	if results[1] == nil || results[3] == nil {
		t.Fatal("both requested layers must be processed")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("completion order = %v, want [1 3]", order)
	}
}

func TestEngine_UnrequestedDependencyIgnored(t *testing.T) {
	eng := newTestEngine(t)
	dependent, _ := eng.reg.Spec(3)
	dependent.DependsOn = []int{1}

	results, err := eng.ProcessMultipleLayers(context.Background(), []int{3}, 2026, false)
	if err != nil {
		t.Fatalf("ProcessMultipleLayers: %v", err)
	}
	if results[3] == nil {
		t.Fatal("layer 3 must complete without its unrequested dependency")
	}
	if _, ok := results[1]; ok {
		t.Error("unrequested dependency 1 must not be processed")
	}
}

func TestEngine_ProcessSingleLayer_RequiresCompletedDeps(t *testing.T) {
	eng := newTestEngine(t)
	dependent, _ := eng.reg.Spec(3)
	dependent.DependsOn = []int{1}

	_, err := eng.ProcessSingleLayer(context.Background(), 3, 2026)
	var layerErr *LayerError
	if !errors.As(err, &layerErr) || layerErr.LayerID != 3 {
		t.Fatalf("error = %v, want *LayerError for layer 3", err)
	}

	if _, err := eng.ProcessSingleLayer(context.Background(), 1, 2026); err != nil {
		t.Fatalf("dependency run: %v", err)
	}
	if _, err := eng.ProcessSingleLayer(context.Background(), 3, 2026); err != nil {
		t.Fatalf("dependent run after dependency completed: %v", err)
	}
}

func TestEngine_CycleRejected(t *testing.T) {
	eng := newTestEngine(t)
	a, _ := eng.reg.Spec(1)
	a.DependsOn = []int{2}
	b, _ := eng.reg.Spec(2)
	b.DependsOn = []int{1}

	_, err := eng.ProcessMultipleLayers(context.Background(), []int{1, 2}, 2026, false)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error = %v, want *CycleError", err)
	}
}

func TestEngine_CancelBeforeRun(t *testing.T) {
	eng := newTestEngine(t)
	eng.Cancel()

	results, err := eng.ProcessMultipleLayers(context.Background(), []int{1, 2}, 2026, true)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want none", results)
	}
	for _, id := range []int{1, 2} {
		if got := eng.tracker.Status(id); got != StatusCancelled {
			t.Errorf("layer %d status = %v, want cancelled", id, got)
		}
	}
}

func TestEngine_ResetAllowsRerunAfterCancel(t *testing.T) {
	eng := newTestEngine(t)
	eng.Cancel()
	if _, err := eng.ProcessMultipleLayers(context.Background(), []int{1}, 2026, false); !errors.Is(err, ErrCancelled) {
		t.Fatalf("cancelled run: error = %v, want ErrCancelled", err)
	}

	eng.Reset()
	results, err := eng.ProcessMultipleLayers(context.Background(), []int{1}, 2026, false)
	if err != nil {
		t.Fatalf("rerun after Reset: %v", err)
	}
	if results[1] == nil {
		t.Error("rerun produced no result")
	}
}

func TestEngine_ContextCancellation(t *testing.T) {
	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.ProcessMultipleLayers(ctx, []int{1, 2, 3}, 2026, true)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
}

func TestEngine_UnknownLayerRejected(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.ProcessMultipleLayers(context.Background(), []int{42}, 2026, false); err == nil {
		t.Error("want error for unknown layer id")
	}
	if _, err := eng.ProcessMultipleLayers(context.Background(), nil, 2026, false); err == nil {
		t.Error("want error for empty request")
	}
}

func TestEngine_TimeoutFailsLayer(t *testing.T) {
	eng := newTestEngine(t)
	spec, _ := eng.reg.Spec(6)
	spec.Timeout = time.Nanosecond
	spec.New = func() (layers.Unit, error) {
		return slowUnit{Unit: layers.NewHarmonic(6, 0.55)}, nil
	}

	results, err := eng.ProcessMultipleLayers(context.Background(), []int{6}, 2026, false)
	if err != nil {
		t.Fatalf("ProcessMultipleLayers: %v", err)
	}
	if _, ok := results[6]; ok {
		t.Error("timed-out layer has a result")
	}
	if got := eng.tracker.Status(6); got != StatusFailed {
		t.Errorf("status = %v, want failed on timeout", got)
	}
}

// slowUnit delays feature computation so per-layer timeouts can fire.
type slowUnit struct {
	layers.Unit
}

func (s slowUnit) Features(date time.Time) (map[string]any, error) {
	time.Sleep(time.Millisecond)
	return s.Unit.Features(date)
}

// wildConfidenceUnit reports a confidence outside [0,1] so the engine's
// clamp at the document boundary can be observed.
type wildConfidenceUnit struct {
	layers.Unit
}

func (w wildConfidenceUnit) Confidence(time.Time) float64 { return 1.7 }

func TestEngine_ConfidenceClamped(t *testing.T) {
	eng := newTestEngine(t)
	spec, _ := eng.reg.Spec(4)
	spec.New = func() (layers.Unit, error) {
		return wildConfidenceUnit{Unit: layers.NewHarmonic(4, 0.75)}, nil
	}

	ld, err := eng.ProcessSingleLayer(context.Background(), 4, 2026)
	if err != nil {
		t.Fatalf("ProcessSingleLayer: %v", err)
	}
	for _, ds := range ld.AnnualData {
		if ds.Confidence != 1 {
			t.Fatalf("day %s confidence = %v, want clamped to 1", ds.Date, ds.Confidence)
		}
	}
}

func TestEngine_CancelMidRun(t *testing.T) {
	cfg, err := config.Parse([]byte("settings:\n  max_workers: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// With a single worker, cancelling on the first completion must leave
	// the remaining layers cancelled, not completed.
	eng.Tracker().OnStatus(func(id int, _, to Status) {
		if to == StatusCompleted {
			eng.Cancel()
		}
	})

	results, err := eng.ProcessMultipleLayers(context.Background(), []int{1, 2, 3}, 2026, true)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %v, want exactly the one completed layer", results)
	}
	m := eng.Metrics()
	if m.Completed != 1 || m.Cancelled != 2 {
		t.Errorf("metrics = %+v, want 1 completed / 2 cancelled", m)
	}
}

func TestEngine_ScoresRoundedToFourDecimals(t *testing.T) {
	eng := newTestEngine(t)
	ld, err := eng.ProcessSingleLayer(context.Background(), 1, 2026)
	if err != nil {
		t.Fatalf("ProcessSingleLayer: %v", err)
	}
	for _, ds := range ld.AnnualData {
		scaled := ds.Score * 10000
		if math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Fatalf("day %s score %v not rounded to 4 decimals", ds.Date, ds.Score)
		}
	}
}

func TestEngine_RuleScoredLayer(t *testing.T) {
	doc := `
layers:
  - id: 3
    scoring:
      factors:
        - id: weekday
          type: map
          weight: 1.0
          map:
            feature: weekday
            table:
              sunday: 0.1
            default: 0.9
`
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ld, err := eng.ProcessSingleLayer(context.Background(), 3, 2026)
	if err != nil {
		t.Fatalf("ProcessSingleLayer: %v", err)
	}

	// 2026-01-04 is a Sunday.
	sunday := ld.AnnualData[3]
	if sunday.Score != 0.1 {
		t.Errorf("sunday score = %v, want mapped 0.1", sunday.Score)
	}
	monday := ld.AnnualData[4]
	if monday.Score != 0.9 {
		t.Errorf("monday score = %v, want default 0.9", monday.Score)
	}
	if ld.CalculationMetadata["rule_scored"] != true {
		t.Error("rule_scored metadata not set")
	}
}
