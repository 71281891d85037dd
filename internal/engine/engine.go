package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/daycast/daycast/internal/aggregate"
	"github.com/daycast/daycast/internal/config"
	"github.com/daycast/daycast/internal/layers"
	"github.com/daycast/daycast/pkg/types"
)

// ErrCancelled is returned by processing calls interrupted by Cancel
// or by context cancellation.
var ErrCancelled = errors.New("engine: run cancelled")

// LayerError reports a failure tied to one layer.
type LayerError struct {
	LayerID int
	Msg     string
	Err     error
}

func (e *LayerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: layer %d: %s: %v", e.LayerID, e.Msg, e.Err)
	}
	return fmt.Sprintf("engine: layer %d: %s", e.LayerID, e.Msg)
}

func (e *LayerError) Unwrap() error { return e.Err }

// schemaVersion tags exported layer documents.
const schemaVersion = "2.0"

// progressEvery is how many days pass between progress updates while a
// layer walks the year.
const progressEvery = 30

// Engine runs favorability layers over a calendar year, honoring their
// dependencies, timeouts and the configured worker limit.
type Engine struct {
	cfg     *config.Config
	reg     *Registry
	tracker *Tracker
	now     func() time.Time

	mu      sync.Mutex
	results map[int]*types.LayerData
	metrics Metrics

	cancelled atomic.Bool
}

// New builds an engine from a validated configuration.
func New(cfg *config.Config) (*Engine, error) {
	reg, err := BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		reg:     reg,
		tracker: NewTracker(),
		now:     time.Now,
		results: make(map[int]*types.LayerData),
	}, nil
}

// Tracker exposes the engine's progress tracker for callback
// registration.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// AvailableLayers returns the ids the engine can process, ascending.
func (e *Engine) AvailableLayers() []int { return e.reg.IDs() }

// Cancel requests a cooperative stop. Layers notice between days;
// already completed layers keep their results.
func (e *Engine) Cancel() {
	if e.cancelled.CompareAndSwap(false, true) {
		slog.Info("engine: cancellation requested")
	}
}

// Reset clears results, progress and the cancel flag so the engine can
// run again.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.results = make(map[int]*types.LayerData)
	e.metrics = Metrics{}
	e.mu.Unlock()
	e.tracker.Reset()
	e.cancelled.Store(false)
}

// Metrics returns a copy of the last run's metrics.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// Snapshot returns the per-layer progress states.
func (e *Engine) Snapshot() map[int]LayerProgress { return e.tracker.Snapshot() }

// Results returns a copy of the collected layer results.
func (e *Engine) Results() map[int]*types.LayerData {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int]*types.LayerData, len(e.results))
	for id, ld := range e.results {
		out[id] = ld
	}
	return out
}

// ProcessSingleLayer runs one layer for the given year and returns its
// data. The layer's dependencies must already be in Completed status;
// running them is the caller's job (ProcessMultipleLayers handles
// ordering when several layers are requested together).
func (e *Engine) ProcessSingleLayer(ctx context.Context, id, year int) (*types.LayerData, error) {
	spec, ok := e.reg.Spec(id)
	if !ok {
		return nil, fmt.Errorf("engine: layer %d is not available", id)
	}
	for _, dep := range spec.DependsOn {
		if e.tracker.Status(dep) != StatusCompleted {
			return nil, &LayerError{LayerID: id,
				Msg: fmt.Sprintf("dependency %d is not completed", dep)}
		}
	}

	e.runOne(ctx, spec, year)

	e.mu.Lock()
	ld, ok := e.results[id]
	e.mu.Unlock()
	if !ok || e.tracker.Status(id) != StatusCompleted {
		return nil, e.layerFailure(id)
	}
	return ld, nil
}

// ProcessMultipleLayers runs the requested layers for the given year.
// Within the request, dependencies run before their dependents; a
// dependency that was not requested is simply ignored. Layer failures
// are recorded in the tracker and do not abort the rest of the run;
// the returned map holds only the layers that completed. The error is
// non-nil only for invalid requests or a cancelled run.
func (e *Engine) ProcessMultipleLayers(ctx context.Context, ids []int, year int, parallel bool) (map[int]*types.LayerData, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("engine: no layers requested")
	}
	for _, id := range ids {
		if _, ok := e.reg.Spec(id); !ok {
			return nil, fmt.Errorf("engine: layer %d is not available", id)
		}
	}

	order, err := resolveOrder(ids, e.reg.DepsMap())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.metrics = Metrics{StartedAt: e.now(), Requested: len(order)}
	e.mu.Unlock()
	slog.Info("engine: run starting",
		"layers", order, "year", year, "parallel", parallel,
		"max_workers", e.cfg.Settings.MaxWorkers)

	if parallel {
		e.runParallel(ctx, order, year)
	} else {
		e.runSequential(ctx, order, year)
	}

	e.finishMetrics(order)

	results := make(map[int]*types.LayerData, len(order))
	e.mu.Lock()
	for _, id := range order {
		if ld, ok := e.results[id]; ok {
			results[id] = ld
		}
	}
	m := e.metrics
	e.mu.Unlock()

	slog.Info("engine: run finished",
		"completed", m.Completed, "failed", m.Failed, "cancelled", m.Cancelled,
		"success_rate", m.SuccessRate(), "elapsed", m.Elapsed(e.now()))

	if e.cancelled.Load() || ctx.Err() != nil {
		return results, ErrCancelled
	}
	return results, nil
}

func (e *Engine) runSequential(ctx context.Context, order []int, year int) {
	requested := make(map[int]bool, len(order))
	for _, id := range order {
		requested[id] = true
	}
	for i, id := range order {
		if e.stopRequested(ctx) {
			for _, rest := range order[i:] {
				e.tracker.SetStatus(rest, StatusCancelled, ErrCancelled)
			}
			return
		}
		spec, _ := e.reg.Spec(id)
		if !e.depsCompleted(spec, requested) {
			continue
		}
		e.runOne(ctx, spec, year)
	}
}

func (e *Engine) runParallel(ctx context.Context, order []int, year int) {
	sem := semaphore.NewWeighted(int64(e.cfg.Settings.MaxWorkers))
	done := make(map[int]chan struct{}, len(order))
	for _, id := range order {
		done[id] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for _, id := range order {
		spec, _ := e.reg.Spec(id)
		wg.Add(1)
		go func(spec *LayerSpec) {
			defer wg.Done()
			defer close(done[spec.ID])

			for _, dep := range spec.DependsOn {
				ch, inRun := done[dep]
				if !inRun {
					continue
				}
				depSpec, _ := e.reg.Spec(dep)
				select {
				case <-ch:
				case <-time.After(depSpec.Timeout):
					e.tracker.SetStatus(spec.ID, StatusFailed, &LayerError{LayerID: spec.ID,
						Msg: fmt.Sprintf("timed out waiting for dependency %d", dep)})
					return
				case <-ctx.Done():
					e.tracker.SetStatus(spec.ID, StatusCancelled, ErrCancelled)
					return
				}
				if e.tracker.Status(dep) != StatusCompleted {
					e.tracker.SetStatus(spec.ID, StatusFailed, &LayerError{LayerID: spec.ID,
						Msg: fmt.Sprintf("dependency %d did not complete", dep)})
					return
				}
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				e.tracker.SetStatus(spec.ID, StatusCancelled, ErrCancelled)
				return
			}
			defer sem.Release(1)

			if e.stopRequested(ctx) {
				e.tracker.SetStatus(spec.ID, StatusCancelled, ErrCancelled)
				return
			}
			e.runOne(ctx, spec, year)
		}(spec)
	}
	wg.Wait()
}

// runOne processes a single layer under its own timeout and records
// the outcome. Errors land in the tracker, never in the caller.
func (e *Engine) runOne(ctx context.Context, spec *LayerSpec, year int) {
	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	start := e.now()
	ld, err := e.processLayer(ctx, spec, year)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			e.tracker.SetStatus(spec.ID, StatusCancelled, err)
		} else {
			e.tracker.SetStatus(spec.ID, StatusFailed, err)
			slog.Error("engine: layer failed", "layer", spec.ID, "error", err)
		}
		return
	}

	e.mu.Lock()
	e.results[spec.ID] = ld
	e.mu.Unlock()
	e.tracker.SetStatus(spec.ID, StatusCompleted, nil)
	slog.Info("engine: layer completed",
		"layer", spec.ID, "days", len(ld.AnnualData), "elapsed", e.now().Sub(start))
}

func (e *Engine) processLayer(ctx context.Context, spec *LayerSpec, year int) (*types.LayerData, error) {
	e.tracker.SetStatus(spec.ID, StatusInitializing, nil)

	unit, err := spec.New()
	if err != nil {
		return nil, &LayerError{LayerID: spec.ID, Msg: "init", Err: err}
	}
	e.tracker.SetStatus(spec.ID, StatusProcessing, nil)

	start := e.now()
	total := daysInYear(year)
	annual := make([]types.DailyScore, 0, total)
	fallbacks := 0

	date := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	for day := 1; day <= total; day++ {
		if e.cancelled.Load() {
			return nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &LayerError{LayerID: spec.ID,
					Msg: fmt.Sprintf("timed out after %s", spec.Timeout)}
			}
			return nil, ErrCancelled
		}

		ds, fellBack := e.scoreDay(unit, spec, date, year)
		if fellBack {
			fallbacks++
		}
		annual = append(annual, ds)

		if day%progressEvery == 0 || day == total {
			pct := 100 * float64(day) / float64(total)
			e.tracker.SetProgress(spec.ID, pct, fmt.Sprintf("day %d/%d", day, total))
		}
		date = date.AddDate(0, 0, 1)
	}

	ld := &types.LayerData{
		LayerInfo:         unit.Info(),
		AnnualData:        annual,
		SummaryStatistics: aggregate.Summarize(annual),
		CalculationMetadata: map[string]any{
			"schema_version": schemaVersion,
			"year":           year,
			"days":           total,
			"fallback_days":  fallbacks,
			"rule_scored":    spec.Scorer != nil,
			"generated_at":   e.now().UTC().Format(time.RFC3339),
			"duration_ms":    e.now().Sub(start).Milliseconds(),
		},
	}
	return ld, nil
}

// scoreDay computes one daily score, falling back to a neutral 0.5
// with zero confidence when the unit or its rules cannot produce one.
func (e *Engine) scoreDay(unit layers.Unit, spec *LayerSpec, date time.Time, year int) (types.DailyScore, bool) {
	ds := types.DailyScore{
		Date:      date.Format("2006-01-02"),
		DayOfYear: date.YearDay(),
	}

	features, err := unit.Features(date)
	if err != nil {
		return fallbackScore(ds, unit, date, err), true
	}

	var score float64
	if spec.Scorer != nil {
		score = spec.Scorer.Score(features, dayEnv(date, year))
	} else {
		score, err = unit.Score(date)
		if err != nil {
			return fallbackScore(ds, unit, date, err), true
		}
	}

	ds.Score = round4(clamp01(score))
	ds.Confidence = round4(clamp01(unit.Confidence(date)))
	ds.ContributingFactors = features
	return ds, false
}

func fallbackScore(ds types.DailyScore, unit layers.Unit, date time.Time, err error) types.DailyScore {
	ds.Score = round4(unit.FallbackScore(date))
	ds.Confidence = 0
	ds.ContributingFactors = map[string]any{
		"error":         err.Error(),
		"fallback_used": true,
	}
	return ds
}

// dayEnv is the context namespace handed to rule scorers alongside the
// unit's features.
func dayEnv(date time.Time, year int) map[string]any {
	return map[string]any{
		"date":        date.Format("2006-01-02"),
		"year":        float64(year),
		"month":       float64(date.Month()),
		"day":         float64(date.Day()),
		"day_of_year": float64(date.YearDay()),
		"weekday":     strings.ToLower(date.Weekday().String()),
	}
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return e.cancelled.Load() || ctx.Err() != nil
}

// depsCompleted reports whether all in-run dependencies of spec
// completed, in sequential runs where they already had their turn.
// Dependencies outside the run are ignored. A layer whose dependency
// failed is marked failed itself.
func (e *Engine) depsCompleted(spec *LayerSpec, requested map[int]bool) bool {
	for _, dep := range spec.DependsOn {
		if !requested[dep] {
			continue
		}
		if e.tracker.Status(dep) != StatusCompleted {
			e.tracker.SetStatus(spec.ID, StatusFailed, &LayerError{LayerID: spec.ID,
				Msg: fmt.Sprintf("dependency %d did not complete", dep)})
			return false
		}
	}
	return true
}

func (e *Engine) finishMetrics(order []int) {
	snap := e.tracker.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.EndedAt = e.now()
	for _, id := range order {
		switch snap[id].Status {
		case StatusCompleted:
			e.metrics.Completed++
		case StatusFailed:
			e.metrics.Failed++
		case StatusCancelled:
			e.metrics.Cancelled++
		}
	}
}

func (e *Engine) layerFailure(id int) error {
	snap := e.tracker.Snapshot()
	if p, ok := snap[id]; ok && p.Err != nil {
		return p.Err
	}
	return &LayerError{LayerID: id, Msg: "produced no result"}
}

func daysInYear(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}

func round4(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*10000) / 10000
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
