package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/daycast/daycast/internal/aggregate"
	"github.com/daycast/daycast/internal/config"
	"github.com/daycast/daycast/internal/engine"
)

func main() {
	configPath := flag.String("config", "rules.yaml", "path to the rules file")
	year := flag.Int("year", time.Now().UTC().Year(), "calendar year to score")
	layerList := flag.String("layers", "", "comma-separated layer ids (default: all available)")
	outDir := flag.String("out", "out", "directory for exported JSON")
	sequential := flag.Bool("sequential", false, "process layers one at a time")
	watchMode := flag.Bool("watch", false, "keep running and re-score whenever the rules file changes")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("daycast starting", "config", *configPath, "year", *year, "watch", *watchMode)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load rules", "err", err)
		os.Exit(1)
	}
	slog.Info("rules loaded",
		"layers_configured", len(cfg.Layers),
		"max_workers", cfg.Settings.MaxWorkers,
		"default_timeout", cfg.Settings.DefaultTimeoutDuration(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !*watchMode {
		os.Exit(runOnce(ctx, cfg, *layerList, *year, !*sequential, *outDir))
	}

	// Watch the rules file; each successful reload triggers a fresh run
	// with the reloaded rules. A run in flight keeps the rules it
	// started with. The channel holds only the newest pending reload.
	reloads := make(chan *config.Config, 1)
	go func() {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			select {
			case reloads <- updated:
			default:
				select {
				case <-reloads:
				default:
				}
				reloads <- updated
			}
		})
		if err != nil {
			slog.Error("rules watcher stopped", "err", err)
		}
	}()

	code := runOnce(ctx, cfg, *layerList, *year, !*sequential, *outDir)
	for {
		select {
		case <-ctx.Done():
			os.Exit(code)
		case updated := <-reloads:
			slog.Info("rules changed on disk — starting a new run",
				"layers_configured", len(updated.Layers))
			code = runOnce(ctx, updated, *layerList, *year, !*sequential, *outDir)
		}
	}
}

// runOnce builds a fresh engine for cfg, processes the requested layers
// and exports the results. The return value is the process exit code:
// 0 on success, 1 on a hard error, 2 for a cancelled run whose partial
// results were still exported.
func runOnce(ctx context.Context, cfg *config.Config, layerList string, year int, parallel bool, outDir string) int {
	eng, err := engine.New(cfg)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		return 1
	}

	ids := eng.AvailableLayers()
	if layerList != "" {
		ids, err = parseLayerIDs(layerList)
		if err != nil {
			slog.Error("invalid -layers", "err", err)
			return 1
		}
	}
	if len(ids) == 0 {
		slog.Error("no layers to process")
		return 1
	}

	eng.Tracker().OnStatus(func(layerID int, from, to engine.Status) {
		slog.Info("layer status", "layer", layerID, "from", from.String(), "to", to.String())
	})
	eng.Tracker().OnProgress(func(p engine.LayerProgress) {
		slog.Debug("layer progress", "layer", p.LayerID, "percent", p.Percent, "message", p.Message)
	})

	// Forward SIGINT/SIGTERM into a cooperative engine cancel so
	// completed layers still get exported.
	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			eng.Cancel()
		case <-runDone:
		}
	}()

	start := time.Now()
	results, runErr := eng.ProcessMultipleLayers(ctx, ids, year, parallel)
	if runErr != nil && !errors.Is(runErr, engine.ErrCancelled) {
		slog.Error("run failed", "err", runErr)
		return 1
	}
	if errors.Is(runErr, engine.ErrCancelled) {
		slog.Warn("run cancelled — exporting completed layers only")
	}

	agg := aggregate.Combine(results, year, len(ids), time.Since(start))
	written, err := aggregate.ExportJSON(agg, outDir)
	if err != nil {
		slog.Error("export failed", "err", err)
		return 1
	}

	m := eng.Metrics()
	slog.Info("run finished",
		"completed", m.Completed,
		"failed", m.Failed,
		"cancelled", m.Cancelled,
		"success_rate", m.SuccessRate(),
		"files", len(written),
		"out", outDir,
	)
	if errors.Is(runErr, engine.ErrCancelled) {
		return 2
	}
	return 0
}

// loadConfig falls back to built-in defaults when no rules file exists
// at the default location.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("rules file not found — using built-in defaults", "path", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func parseLayerIDs(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
