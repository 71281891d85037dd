package aggregate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ExportJSON writes one indented JSON file per layer plus the combined
// aggregated.json under dir, creating it if needed. Returns the written
// paths keyed by layer id, with the combined document under id 0.
func ExportJSON(agg *Aggregated, dir string) (map[int]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("aggregate: create output dir: %w", err)
	}

	written := make(map[int]string, len(agg.LayerData)+1)
	for id, ld := range agg.LayerData {
		path := filepath.Join(dir, fmt.Sprintf("layer_%02d_data.json", id))
		if err := writeJSON(path, ld); err != nil {
			return nil, fmt.Errorf("aggregate: export layer %d: %w", id, err)
		}
		written[id] = path
		slog.Info("aggregate: exported layer data", "layer", id, "path", path)
	}

	path := filepath.Join(dir, "aggregated.json")
	if err := writeJSON(path, agg); err != nil {
		return nil, fmt.Errorf("aggregate: export combined data: %w", err)
	}
	written[0] = path
	return written, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
