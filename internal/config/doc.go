// Package config loads and watches the layer rules file (rules.yaml).
//
// Top-level types:
//   - Config{Settings, Layers} — full rules tree parsed from YAML
//   - Settings — max_workers, default_timeout_secs
//   - Layer — id, enabled, kind (astronomical|cyclic|harmonic|remote),
//     endpoint+auth for remote, accuracy, timeout_secs,
//     depends_on/dependencies, scoring
//   - ScoringSpec — aggregation, optional root formula, factors []
//   - FactorSpec — id, type (direct|map|average_maps), weight, key, map,
//     maps, modifiers, optional per-factor formula
//
// Load(path) reads the YAML file, applies defaults (4 workers, 300s layer
// timeout), then validates enums, ranges, and the scoring requirement: a
// layer that appears in the document and is enabled must carry scoring
// rules. Layers absent from the document keep built-in behaviour — that
// asymmetry is deliberate, so rule-governed deployments cannot silently
// run unreviewed heuristics.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create
// pattern used by atomic-save editors by re-adding the watch after the
// event.
package config
