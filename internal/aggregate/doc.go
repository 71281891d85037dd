// Package aggregate consumes the engine's per-layer output for
// cross-layer statistics and export.
//
// Summarize computes the per-layer summary statistics block (mean, median,
// spread, favorable/unfavorable day counts) the engine attaches to each
// LayerData. Combine folds every successful layer into one
// accuracy-weighted daily series. ExportJSON writes one JSON file per
// layer plus the combined document.
//
// The aggregator never mutates the LayerData it is handed; ownership of
// the engine output stays with the caller.
package aggregate
