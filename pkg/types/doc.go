// Package types defines shared Go types used by the engine, aggregator and
// exporters. These are the canonical in-memory representations of per-day
// favorability data, separate from any export format.
package types
