// Package engine schedules favorability layers over a calendar year.
//
// The engine resolves layer dependencies into a processing order, runs
// layers either sequentially or on a bounded worker pool, and tracks
// per-layer status and progress. Failures are isolated: a layer that
// errors is marked failed and the remaining layers keep running.
package engine
