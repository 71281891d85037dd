// Package layers provides the compute units the engine schedules: each
// unit produces a flat feature vector for a calendar day plus a built-in
// heuristic daily score used when no scoring rules are configured.
//
// The unit kinds form a closed set — there is no plugin loading:
//   - astronomical: solar elevation, lunar phase, day length and seasonal
//     alignment from closed-form approximations (astro.go)
//   - cyclic: weekday and 30-day cycle position tables (cyclic.go)
//   - harmonic: id-seeded deterministic harmonic blends standing in for
//     the position/transit layers (harmonic.go)
//   - remote: feature vector scraped from a Prometheus text-exposition
//     endpoint (remote.go)
//
// All units except remote are pure functions of the date, so identical
// runs produce identical output. Units are instantiated fresh per layer
// run and never share mutable state across workers.
package layers
