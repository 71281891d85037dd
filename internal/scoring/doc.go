// Package scoring reduces a layer's feature vector to a single score in
// [0,1] according to a rule-supplied ScoringSpec.
//
// A Scorer is built once per ScoringSpec and is stateless — safe to reuse across
// every day of a run and across goroutines. Factors are evaluated in
// declaration order (direct reads, table lookups, averaged lookups, or a
// per-factor formula), clamped, adjusted by conditional modifiers, and
// re-clamped. The final score is either the declared root formula over the
// factor results or the default weighted sum.
//
// Scoring never fails: a factor whose evaluation errors degrades to the
// neutral 0.5, and a root formula that errors falls back to the weighted
// sum. The returned score is always clamped to [0,1].
package scoring
