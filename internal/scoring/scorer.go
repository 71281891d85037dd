package scoring

import (
	"fmt"
	"math"

	"github.com/daycast/daycast/internal/config"
	"github.com/daycast/daycast/internal/eval"
)

// neutral is the score substituted for any factor that cannot be computed.
const neutral = 0.5

// Scorer evaluates a ScoringSpec against daily feature vectors.
// Stateless after construction; safe for concurrent use.
type Scorer struct {
	formula string
	factors []config.FactorSpec
}

// New builds a Scorer from a rules scoring block. The block's Aggregation
// field is accepted for forward compatibility but only weighted_sum
// semantics exist; unknown aggregations behave as weighted_sum.
func New(spec config.ScoringSpec) *Scorer {
	return &Scorer{
		formula: spec.Formula,
		factors: spec.Factors,
	}
}

// Score reduces features to one value in [0,1]. env carries evaluation
// context exposed to formulas (date, day_of_year, context). Score never
// fails: broken factors degrade to 0.5 and a broken root formula falls
// back to the weighted sum.
func (s *Scorer) Score(features, env map[string]any) float64 {
	// Factor values are computed first so a root formula can reference
	// them, and so later factors can reference earlier ones.
	factorValues := make(map[string]float64, len(s.factors))
	for _, f := range s.factors {
		factorValues[factorID(f)] = s.evalFactor(f, features, env, factorValues)
	}

	if s.formula != "" {
		vars := mergeVars(features, factorValues, env)
		if out, err := eval.Evaluate(s.formula, vars); err == nil {
			if v, ok := eval.Number(out); ok {
				return clamp01(v)
			}
		}
		// Formula failed — fall through to the weighted sum.
	}

	var total float64
	for _, f := range s.factors {
		v, ok := factorValues[factorID(f)]
		if !ok {
			v = neutral
		}
		total += v * f.Weight
	}
	return clamp01(total)
}

// evalFactor computes one factor's value: base per its type (or formula),
// clamped, then modifiers in declaration order, then re-clamped.
func (s *Scorer) evalFactor(f config.FactorSpec, features, env map[string]any, prev map[string]float64) float64 {
	base := neutral

	switch {
	case f.Formula != "":
		vars := mergeVars(features, prev, env)
		if out, err := eval.Evaluate(f.Formula, vars); err == nil {
			base = numberOr(out, neutral)
		}

	case f.Type == "" || f.Type == "direct":
		key := f.Key
		if key == "" {
			key = f.ID
		}
		base = numberOr(eval.Lookup(features, key), neutral)

	case f.Type == "map":
		if f.Map != nil {
			base = mapLookup(*f.Map, f.ID, features)
		}

	case f.Type == "average_maps":
		if len(f.Maps) > 0 {
			var sum float64
			for _, m := range f.Maps {
				sum += mapLookup(m, f.ID, features)
			}
			base = sum / float64(len(f.Maps))
		}
	}

	base = clamp01(base)

	for _, mod := range f.Modifiers {
		if !conditionMatches(mod.Condition, features) {
			continue
		}
		switch mod.Op {
		case "", "multiply":
			if mod.Value != nil {
				base *= *mod.Value
			}
		case "add":
			if mod.Value != nil {
				base += *mod.Value
			}
		case "blend":
			// Linear interpolation toward another feature's value.
			alpha := 0.5
			if mod.Alpha != nil {
				alpha = *mod.Alpha
			}
			other := neutral
			if mod.With != "" {
				other = numberOr(eval.Lookup(features, mod.With), neutral)
			}
			base = (1-alpha)*base + alpha*other
		}
	}

	return clamp01(base)
}

// mergeVars builds the variable map formulas see: features flattened and
// under "features", factor results flattened and under "factors", plus the
// evaluation environment (date, day_of_year, context).
func mergeVars(features map[string]any, factorValues map[string]float64, env map[string]any) map[string]any {
	vars := make(map[string]any, len(features)+len(factorValues)+len(env)+2)
	for k, v := range features {
		vars[k] = v
	}
	vars["features"] = features

	factors := make(map[string]any, len(factorValues))
	for k, v := range factorValues {
		vars[k] = v
		factors[k] = v
	}
	vars["factors"] = factors

	vars["context"] = env
	for k, v := range env {
		vars[k] = v
	}
	return vars
}

func factorID(f config.FactorSpec) string {
	if f.ID != "" {
		return f.ID
	}
	if f.Key != "" {
		return f.Key
	}
	return "factor"
}

// mapLookup reads the map's feature (falling back to the factor id as the
// feature name) and looks the stringified value up in the table.
func mapLookup(m config.MapSpec, fallbackFeature string, features map[string]any) float64 {
	def := neutral
	if m.Default != nil {
		def = *m.Default
	}
	feature := m.Feature
	if feature == "" {
		feature = fallbackFeature
	}
	raw := eval.Lookup(features, feature)
	if raw == nil {
		return def
	}
	if score, ok := m.Table[tableKey(raw)]; ok {
		return score
	}
	return def
}

// tableKey renders a feature value the way a YAML table key is written,
// so numeric, boolean, and string feature values all match.
func tableKey(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	if n, ok := eval.Number(v); ok {
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	}
	return fmt.Sprintf("%v", v)
}

func conditionMatches(c config.Condition, features map[string]any) bool {
	if c.Feature == "" {
		return false
	}
	got := eval.Lookup(features, c.Feature)

	switch {
	case c.Op == "equals" || c.Equals != nil:
		return looseEqual(got, c.Equals)
	case c.Op == "in" || len(c.In) > 0:
		for _, want := range c.In {
			if looseEqual(got, want) {
				return true
			}
		}
		return false
	case c.IsTrue != nil && *c.IsTrue:
		return isTruthy(got)
	case c.IsFalse != nil && *c.IsFalse:
		return !isTruthy(got)
	}
	// Default predicate: the feature merely exists.
	return got != nil
}

func looseEqual(a, b any) bool {
	if an, ok := eval.Number(a); ok {
		if bn, ok := eval.Number(b); ok {
			return an == bn
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	return a == nil && b == nil
}

func isTruthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}
	if n, ok := eval.Number(v); ok {
		return n != 0
	}
	return true
}

// numberOr coerces v to float64, returning def for non-numeric values.
func numberOr(v any, def float64) float64 {
	if n, ok := eval.Number(v); ok {
		return n
	}
	return def
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
