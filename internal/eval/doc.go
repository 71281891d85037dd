// Package eval implements a small, safe expression language used by the
// rule-driven scorer to evaluate YAML-supplied formulas.
//
// token.go and parser.go provide a hand-rolled lexer and recursive-descent
// parser producing a closed AST — there is no reflection, no host-language
// eval facility, and the sandbox boundary is the parser's grammar itself.
// eval.go walks the tree against a caller-supplied variable map.
//
// The grammar covers arithmetic (+ - * / % **), boolean logic (and/or/not),
// comparisons (== != < <= > >= in, not in, with chaining), the conditional
// form "a if cond else b", list and dict literals, attribute and subscript
// access on maps, and calls to a fixed whitelist of pure numeric helpers
// (min, max, abs, clamp, mean, sqrt, sin, cos, tan) plus the contextual
// accessor val(path, default). Anything else fails closed with *Error.
//
// Expressions cannot loop, assign, import, or reach outside the variable
// map. Unknown identifiers resolve to 0.0 so half-filled feature vectors
// degrade instead of erroring.
package eval
