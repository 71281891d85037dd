package eval

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenOp
)

// keywords are identifiers with grammatical meaning. They cannot be used
// as variable names inside expressions.
var keywords = map[string]bool{
	"if": true, "else": true, "and": true, "or": true,
	"not": true, "in": true, "true": true, "false": true, "none": true,
}

type token struct {
	kind tokenKind
	text string
	num  float64 // valid when kind == tokenNumber
	pos  int     // byte offset in the source expression
}

// operators, longest first so the lexer matches "**" before "*".
var operators = []string{
	"**", "==", "!=", "<=", ">=",
	"+", "-", "*", "/", "%", "<", ">",
	"(", ")", "[", "]", "{", "}", ",", ":", ".",
}

// lex splits expr into tokens. Any character outside the grammar is a
// lex error naming the offending rune.
func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]

		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			i++
			continue
		}

		if c >= '0' && c <= '9' {
			start := i
			for i < len(expr) && isDigit(expr[i]) {
				i++
			}
			if i < len(expr) && expr[i] == '.' {
				i++
				for i < len(expr) && isDigit(expr[i]) {
					i++
				}
			}
			if i < len(expr) && (expr[i] == 'e' || expr[i] == 'E') {
				j := i + 1
				if j < len(expr) && (expr[j] == '+' || expr[j] == '-') {
					j++
				}
				if j < len(expr) && isDigit(expr[j]) {
					i = j
					for i < len(expr) && isDigit(expr[i]) {
						i++
					}
				}
			}
			n, err := strconv.ParseFloat(expr[start:i], 64)
			if err != nil {
				return nil, &Error{Expr: expr, Msg: fmt.Sprintf("bad number %q", expr[start:i])}
			}
			toks = append(toks, token{kind: tokenNumber, text: expr[start:i], num: n, pos: start})
			continue
		}

		if c == '\'' || c == '"' {
			s, next, err := lexString(expr, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokenString, text: s, pos: i})
			i = next
			continue
		}

		if isIdentStart(rune(c)) {
			start := i
			for i < len(expr) && isIdentPart(rune(expr[i])) {
				i++
			}
			toks = append(toks, token{kind: tokenIdent, text: expr[start:i], pos: start})
			continue
		}

		matched := false
		for _, op := range operators {
			if strings.HasPrefix(expr[i:], op) {
				toks = append(toks, token{kind: tokenOp, text: op, pos: i})
				i += len(op)
				matched = true
				break
			}
		}
		if !matched {
			return nil, &Error{Expr: expr, Msg: fmt.Sprintf("unexpected character %q", rune(c))}
		}
	}
	toks = append(toks, token{kind: tokenEOF, pos: len(expr)})
	return toks, nil
}

// lexString scans a quoted string starting at expr[start] and returns the
// unescaped value plus the index just past the closing quote.
func lexString(expr string, start int) (string, int, error) {
	quote := expr[start]
	var b strings.Builder
	i := start + 1
	for i < len(expr) {
		c := expr[i]
		if c == quote {
			return b.String(), i + 1, nil
		}
		if c == '\\' && i+1 < len(expr) {
			i++
			switch expr[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '\'', '"':
				b.WriteByte(expr[i])
			default:
				b.WriteByte('\\')
				b.WriteByte(expr[i])
			}
			i++
			continue
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, &Error{Expr: expr, Msg: "unterminated string literal"}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
