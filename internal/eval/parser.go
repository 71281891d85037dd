package eval

import "fmt"

// Error is returned for any expression that cannot be lexed, parsed, or
// evaluated within the permitted grammar.
type Error struct {
	Expr string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("eval %q: %s", e.Expr, e.Msg)
}

type parser struct {
	expr string
	toks []token
	i    int
}

// parse builds the AST for expr. The whole input must be consumed — a
// trailing token (e.g. a statement separator) is a parse error, which is
// what keeps multi-statement and loop constructs out of the sandbox.
func parse(expr string) (node, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, toks: toks}
	n, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokenEOF {
		return nil, p.errorf("unexpected %q after expression", p.cur().text)
	}
	return n, nil
}

func (p *parser) cur() token { return p.toks[p.i] }

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tokenEOF {
		p.i++
	}
	return t
}

func (p *parser) acceptOp(op string) bool {
	if p.cur().kind == tokenOp && p.cur().text == op {
		p.i++
		return true
	}
	return false
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.cur().kind == tokenIdent && p.cur().text == kw {
		p.i++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	if !p.acceptOp(op) {
		return p.errorf("expected %q, found %q", op, p.cur().text)
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &Error{Expr: p.expr, Msg: fmt.Sprintf(format, args...)}
}

// ternary := orExpr [ "if" orExpr "else" ternary ]
func (p *parser) ternary() (node, error) {
	body, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("if") {
		return body, nil
	}
	test, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("else") {
		return nil, p.errorf("conditional expression missing \"else\"")
	}
	orelse, err := p.ternary()
	if err != nil {
		return nil, err
	}
	return condNode{test: test, body: body, orelse: orelse}, nil
}

// orExpr := andExpr ( "or" andExpr )*
func (p *parser) orExpr() (node, error) {
	first, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	operands := []node{first}
	for p.acceptKeyword("or") {
		n, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		operands = append(operands, n)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return boolOpNode{op: "or", operands: operands}, nil
}

// andExpr := notExpr ( "and" notExpr )*
func (p *parser) andExpr() (node, error) {
	first, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	operands := []node{first}
	for p.acceptKeyword("and") {
		n, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		operands = append(operands, n)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return boolOpNode{op: "and", operands: operands}, nil
}

// notExpr := "not" notExpr | comparison
func (p *parser) notExpr() (node, error) {
	if p.acceptKeyword("not") {
		operand, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "not", operand: operand}, nil
	}
	return p.comparison()
}

// comparison := arith ( compareOp arith )*   — chaining permitted.
func (p *parser) comparison() (node, error) {
	first, err := p.arith()
	if err != nil {
		return nil, err
	}
	var ops []string
	var rest []node
	for {
		op, ok := p.compareOp()
		if !ok {
			break
		}
		right, err := p.arith()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		rest = append(rest, right)
	}
	if len(ops) == 0 {
		return first, nil
	}
	return compareNode{first: first, ops: ops, rest: rest}, nil
}

func (p *parser) compareOp() (string, bool) {
	t := p.cur()
	if t.kind == tokenOp {
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.i++
			return t.text, true
		}
	}
	if t.kind == tokenIdent && t.text == "in" {
		p.i++
		return "in", true
	}
	if t.kind == tokenIdent && t.text == "not" {
		// "not in" is the only postfix use of "not".
		if p.i+1 < len(p.toks) && p.toks[p.i+1].kind == tokenIdent && p.toks[p.i+1].text == "in" {
			p.i += 2
			return "not in", true
		}
	}
	return "", false
}

// arith := term ( ("+"|"-") term )*
func (p *parser) arith() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.acceptOp("+"):
			op = "+"
		case p.acceptOp("-"):
			op = "-"
		default:
			return left, nil
		}
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

// term := factor ( ("*"|"/"|"%") factor )*
func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.acceptOp("*"):
			op = "*"
		case p.acceptOp("/"):
			op = "/"
		case p.acceptOp("%"):
			op = "%"
		default:
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

// unary := ("+"|"-") unary | power
func (p *parser) unary() (node, error) {
	if p.acceptOp("+") {
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "+", operand: operand}, nil
	}
	if p.acceptOp("-") {
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "-", operand: operand}, nil
	}
	return p.power()
}

// power := postfix [ "**" unary ]   — right associative.
func (p *parser) power() (node, error) {
	base, err := p.postfix()
	if err != nil {
		return nil, err
	}
	if p.acceptOp("**") {
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

// postfix := primary ( "." ident | "[" ternary "]" | "(" args ")" )*
func (p *parser) postfix() (node, error) {
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp("."):
			t := p.advance()
			if t.kind != tokenIdent || keywords[t.text] {
				return nil, p.errorf("expected attribute name after \".\"")
			}
			n = attrNode{target: n, name: t.text}

		case p.acceptOp("["):
			key, err := p.ternary()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			n = indexNode{target: n, key: key}

		case p.acceptOp("("):
			var args []node
			if !p.acceptOp(")") {
				for {
					a, err := p.ternary()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.acceptOp(",") {
						continue
					}
					if err := p.expectOp(")"); err != nil {
						return nil, err
					}
					break
				}
			}
			n = callNode{target: n, args: args}

		default:
			return n, nil
		}
	}
}

func (p *parser) primary() (node, error) {
	t := p.cur()
	switch t.kind {
	case tokenNumber:
		p.advance()
		return numberNode{val: t.num}, nil

	case tokenString:
		p.advance()
		return stringNode{val: t.text}, nil

	case tokenIdent:
		switch t.text {
		case "true":
			p.advance()
			return boolNode{val: true}, nil
		case "false":
			p.advance()
			return boolNode{val: false}, nil
		case "none":
			p.advance()
			return noneNode{}, nil
		}
		if keywords[t.text] {
			return nil, p.errorf("unexpected keyword %q", t.text)
		}
		p.advance()
		return nameNode{name: t.text}, nil

	case tokenOp:
		switch t.text {
		case "(":
			p.advance()
			n, err := p.ternary()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return n, nil

		case "[":
			p.advance()
			var elems []node
			if !p.acceptOp("]") {
				for {
					e, err := p.ternary()
					if err != nil {
						return nil, err
					}
					elems = append(elems, e)
					if p.acceptOp(",") {
						continue
					}
					if err := p.expectOp("]"); err != nil {
						return nil, err
					}
					break
				}
			}
			return listNode{elems: elems}, nil

		case "{":
			p.advance()
			var keys, vals []node
			if !p.acceptOp("}") {
				for {
					k, err := p.ternary()
					if err != nil {
						return nil, err
					}
					if err := p.expectOp(":"); err != nil {
						return nil, err
					}
					v, err := p.ternary()
					if err != nil {
						return nil, err
					}
					keys = append(keys, k)
					vals = append(vals, v)
					if p.acceptOp(",") {
						continue
					}
					if err := p.expectOp("}"); err != nil {
						return nil, err
					}
					break
				}
			}
			return dictNode{keys: keys, vals: vals}, nil
		}
	}
	return nil, p.errorf("unexpected %q", tokenText(t))
}

func tokenText(t token) string {
	if t.kind == tokenEOF {
		return "end of expression"
	}
	return t.text
}
