package eval

// The AST is a closed set of node types. The evaluator switches
// exhaustively over them; a construct that never produces one of these
// nodes cannot be evaluated.

type node interface{ astNode() }

type numberNode struct{ val float64 }

type stringNode struct{ val string }

type boolNode struct{ val bool }

type noneNode struct{}

type nameNode struct{ name string }

type listNode struct{ elems []node }

type dictNode struct {
	keys []node
	vals []node
}

// attrNode is dotted access, e.g. factors.tithi. Only map lookups are
// permitted at evaluation time.
type attrNode struct {
	target node
	name   string
}

type indexNode struct {
	target node
	key    node
}

type callNode struct {
	target node
	args   []node
}

type unaryNode struct {
	op      string // "+" | "-" | "not"
	operand node
}

type binaryNode struct {
	op    string // "+" | "-" | "*" | "/" | "%" | "**"
	left  node
	right node
}

// boolOpNode is a short-circuiting and/or over two or more operands.
type boolOpNode struct {
	op       string // "and" | "or"
	operands []node
}

// compareNode holds a possibly chained comparison: a < b <= c.
type compareNode struct {
	first node
	ops   []string // "==" "!=" "<" "<=" ">" ">=" "in" "not in"
	rest  []node
}

// condNode is the conditional form "body if test else orelse".
type condNode struct {
	test, body, orelse node
}

func (numberNode) astNode()  {}
func (stringNode) astNode()  {}
func (boolNode) astNode()    {}
func (noneNode) astNode()    {}
func (nameNode) astNode()    {}
func (listNode) astNode()    {}
func (dictNode) astNode()    {}
func (attrNode) astNode()    {}
func (indexNode) astNode()   {}
func (callNode) astNode()    {}
func (unaryNode) astNode()   {}
func (binaryNode) astNode()  {}
func (boolOpNode) astNode()  {}
func (compareNode) astNode() {}
func (condNode) astNode()    {}
