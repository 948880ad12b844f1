package expr

import (
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/value"
)

// Parse builds the untyped AST for an expression. Precedence, loosest
// first: or, and, not, comparison (== != ~= < > <= >= in, not in),
// additive, multiplicative, unary sign, call/primary.
func Parse(input string) (Node, error) {
	p := &parser{lex: &lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenEOF {
		return nil, errs.Expression(p.tok.pos, "unexpected %s %q", p.tok.kind, p.tok.text)
	}
	return n, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) isOp(ops ...string) bool {
	if p.tok.kind != tokenOperator {
		return false
	}
	for _, op := range ops {
		if p.tok.text == op {
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("or") {
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Position: pos, Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isOp("and") {
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Position: pos, Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.isOp("not") {
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		arg, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Position: pos, Op: "not", Arg: arg}, nil
	}
	return p.parseComparison()
}

// parseComparison parses at most one comparison; comparisons do not chain.
func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.isOp("in") {
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &Binary{Position: pos, Op: "in", Left: left, Right: list}, nil
	}
	// A "not" after the left operand can only start the two-word "not in"
	// operator; logical not is consumed one level up.
	if p.isOp("not") {
		notPos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !p.isOp("in") {
			return nil, errs.Expression(p.tok.pos, "expected \"in\" after \"not\"")
		}
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		in := &Binary{Position: pos, Op: "in", Left: left, Right: list}
		return &Unary{Position: notPos, Op: "not", Arg: in}, nil
	}
	if p.isOp("==", "!=", "~=", "<", ">", "<=", ">=") {
		op, pos := p.tok.text, p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &Binary{Position: pos, Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op, pos := p.tok.text, p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Position: pos, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/") {
		op, pos := p.tok.text, p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Position: pos, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isOp("-", "+") {
		op, pos := p.tok.text, p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Position: pos, Op: op, Arg: arg}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.tok
	switch tok.kind {
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokenRParen {
			return nil, errs.Expression(p.tok.pos, "expected \")\"")
		}
		return n, p.advance()
	case tokenInt:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Position: tok.pos, Type: value.Long, Value: tok.val}, nil
	case tokenReal:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Position: tok.pos, Type: value.Real, Value: tok.val}, nil
	case tokenText:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Position: tok.pos, Type: value.Text, Value: tok.val}, nil
	case tokenBool:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Position: tok.pos, Type: value.Boolean, Value: tok.val}, nil
	case tokenTimestamp:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Position: tok.pos, Type: value.Timestamp, Value: tok.val}, nil
	case tokenUUID:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Position: tok.pos, Type: value.UUID, Value: tok.val}, nil
	case tokenGeometry:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Position: tok.pos, Type: value.Geometry, Value: tok.val}, nil
	case tokenParam:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Param{Position: tok.pos, Name: tok.text}, nil
	case tokenName:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokenLParen {
			return p.parseCallArgs(tok)
		}
		return splitName(tok), nil
	}
	return nil, errs.Expression(tok.pos, "unexpected %s", tok.kind)
}

func splitName(tok token) *Name {
	for i := 0; i < len(tok.text); i++ {
		if tok.text[i] == '.' {
			return &Name{Position: tok.pos, Namespace: tok.text[:i], Field: tok.text[i+1:]}
		}
	}
	return &Name{Position: tok.pos, Field: tok.text}
}

func (p *parser) parseCallArgs(fn token) (Node, error) {
	if err := p.advance(); err != nil { // '('
		return nil, err
	}
	call := &Call{Position: fn.pos, Func: fn.text}
	if p.tok.kind == tokenRParen {
		return call, p.advance()
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		switch p.tok.kind {
		case tokenComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokenRParen:
			return call, p.advance()
		default:
			return nil, errs.Expression(p.tok.pos, "expected \",\" or \")\"")
		}
	}
}

func (p *parser) parseList() (Node, error) {
	if p.tok.kind != tokenLBracket {
		return nil, errs.Expression(p.tok.pos, "expected \"[\" after \"in\"")
	}
	list := &List{Position: p.tok.pos}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokenRBracket {
		return list, p.advance()
	}
	for {
		lit, err := p.parseListElem()
		if err != nil {
			return nil, err
		}
		list.Elems = append(list.Elems, lit)
		switch p.tok.kind {
		case tokenComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokenRBracket:
			return list, p.advance()
		default:
			return nil, errs.Expression(p.tok.pos, "expected \",\" or \"]\"")
		}
	}
}

// parseListElem accepts scalar literals, optionally signed.
func (p *parser) parseListElem() (*Literal, error) {
	neg := false
	pos := p.tok.pos
	if p.isOp("-", "+") {
		neg = p.tok.text == "-"
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	tok := p.tok
	var lit *Literal
	switch tok.kind {
	case tokenInt:
		v := tok.val.(int64)
		if neg {
			v = -v
		}
		lit = &Literal{Position: pos, Type: value.Long, Value: v}
	case tokenReal:
		v := tok.val.(float64)
		if neg {
			v = -v
		}
		lit = &Literal{Position: pos, Type: value.Real, Value: v}
	case tokenText, tokenBool, tokenTimestamp:
		if neg {
			return nil, errs.Expression(pos, "cannot negate %s literal", tok.kind)
		}
		kinds := map[tokenKind]value.Type{
			tokenText:      value.Text,
			tokenBool:      value.Boolean,
			tokenTimestamp: value.Timestamp,
		}
		lit = &Literal{Position: pos, Type: kinds[tok.kind], Value: tok.val}
	default:
		return nil, errs.Expression(tok.pos, "list elements must be scalar literals")
	}
	return lit, p.advance()
}
