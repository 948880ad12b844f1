package sqlbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/expr"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

// lowerer turns an analyzed expression tree into SQL text plus a positional
// argument list. One lowerer serves one statement; placeholders are numbered
// across every fragment it produces.
type lowerer struct {
	d        Dialect
	prefix   string
	reg      *schema.Registry
	args     []any
	aliasSeq int
}

// scope is one query level. The outer level references tables by name and
// collects LEFT JOINs; subquery levels alias their core table.
type scope struct {
	lo      *lowerer
	coreRef string            // empty at the outer level
	joins   map[string]string // namespace -> table reference
}

func newLowerer(d Dialect, prefix string, reg *schema.Registry) *lowerer {
	return &lowerer{d: d, prefix: prefix, reg: reg}
}

func (lo *lowerer) newScope(coreRef string) *scope {
	return &scope{lo: lo, coreRef: coreRef, joins: map[string]string{}}
}

func (lo *lowerer) alias(base string) string {
	lo.aliasSeq++
	return fmt.Sprintf("%s%d", base, lo.aliasSeq)
}

func (lo *lowerer) addArg(t value.Type, v any) (string, error) {
	enc, err := lo.d.EncodeValue(t, v)
	if err != nil {
		return "", err
	}
	lo.args = append(lo.args, enc)
	ph := lo.d.Placeholder(len(lo.args))
	if t == value.Geometry {
		return lo.d.GeometryValue(ph), nil
	}
	return ph, nil
}

func (s *scope) core() string {
	if s.coreRef != "" {
		return s.coreRef
	}
	return s.lo.prefix + "core"
}

// nsRef returns the table reference for a namespace, recording the join.
func (s *scope) nsRef(ns string) string {
	if ns == "core" {
		return s.core()
	}
	if ref, ok := s.joins[ns]; ok {
		return ref
	}
	ref := s.lo.prefix + ns
	if s.coreRef != "" {
		ref = s.lo.alias(ns)
	}
	s.joins[ns] = ref
	return ref
}

// joinClause renders the collected namespace joins.
func (s *scope) joinClause() string {
	if len(s.joins) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.joins))
	for ns := range s.joins {
		names = append(names, ns)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, ns := range names {
		ref := s.joins[ns]
		if s.coreRef == "" {
			fmt.Fprintf(&sb, " LEFT JOIN %s%s USING (uuid)", s.lo.prefix, ns)
		} else {
			fmt.Fprintf(&sb, " LEFT JOIN %s%s AS %s ON %s.uuid = %s.uuid", s.lo.prefix, ns, ref, ref, s.coreRef)
		}
	}
	return sb.String()
}

func (s *scope) build(n expr.Node) (string, error) {
	switch v := n.(type) {
	case *expr.Literal:
		return s.lo.addArg(v.Type, v.Value)
	case *expr.Param:
		return s.lo.addArg(v.Type, v.Value)
	case *expr.Name:
		return s.buildName(v)
	case *expr.Unary:
		return s.buildUnary(v)
	case *expr.Binary:
		return s.buildBinary(v)
	case *expr.Call:
		return s.buildCall(v)
	}
	return "", errs.Expression(n.Pos(), "cannot lower %T", n)
}

func (s *scope) buildName(n *expr.Name) (string, error) {
	if n.Field == "" {
		// Namespace probes only appear under is_defined.
		alias := s.lo.alias("d")
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s%s AS %s WHERE %s.uuid = %s.uuid)",
			s.lo.prefix, n.Namespace, alias, alias, s.core()), nil
	}
	return s.nsRef(n.Namespace) + "." + n.Field, nil
}

func (s *scope) buildUnary(u *expr.Unary) (string, error) {
	arg, err := s.build(u.Arg)
	if err != nil {
		return "", err
	}
	switch u.Op {
	case "not":
		return "(NOT " + arg + ")", nil
	case "-":
		return "(- " + arg + ")", nil
	case "+":
		return arg, nil
	}
	return "", errs.Expression(u.Position, "cannot lower unary %q", u.Op)
}

func (s *scope) buildBinary(b *expr.Binary) (string, error) {
	if b.Op == "in" {
		return s.buildIn(b)
	}
	left, err := s.build(b.Left)
	if err != nil {
		return "", err
	}
	right, err := s.build(b.Right)
	if err != nil {
		return "", err
	}
	switch b.Op {
	case "and", "or":
		return fmt.Sprintf("(%s %s %s)", left, strings.ToUpper(b.Op), right), nil
	case "==", "!=", "~=":
		return s.buildEquality(b, left, right)
	case "<", ">", "<=", ">=":
		return fmt.Sprintf("(%s %s %s)", left, b.Op, right), nil
	case "-":
		if b.Left.ResultType() == value.Timestamp && b.Right.ResultType() == value.Timestamp {
			return s.lo.d.TimestampDiff(left, right), nil
		}
		return fmt.Sprintf("(%s - %s)", left, right), nil
	case "+", "*", "/":
		return fmt.Sprintf("(%s %s %s)", left, b.Op, right), nil
	}
	return "", errs.Expression(b.Position, "cannot lower %q", b.Op)
}

// buildEquality applies the NULL coercion for comparisons between a
// property and a literal: equality and pattern matching additionally
// require the property to be present, inequality also matches absence.
func (s *scope) buildEquality(b *expr.Binary, left, right string) (string, error) {
	nameSQL, coerce := s.coercionTarget(b, left, right)
	switch b.Op {
	case "==":
		if coerce {
			return fmt.Sprintf("(%s = %s AND %s IS NOT NULL)", left, right, nameSQL), nil
		}
		return fmt.Sprintf("(%s = %s)", left, right), nil
	case "!=":
		if coerce {
			return fmt.Sprintf("(%s <> %s OR %s IS NULL)", left, right, nameSQL), nil
		}
		return fmt.Sprintf("(%s <> %s)", left, right), nil
	case "~=":
		like := s.lo.d.Like(left, right, false)
		if coerce {
			return fmt.Sprintf("(%s AND %s IS NOT NULL)", like, nameSQL), nil
		}
		return "(" + like + ")", nil
	}
	return "", errs.Expression(b.Position, "cannot lower %q", b.Op)
}

func (s *scope) coercionTarget(b *expr.Binary, left, right string) (string, bool) {
	_, lName := b.Left.(*expr.Name)
	_, rLit := b.Right.(*expr.Literal)
	if lName && rLit {
		return left, true
	}
	_, rName := b.Right.(*expr.Name)
	_, lLit := b.Left.(*expr.Literal)
	if rName && lLit {
		return right, true
	}
	return "", false
}

func (s *scope) buildIn(b *expr.Binary) (string, error) {
	left, err := s.build(b.Left)
	if err != nil {
		return "", err
	}
	list := b.Right.(*expr.List)
	items := make([]string, len(list.Elems))
	for i, e := range list.Elems {
		ph, err := s.lo.addArg(e.Type, e.Value)
		if err != nil {
			return "", err
		}
		items[i] = ph
	}
	return fmt.Sprintf("(%s IN (%s))", left, strings.Join(items, ", ")), nil
}

func (s *scope) buildCall(c *expr.Call) (string, error) {
	switch c.Func {
	case "now":
		return s.lo.d.CurrentTimestamp(), nil
	case "is_defined":
		return s.buildIsDefined(c)
	case "has_tag":
		return s.buildHasTag(c)
	case "is_source_of":
		return s.buildLinkProbe(c, true)
	case "is_derived_from":
		return s.buildLinkProbe(c, false)
	case "covers", "intersects":
		return s.buildCoversIntersects(c)
	case "distance":
		a, err := s.build(c.Args[0])
		if err != nil {
			return "", err
		}
		b, err := s.build(c.Args[1])
		if err != nil {
			return "", err
		}
		return s.lo.d.GeometryDistance(a, b), nil
	}
	return "", errs.Expression(c.Position, "cannot lower function %q", c.Func)
}

func (s *scope) buildIsDefined(c *expr.Call) (string, error) {
	name := c.Args[0].(*expr.Name)
	if name.Field == "" {
		alias := s.lo.alias("d")
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s%s AS %s WHERE %s.uuid = %s.uuid)",
			s.lo.prefix, name.Namespace, alias, alias, s.core()), nil
	}
	ref, err := s.buildName(name)
	if err != nil {
		return "", err
	}
	return "(" + ref + " IS NOT NULL)", nil
}

func (s *scope) buildHasTag(c *expr.Call) (string, error) {
	arg, err := s.build(c.Args[0])
	if err != nil {
		return "", err
	}
	alias := s.lo.alias("t")
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %stag AS %s WHERE %s.uuid = %s.uuid AND %s.tag = %s)",
		s.lo.prefix, alias, alias, s.core(), alias, arg), nil
}

// buildLinkProbe lowers is_source_of / is_derived_from. The link table
// records (uuid, source_uuid): uuid is the derived product.
func (s *scope) buildLinkProbe(c *expr.Call, sourceOf bool) (string, error) {
	arg := c.Args[0]
	linkAlias := s.lo.alias("l")
	if arg.ResultType() == value.UUID {
		ph, err := s.build(arg)
		if err != nil {
			return "", err
		}
		if sourceOf {
			return fmt.Sprintf("EXISTS (SELECT 1 FROM %slink AS %s WHERE %s.source_uuid = %s.uuid AND %s.uuid = %s)",
				s.lo.prefix, linkAlias, linkAlias, s.core(), linkAlias, ph), nil
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %slink AS %s WHERE %s.uuid = %s.uuid AND %s.source_uuid = %s)",
			s.lo.prefix, linkAlias, linkAlias, s.core(), linkAlias, ph), nil
	}

	// Boolean form: the probe quantifies over linked products.
	coreAlias := s.lo.alias("c")
	inner := s.lo.newScope(coreAlias)
	cond, err := inner.build(arg)
	if err != nil {
		return "", err
	}
	if sourceOf {
		// Some product derived from this one matches.
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %slink AS %s JOIN %score AS %s ON %s.uuid = %s.uuid%s WHERE %s.source_uuid = %s.uuid AND %s)",
			s.lo.prefix, linkAlias, s.lo.prefix, coreAlias, linkAlias, coreAlias,
			inner.joinClause(), linkAlias, s.core(), cond), nil
	}
	// Some source of this product matches.
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM %slink AS %s JOIN %score AS %s ON %s.source_uuid = %s.uuid%s WHERE %s.uuid = %s.uuid AND %s)",
		s.lo.prefix, linkAlias, s.lo.prefix, coreAlias, linkAlias, coreAlias,
		inner.joinClause(), linkAlias, s.core(), cond), nil
}

func (s *scope) buildCoversIntersects(c *expr.Call) (string, error) {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		p, err := s.build(a)
		if err != nil {
			return "", err
		}
		parts[i] = p
	}
	if len(parts) == 2 {
		if c.Func == "covers" {
			return s.lo.d.GeometryCovers(parts[0], parts[1]), nil
		}
		return s.lo.d.GeometryIntersects(parts[0], parts[1]), nil
	}
	aStart, aStop, bStart, bStop := parts[0], parts[1], parts[2], parts[3]
	if c.Func == "covers" {
		return fmt.Sprintf("(%s >= %s AND %s >= %s AND %s >= %s AND %s <= %s)",
			aStop, aStart, bStop, bStart, bStart, aStart, bStop, aStop), nil
	}
	return fmt.Sprintf("(%s >= %s AND %s >= %s AND %s >= %s AND %s <= %s)",
		aStop, aStart, bStop, bStart, bStop, aStart, bStart, aStop), nil
}
