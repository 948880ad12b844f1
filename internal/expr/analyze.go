package expr

import (
	"github.com/google/uuid"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

// Analyze resolves names against the namespace registry, binds parameters,
// performs overload resolution, and attaches a result type to every node.
// The tree is annotated in place and returned.
func Analyze(reg *schema.Registry, root Node, params map[string]any) (Node, error) {
	a := &analyzer{reg: reg, params: params}
	if err := a.check(root); err != nil {
		return nil, err
	}
	return root, nil
}

// AnalyzeFilter is Analyze plus the requirement that the expression is
// boolean, as search, summary, and cascade filters must be.
func AnalyzeFilter(reg *schema.Registry, root Node, params map[string]any) (Node, error) {
	root, err := Analyze(reg, root, params)
	if err != nil {
		return nil, err
	}
	if root.ResultType() != value.Boolean {
		return nil, errs.Expression(root.Pos(), "filter must be boolean, got %s", root.ResultType())
	}
	return root, nil
}

// ParseAndAnalyze is the common entry point for backends and the archive.
func ParseAndAnalyze(reg *schema.Registry, input string, params map[string]any) (Node, error) {
	root, err := Parse(input)
	if err != nil {
		return nil, err
	}
	return AnalyzeFilter(reg, root, params)
}

type analyzer struct {
	reg    *schema.Registry
	params map[string]any
}

func (a *analyzer) check(n Node) error {
	switch v := n.(type) {
	case *Literal:
		return nil
	case *Name:
		return a.checkName(v)
	case *Param:
		return a.checkParam(v)
	case *List:
		return a.checkList(v)
	case *Unary:
		return a.checkUnary(v)
	case *Binary:
		return a.checkBinary(v)
	case *Call:
		return a.checkCall(v)
	}
	return errs.Expression(n.Pos(), "unsupported node %T", n)
}

func (a *analyzer) checkName(n *Name) error {
	nsName := n.Namespace
	if nsName == "" {
		nsName = "core"
	}
	ns, err := a.reg.Namespace(nsName)
	if err != nil {
		return errs.Expression(n.Position, "undefined namespace %q", nsName)
	}
	f, ok := ns.Field(n.Field)
	if !ok {
		return errs.Expression(n.Position, "no field %q in namespace %q", n.Field, nsName)
	}
	n.Namespace = nsName
	n.Type = f.Type
	return nil
}

func (a *analyzer) checkParam(p *Param) error {
	v, ok := a.params[p.Name]
	if !ok {
		return errs.Expression(p.Position, "undefined parameter %q", p.Name)
	}
	if n, isInt := v.(int); isInt {
		v = int64(n)
	}
	t, err := value.TypeOf(v)
	if err != nil {
		return errs.Expression(p.Position, "parameter %q has unsupported type %T", p.Name, v)
	}
	if t == value.Timestamp {
		v, _ = value.Coerce(value.Timestamp, v)
	}
	p.Type = t
	p.Value = v
	return nil
}

func (a *analyzer) checkList(l *List) error {
	if len(l.Elems) == 0 {
		return errs.Expression(l.Position, "empty list")
	}
	t := numericClass(l.Elems[0].Type)
	for _, e := range l.Elems[1:] {
		if numericClass(e.Type) != t {
			return errs.Expression(e.Position, "list elements must share one type")
		}
	}
	return nil
}

func (a *analyzer) checkUnary(u *Unary) error {
	if err := a.check(u.Arg); err != nil {
		return err
	}
	t := u.Arg.ResultType()
	switch u.Op {
	case "not":
		if t != value.Boolean {
			return errs.Expression(u.Position, "\"not\" requires boolean, got %s", t)
		}
		u.Type = value.Boolean
	case "-", "+":
		if !isNumeric(t) {
			return errs.Expression(u.Position, "unary %q requires a number, got %s", u.Op, t)
		}
		u.Type = t
	default:
		return errs.Expression(u.Position, "unknown operator %q", u.Op)
	}
	return nil
}

func (a *analyzer) checkBinary(b *Binary) error {
	if err := a.check(b.Left); err != nil {
		return err
	}
	if b.Op == "in" {
		return a.checkIn(b)
	}
	if err := a.check(b.Right); err != nil {
		return err
	}
	lt, rt := b.Left.ResultType(), b.Right.ResultType()
	switch b.Op {
	case "and", "or":
		if lt != value.Boolean || rt != value.Boolean {
			return errs.Expression(b.Position, "%q requires boolean operands", b.Op)
		}
		b.Type = value.Boolean
	case "==", "!=":
		if !a.coerceUUID(b) && !comparable2(lt, rt) {
			return errs.Expression(b.Position, "cannot compare %s and %s", lt, rt)
		}
		b.Type = value.Boolean
	case "~=":
		if lt != value.Text || rt != value.Text {
			return errs.Expression(b.Position, "\"~=\" requires text operands")
		}
		b.Type = value.Boolean
	case "<", ">", "<=", ">=":
		ordered := (isNumeric(lt) && isNumeric(rt)) ||
			(lt == value.Text && rt == value.Text) ||
			(lt == value.Timestamp && rt == value.Timestamp)
		if !ordered {
			return errs.Expression(b.Position, "cannot order %s and %s", lt, rt)
		}
		b.Type = value.Boolean
	case "+", "*", "/":
		if !isNumeric(lt) || !isNumeric(rt) {
			return errs.Expression(b.Position, "%q requires numeric operands", b.Op)
		}
		b.Type = promote(lt, rt)
	case "-":
		if lt == value.Timestamp && rt == value.Timestamp {
			b.Type = value.Real
			return nil
		}
		if !isNumeric(lt) || !isNumeric(rt) {
			return errs.Expression(b.Position, "%q requires numeric or timestamp operands", b.Op)
		}
		b.Type = promote(lt, rt)
	default:
		return errs.Expression(b.Position, "unknown operator %q", b.Op)
	}
	return nil
}

// coerceUUID rewrites text literals compared against a uuid field to uuid
// literals.
func (a *analyzer) coerceUUID(b *Binary) bool {
	lt, rt := b.Left.ResultType(), b.Right.ResultType()
	if lt == value.UUID && rt == value.UUID {
		return true
	}
	try := func(side Node, other value.Type) (*Literal, bool) {
		lit, ok := side.(*Literal)
		if !ok || lit.Type != value.Text || other != value.UUID {
			return nil, false
		}
		id, err := uuid.Parse(lit.Value.(string))
		if err != nil {
			return nil, false
		}
		return &Literal{Position: lit.Position, Type: value.UUID, Value: id}, true
	}
	if lit, ok := try(b.Right, lt); ok {
		b.Right = lit
		return true
	}
	if lit, ok := try(b.Left, rt); ok {
		b.Left = lit
		return true
	}
	return false
}

// checkIn restricts membership tests to numeric and text operands.
func (a *analyzer) checkIn(b *Binary) error {
	list, ok := b.Right.(*List)
	if !ok {
		return errs.Expression(b.Position, "\"in\" requires a literal list")
	}
	if err := a.checkList(list); err != nil {
		return err
	}
	lt := b.Left.ResultType()
	if !isNumeric(lt) && lt != value.Text {
		return errs.Expression(b.Position, "\"in\" is not defined for %s", lt)
	}
	if et := list.ResultType(); !comparable2(lt, et) {
		return errs.Expression(b.Position, "cannot test %s membership in %s list", lt, et)
	}
	b.Type = value.Boolean
	return nil
}

// Function prototypes. Each entry lists the accepted argument type rows and
// the result type; special forms (is_defined, is_source_of, is_derived_from)
// are handled in checkCall.
var prototypes = map[string][]struct {
	args   []value.Type
	result value.Type
}{
	"covers": {
		{[]value.Type{value.Timestamp, value.Timestamp, value.Timestamp, value.Timestamp}, value.Boolean},
		{[]value.Type{value.Geometry, value.Geometry}, value.Boolean},
	},
	"intersects": {
		{[]value.Type{value.Timestamp, value.Timestamp, value.Timestamp, value.Timestamp}, value.Boolean},
		{[]value.Type{value.Geometry, value.Geometry}, value.Boolean},
	},
	"distance": {
		{[]value.Type{value.Geometry, value.Geometry}, value.Real},
	},
	"has_tag": {
		{[]value.Type{value.Text}, value.Boolean},
	},
	"now": {
		{[]value.Type{}, value.Timestamp},
	},
}

func (a *analyzer) checkCall(c *Call) error {
	switch c.Func {
	case "is_defined":
		return a.checkIsDefined(c)
	case "is_source_of", "is_derived_from":
		return a.checkLinkProbe(c)
	}
	protos, ok := prototypes[c.Func]
	if !ok {
		return errs.Expression(c.Position, "unknown function %q", c.Func)
	}
	for _, arg := range c.Args {
		if err := a.check(arg); err != nil {
			return err
		}
	}
next:
	for _, proto := range protos {
		if len(proto.args) != len(c.Args) {
			continue
		}
		for i, want := range proto.args {
			got := c.Args[i].ResultType()
			if got != want && !(isNumeric(want) && isNumeric(got)) {
				continue next
			}
		}
		c.Type = proto.result
		return nil
	}
	return errs.Expression(c.Position, "no matching prototype for %q", c.Func)
}

// checkIsDefined accepts a property name or a bare namespace name.
func (a *analyzer) checkIsDefined(c *Call) error {
	if len(c.Args) != 1 {
		return errs.Expression(c.Position, "is_defined takes one argument")
	}
	name, ok := c.Args[0].(*Name)
	if !ok {
		return errs.Expression(c.Args[0].Pos(), "is_defined requires a property or namespace name")
	}
	if name.Namespace == "" && a.reg.Has(name.Field) {
		// Namespace probe: Field empty marks "any record in namespace".
		name.Namespace = name.Field
		name.Field = ""
		name.Type = value.Boolean
	} else if err := a.checkName(name); err != nil {
		return err
	}
	c.Type = value.Boolean
	return nil
}

// checkLinkProbe accepts a uuid argument (uuid or text literal, or bound
// parameter) or a nested boolean expression lowered to a subquery.
func (a *analyzer) checkLinkProbe(c *Call) error {
	if len(c.Args) != 1 {
		return errs.Expression(c.Position, "%s takes one argument", c.Func)
	}
	arg := c.Args[0]
	if lit, ok := arg.(*Literal); ok && lit.Type == value.Text {
		id, err := uuid.Parse(lit.Value.(string))
		if err != nil {
			return errs.Expression(lit.Position, "invalid uuid %q", lit.Value)
		}
		c.Args[0] = &Literal{Position: lit.Position, Type: value.UUID, Value: id}
		c.Type = value.Boolean
		return nil
	}
	if err := a.check(arg); err != nil {
		return err
	}
	switch arg.ResultType() {
	case value.UUID, value.Boolean:
		c.Type = value.Boolean
		return nil
	}
	return errs.Expression(arg.Pos(), "%s requires a uuid or a boolean subexpression", c.Func)
}

func isNumeric(t value.Type) bool {
	return t == value.Integer || t == value.Long || t == value.Real
}

func numericClass(t value.Type) value.Type {
	if t == value.Integer {
		return value.Long
	}
	return t
}

func promote(a, b value.Type) value.Type {
	if a == value.Real || b == value.Real {
		return value.Real
	}
	return value.Long
}

func comparable2(a, b value.Type) bool {
	if isNumeric(a) && isNumeric(b) {
		return true
	}
	return numericClass(a) == numericClass(b) && a != value.Geometry && a != value.JSON
}
