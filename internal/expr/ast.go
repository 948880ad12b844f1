package expr

import "github.com/muninn-archive/muninn/internal/value"

// Node is an expression tree node. Result types are attached by Analyze;
// before analysis ResultType is only meaningful on literals.
type Node interface {
	Pos() int
	ResultType() value.Type
}

// Literal is a constant of one of the literal-capable types (boolean, long,
// real, text, timestamp, geometry; uuid after analysis coercion).
type Literal struct {
	Position int
	Type     value.Type
	Value    any
}

func (n *Literal) Pos() int               { return n.Position }
func (n *Literal) ResultType() value.Type { return n.Type }

// Name is a property reference. Namespace and Type are filled in by the
// analyzer; an unqualified name resolves in the core namespace.
type Name struct {
	Position  int
	Namespace string
	Field     string
	Type      value.Type
}

func (n *Name) Pos() int               { return n.Position }
func (n *Name) ResultType() value.Type { return n.Type }

// Param is a named parameter reference (@name). The analyzer binds it to a
// supplied value and records its type.
type Param struct {
	Position int
	Name     string
	Type     value.Type
	Value    any
}

func (n *Param) Pos() int               { return n.Position }
func (n *Param) ResultType() value.Type { return n.Type }

// List is the right operand of "in": a homogeneous list of scalar literals.
type List struct {
	Position int
	Elems    []*Literal
}

func (n *List) Pos() int { return n.Position }
func (n *List) ResultType() value.Type {
	if len(n.Elems) == 0 {
		return value.Invalid
	}
	return n.Elems[0].Type
}

// Unary is "not", unary minus, or unary plus.
type Unary struct {
	Position int
	Op       string
	Arg      Node
	Type     value.Type
}

func (n *Unary) Pos() int               { return n.Position }
func (n *Unary) ResultType() value.Type { return n.Type }

// Binary is an infix operation, including "in" with a List right operand.
type Binary struct {
	Position int
	Op       string
	Left     Node
	Right    Node
	Type     value.Type
}

func (n *Binary) Pos() int               { return n.Position }
func (n *Binary) ResultType() value.Type { return n.Type }

// Call is a function application. The analyzer resolves the overload and
// records the result type.
type Call struct {
	Position int
	Func     string
	Args     []Node
	Type     value.Type
}

func (n *Call) Pos() int               { return n.Position }
func (n *Call) ResultType() value.Type { return n.Type }
