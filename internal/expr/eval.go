package expr

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	geom "github.com/twpayne/go-geom"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/value"
)

// Env supplies one product's data to the evaluator. The link and tag
// callbacks may be nil when the expression does not use them.
type Env struct {
	// Get returns a property value; ok false means NULL.
	Get func(ns, field string) (any, bool)
	// HasNamespace reports whether the product has a record in ns.
	HasNamespace func(ns string) bool
	// HasTag reports whether the product carries the tag.
	HasTag func(tag string) bool
	// IsSourceOf reports whether the product is a source of id.
	IsSourceOf func(id uuid.UUID) bool
	// IsDerivedFrom reports whether the product is derived from id.
	IsDerivedFrom func(id uuid.UUID) bool
	// AnyDerivedMatches reports whether any product derived from this one
	// satisfies sub (is_source_of with a boolean argument).
	AnyDerivedMatches func(sub Node) (bool, error)
	// AnySourceMatches reports whether any source of this product satisfies
	// sub (is_derived_from with a boolean argument).
	AnySourceMatches func(sub Node) (bool, error)
	// Now is the evaluation time for now().
	Now time.Time
}

// Eval evaluates an analyzed boolean expression with SQL NULL semantics:
// NULL propagates through comparisons and arithmetic, three-valued logic
// applies to and/or/not, and a NULL result is false. Equality between a
// property name and a literal follows the coerced forms the backends
// generate (missing property: "==" is false, "!=" is true).
func Eval(n Node, env *Env) (bool, error) {
	v, err := eval(n, env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	return ok && b, nil
}

// null is the NULL marker inside the evaluator.
type null struct{}

func eval(n Node, env *Env) (any, error) {
	switch v := n.(type) {
	case *Literal:
		return v.Value, nil
	case *Param:
		return v.Value, nil
	case *Name:
		if v.Field == "" {
			if env.HasNamespace == nil {
				return false, nil
			}
			return env.HasNamespace(v.Namespace), nil
		}
		if val, ok := env.Get(v.Namespace, v.Field); ok {
			return val, nil
		}
		return null{}, nil
	case *Unary:
		return evalUnary(v, env)
	case *Binary:
		return evalBinary(v, env)
	case *Call:
		return evalCall(v, env)
	}
	return nil, errs.Expression(n.Pos(), "cannot evaluate %T", n)
}

func evalUnary(u *Unary, env *Env) (any, error) {
	arg, err := eval(u.Arg, env)
	if err != nil {
		return nil, err
	}
	if _, isNull := arg.(null); isNull {
		return null{}, nil
	}
	switch u.Op {
	case "not":
		return !arg.(bool), nil
	case "-":
		switch x := arg.(type) {
		case int64:
			return -x, nil
		case int32:
			return int64(-x), nil
		case float64:
			return -x, nil
		}
	case "+":
		return arg, nil
	}
	return nil, errs.Expression(u.Position, "cannot evaluate unary %q", u.Op)
}

func evalBinary(b *Binary, env *Env) (any, error) {
	if b.Op == "and" || b.Op == "or" {
		return evalLogic(b, env)
	}
	left, err := eval(b.Left, env)
	if err != nil {
		return nil, err
	}
	if b.Op == "in" {
		return evalIn(b, left)
	}
	right, err := eval(b.Right, env)
	if err != nil {
		return nil, err
	}
	_, lNull := left.(null)
	_, rNull := right.(null)
	if lNull || rNull {
		// Coerced equality forms over name-vs-literal comparisons.
		if nameVsLiteral(b) {
			switch b.Op {
			case "==", "~=":
				return false, nil
			case "!=":
				return true, nil
			}
		}
		return null{}, nil
	}

	switch b.Op {
	case "==":
		return value.Equal(normNum(left), normNum(right)), nil
	case "!=":
		return !value.Equal(normNum(left), normNum(right)), nil
	case "~=":
		return likeMatch(left.(string), right.(string))
	case "<", ">", "<=", ">=":
		return evalOrder(b.Op, left, right, b.Position)
	case "+", "-", "*", "/":
		return evalArith(b.Op, left, right, b.Position)
	}
	return nil, errs.Expression(b.Position, "cannot evaluate %q", b.Op)
}

// evalLogic applies three-valued and/or.
func evalLogic(b *Binary, env *Env) (any, error) {
	left, err := eval(b.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := eval(b.Right, env)
	if err != nil {
		return nil, err
	}
	lb, lOK := left.(bool)
	rb, rOK := right.(bool)
	if b.Op == "and" {
		if (lOK && !lb) || (rOK && !rb) {
			return false, nil
		}
		if lOK && rOK {
			return true, nil
		}
		return null{}, nil
	}
	if (lOK && lb) || (rOK && rb) {
		return true, nil
	}
	if lOK && rOK {
		return false, nil
	}
	return null{}, nil
}

func nameVsLiteral(b *Binary) bool {
	_, ln := b.Left.(*Name)
	_, rn := b.Right.(*Name)
	_, ll := b.Left.(*Literal)
	_, rl := b.Right.(*Literal)
	return (ln && rl) || (rn && ll)
}

func evalIn(b *Binary, left any) (any, error) {
	if _, isNull := left.(null); isNull {
		return null{}, nil
	}
	list := b.Right.(*List)
	for _, e := range list.Elems {
		if value.Equal(normNum(left), normNum(e.Value)) {
			return true, nil
		}
	}
	return false, nil
}

// normNum widens integral values so mixed integer/long comparison works.
func normNum(v any) any {
	if n, ok := v.(int32); ok {
		return int64(n)
	}
	return v
}

func evalOrder(op string, left, right any, pos int) (any, error) {
	var cmp int
	switch l := normNum(left).(type) {
	case int64:
		switch r := normNum(right).(type) {
		case int64:
			cmp = compareInt(l, r)
		case float64:
			cmp = compareFloat(float64(l), r)
		}
	case float64:
		switch r := normNum(right).(type) {
		case int64:
			cmp = compareFloat(l, float64(r))
		case float64:
			cmp = compareFloat(l, r)
		}
	case string:
		cmp = strings.Compare(l, right.(string))
	case time.Time:
		r := right.(time.Time)
		switch {
		case l.Before(r):
			cmp = -1
		case l.After(r):
			cmp = 1
		}
	default:
		return nil, errs.Expression(pos, "cannot order %T", left)
	}
	switch op {
	case "<":
		return cmp < 0, nil
	case ">":
		return cmp > 0, nil
	case "<=":
		return cmp <= 0, nil
	}
	return cmp >= 0, nil
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func evalArith(op string, left, right any, pos int) (any, error) {
	lt, lTime := left.(time.Time)
	if lTime {
		rt, ok := right.(time.Time)
		if !ok || op != "-" {
			return nil, errs.Expression(pos, "invalid timestamp arithmetic")
		}
		return lt.Sub(rt).Seconds(), nil
	}
	lf, lReal := toFloat(left)
	rf, rReal := toFloat(right)
	if !lReal || !rReal {
		return nil, errs.Expression(pos, "invalid operands for %q", op)
	}
	li, lInt := normNum(left).(int64)
	ri, rInt := normNum(right).(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, errs.Expression(pos, "division by zero")
			}
			return li / ri, nil
		}
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, errs.Expression(pos, "division by zero")
		}
		return lf / rf, nil
	}
	return nil, errs.Expression(pos, "cannot evaluate %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// likeMatch implements SQL LIKE with % and _ wildcards and backslash
// escapes.
func likeMatch(s, pattern string) (bool, error) {
	var sb strings.Builder
	sb.WriteString("(?s)^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		case '\\':
			if i+1 < len(pattern) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false, errs.Expression(0, "invalid pattern %q", pattern)
	}
	return re.MatchString(s), nil
}

func evalCall(c *Call, env *Env) (any, error) {
	switch c.Func {
	case "now":
		ts := env.Now
		if ts.IsZero() {
			ts = time.Now()
		}
		return value.NormalizeTimestamp(ts), nil
	case "is_defined":
		// Namespace probes evaluate to their presence boolean directly; field
		// probes report whether the value is non-NULL.
		if name, ok := c.Args[0].(*Name); ok && name.Field == "" {
			return eval(name, env)
		}
		v, err := eval(c.Args[0], env)
		if err != nil {
			return nil, err
		}
		_, isNull := v.(null)
		return !isNull, nil
	case "has_tag":
		tag, err := eval(c.Args[0], env)
		if err != nil {
			return nil, err
		}
		if env.HasTag == nil {
			return false, nil
		}
		return env.HasTag(tag.(string)), nil
	case "is_source_of":
		return evalLinkProbe(c, env, env.IsSourceOf, env.AnyDerivedMatches)
	case "is_derived_from":
		return evalLinkProbe(c, env, env.IsDerivedFrom, env.AnySourceMatches)
	case "covers", "intersects":
		return evalCoversIntersects(c, env)
	case "distance":
		return evalDistance(c, env)
	}
	return nil, errs.Expression(c.Position, "cannot evaluate %q", c.Func)
}

func evalLinkProbe(c *Call, env *Env, byID func(uuid.UUID) bool, bySub func(Node) (bool, error)) (any, error) {
	arg := c.Args[0]
	if arg.ResultType() == value.UUID {
		v, err := eval(arg, env)
		if err != nil {
			return nil, err
		}
		if _, isNull := v.(null); isNull {
			return null{}, nil
		}
		if byID == nil {
			return false, nil
		}
		return byID(v.(uuid.UUID)), nil
	}
	if bySub == nil {
		return false, nil
	}
	return bySub(arg)
}

func evalCoversIntersects(c *Call, env *Env) (any, error) {
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		v, err := eval(a, env)
		if err != nil {
			return nil, err
		}
		if _, isNull := v.(null); isNull {
			return null{}, nil
		}
		args[i] = v
	}
	if len(args) == 4 {
		aStart, aStop := args[0].(time.Time), args[1].(time.Time)
		bStart, bStop := args[2].(time.Time), args[3].(time.Time)
		valid := !aStop.Before(aStart) && !bStop.Before(bStart)
		if c.Func == "covers" {
			return valid && !bStart.Before(aStart) && !bStop.After(aStop), nil
		}
		return valid && !bStop.Before(aStart) && !bStart.After(aStop), nil
	}
	// Geometry forms use bounding boxes; exact predicates are backend work.
	ab := args[0].(geom.T).Bounds()
	bb := args[1].(geom.T).Bounds()
	if c.Func == "covers" {
		return ab.Min(0) <= bb.Min(0) && ab.Min(1) <= bb.Min(1) &&
			ab.Max(0) >= bb.Max(0) && ab.Max(1) >= bb.Max(1), nil
	}
	return ab.Min(0) <= bb.Max(0) && bb.Min(0) <= ab.Max(0) &&
		ab.Min(1) <= bb.Max(1) && bb.Min(1) <= ab.Max(1), nil
}

// evalDistance approximates the planar separation in degrees between the
// bounding-box centers of the two geometries, matching the coordinate-plane
// distance the embedded backend computes.
func evalDistance(c *Call, env *Env) (any, error) {
	args := make([]any, 2)
	for i, a := range c.Args {
		v, err := eval(a, env)
		if err != nil {
			return nil, err
		}
		if _, isNull := v.(null); isNull {
			return null{}, nil
		}
		args[i] = v
	}
	lon1, lat1 := center(args[0].(geom.T))
	lon2, lat2 := center(args[1].(geom.T))
	return math.Hypot(lon2-lon1, lat2-lat1), nil
}

func center(g geom.T) (lon, lat float64) {
	b := g.Bounds()
	return (b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2
}
