package sqlbuilder

import (
	"fmt"
	"strings"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/registry/database"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

// timeSubscripts are the valid timestamp group-by bins.
var timeSubscripts = map[string]bool{
	"year": true, "month": true, "yearmonth": true, "date": true,
	"day": true, "hour": true, "minute": true, "second": true, "time": true,
}

// SummaryPlan is a ready-to-run summary statement plus the decoding schema.
type SummaryPlan struct {
	SQL     string
	Args    []any
	Columns []string
	Types   []value.Type
}

// BuildSummary lowers a summary query. Column order is group-by columns,
// the tag column when grouping by tag, count, then the aggregates.
func BuildSummary(d Dialect, prefix string, reg *schema.Registry, q database.SummaryQuery) (*SummaryPlan, error) {
	lo := newLowerer(d, prefix, reg)
	sc := lo.newScope("")

	where, err := lowerWhere(sc, reg, q.Where, q.Params)
	if err != nil {
		return nil, err
	}

	plan := &SummaryPlan{}
	var selects, groups []string

	for _, g := range q.GroupBy {
		ref, t, err := resolveProperty(sc, reg, g.Name)
		if err != nil {
			return nil, err
		}
		label := qualify(g.Name)
		expr := ref
		outType := t
		switch {
		case g.Subscript == "":
			if t == value.Geometry || t == value.JSON {
				return nil, errs.Schema("cannot group by %s field %q", t, g.Name)
			}
		case g.Subscript == "length":
			if t != value.Text {
				return nil, errs.Schema("subscript \"length\" requires a text field, %q is %s", g.Name, t)
			}
			expr = fmt.Sprintf("LENGTH(%s)", ref)
			outType = value.Long
			label += ".length"
		case timeSubscripts[g.Subscript]:
			if t != value.Timestamp {
				return nil, errs.Schema("subscript %q requires a timestamp field, %q is %s", g.Subscript, g.Name, t)
			}
			expr = d.TimeSubscript(ref, g.Subscript)
			outType = value.Text
			label += "." + g.Subscript
		default:
			return nil, errs.Schema("unknown subscript %q", g.Subscript)
		}
		selects = append(selects, expr)
		groups = append(groups, expr)
		plan.Columns = append(plan.Columns, label)
		plan.Types = append(plan.Types, outType)
	}

	if q.GroupByTag {
		ref := prefix + "tag.tag"
		selects = append(selects, ref)
		groups = append(groups, ref)
		plan.Columns = append(plan.Columns, "tag")
		plan.Types = append(plan.Types, value.Text)
	}

	selects = append(selects, "count(*)")
	plan.Columns = append(plan.Columns, "count")
	plan.Types = append(plan.Types, value.Long)

	for _, agg := range q.Aggregates {
		expr, t, err := aggregateExpr(d, sc, reg, agg)
		if err != nil {
			return nil, err
		}
		selects = append(selects, expr)
		plan.Columns = append(plan.Columns, string(agg.Func)+"."+qualify(agg.Name))
		plan.Types = append(plan.Types, t)
	}

	havings := make([]string, 0, len(q.Having))
	for _, h := range q.Having {
		cond, err := havingCond(d, sc, reg, h)
		if err != nil {
			return nil, err
		}
		havings = append(havings, cond)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %score%s", strings.Join(selects, ", "), prefix, sc.joinClause())
	if q.GroupByTag {
		fmt.Fprintf(&sb, " LEFT JOIN %stag USING (uuid)", prefix)
	}
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	if len(groups) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	}
	if len(havings) > 0 {
		sb.WriteString(" HAVING " + strings.Join(havings, " AND "))
	}
	orderBy, err := summaryOrderBy(q.OrderBy, plan.Columns)
	if err != nil {
		return nil, err
	}
	if orderBy == "" {
		// Without an explicit order the result follows the grouping columns.
		orderBy = defaultSummaryOrder(len(groups))
	}
	if orderBy != "" {
		sb.WriteString(" ORDER BY " + orderBy)
	}
	plan.SQL = sb.String()
	plan.Args = lo.args
	return plan, nil
}

var havingOps = map[string]string{
	"==": "=", "!=": "<>", "<": "<", "<=": "<=", ">": ">", ">=": ">=",
}

// havingCond renders one post-grouping condition. The aggregate expression
// is repeated rather than referenced by label so the clause stays portable.
func havingCond(d Dialect, sc *scope, reg *schema.Registry, h database.Having) (string, error) {
	op, ok := havingOps[h.Op]
	if !ok {
		return "", errs.Schema("invalid having operator %q", h.Op)
	}
	ref := "count(*)"
	t := value.Long
	if !(h.Func == "" && h.Name == "count") {
		var err error
		ref, t, err = aggregateExpr(d, sc, reg, database.SummaryField{Name: h.Name, Func: h.Func})
		if err != nil {
			return "", err
		}
	}
	v, err := value.Coerce(t, h.Value)
	if err != nil {
		return "", errs.Schema("invalid having value for %q: %v", h.Name, err)
	}
	ph, err := sc.lo.addArg(t, v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", ref, op, ph), nil
}

func defaultSummaryOrder(groups int) string {
	parts := make([]string, groups)
	for i := range parts {
		parts[i] = fmt.Sprintf("%d ASC", i+1)
	}
	return strings.Join(parts, ", ")
}

func qualify(name string) string {
	if strings.Contains(name, ".") || name == "validity_duration" {
		return name
	}
	return "core." + name
}

func aggregateExpr(d Dialect, sc *scope, reg *schema.Registry, agg database.SummaryField) (string, value.Type, error) {
	if agg.Name == "validity_duration" {
		start, _, err := resolveProperty(sc, reg, "validity_start")
		if err != nil {
			return "", value.Invalid, err
		}
		stop, _, err := resolveProperty(sc, reg, "validity_stop")
		if err != nil {
			return "", value.Invalid, err
		}
		diff := d.TimestampDiff(stop, start)
		return fmt.Sprintf("%s(%s)", sqlAggFunc(agg.Func), diff), value.Real, nil
	}
	ref, t, err := resolveProperty(sc, reg, agg.Name)
	if err != nil {
		return "", value.Invalid, err
	}
	switch t {
	case value.Integer, value.Long, value.Real:
	case value.Text, value.Timestamp:
		if agg.Func != database.AggMin && agg.Func != database.AggMax {
			return "", value.Invalid, errs.Schema("aggregation %q is invalid for %s field %q", agg.Func, t, agg.Name)
		}
	default:
		return "", value.Invalid, errs.Schema("cannot aggregate %s field %q", t, agg.Name)
	}
	out := t
	switch agg.Func {
	case database.AggAvg:
		out = value.Real
	case database.AggSum:
		if t == value.Integer {
			out = value.Long
		}
	case database.AggMin, database.AggMax:
	default:
		return "", value.Invalid, errs.Schema("unknown aggregation %q", agg.Func)
	}
	return fmt.Sprintf("%s(%s)", sqlAggFunc(agg.Func), ref), out, nil
}

func sqlAggFunc(f database.AggregateFunc) string {
	return strings.ToUpper(string(f))
}

func summaryOrderBy(orderBy, columns []string) (string, error) {
	var parts []string
	for _, entry := range orderBy {
		dir := "ASC"
		name := entry
		switch {
		case strings.HasPrefix(entry, "-"):
			dir = "DESC"
			name = entry[1:]
		case strings.HasPrefix(entry, "+"):
			name = entry[1:]
		}
		if name != "count" && name != "tag" {
			name = qualifyOrder(name, columns)
		}
		found := -1
		for i, col := range columns {
			if col == name {
				found = i
				break
			}
		}
		if found < 0 {
			return "", errs.Schema("cannot order by %q: not a summary column", entry)
		}
		parts = append(parts, fmt.Sprintf("%d %s", found+1, dir))
	}
	return strings.Join(parts, ", "), nil
}

// qualifyOrder maps an unqualified order-by name onto its summary column
// label, trying the core-qualified form when the bare name does not match.
func qualifyOrder(name string, columns []string) string {
	for _, col := range columns {
		if col == name {
			return name
		}
	}
	qualified := qualify(name)
	for _, col := range columns {
		if col == qualified {
			return qualified
		}
	}
	return name
}
