package sqlbuilder

import (
	"fmt"
	"strings"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/expr"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/database"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

// Column describes one result column of a search statement.
type Column struct {
	Namespace string
	Field     string
	Type      value.Type
}

// SearchPlan is a ready-to-run search statement plus the decoding schema.
type SearchPlan struct {
	SQL     string
	Args    []any
	Columns []Column
}

// BuildSearch lowers a search query. The result selects every core field
// plus the fields of the requested namespaces; a namespace's uuid column
// doubles as its presence marker.
func BuildSearch(d Dialect, prefix string, reg *schema.Registry, q database.Query) (*SearchPlan, error) {
	lo := newLowerer(d, prefix, reg)
	sc := lo.newScope("")

	where, err := lowerWhere(sc, reg, q.Where, q.Params)
	if err != nil {
		return nil, err
	}

	var cols []Column
	var selects []string
	addField := func(ns string, f schema.Field) {
		ref := sc.nsRef(ns) + "." + f.Name
		if f.Type == value.Geometry {
			ref = d.GeometryAsText(ref)
		}
		selects = append(selects, ref)
		cols = append(cols, Column{Namespace: ns, Field: f.Name, Type: f.Type})
	}
	core, err := reg.Namespace("core")
	if err != nil {
		return nil, err
	}
	for _, f := range core.Fields() {
		addField("core", f)
	}
	for _, nsName := range q.Namespaces {
		if nsName == "core" {
			continue
		}
		ns, err := reg.Namespace(nsName)
		if err != nil {
			return nil, err
		}
		selects = append(selects, sc.nsRef(nsName)+".uuid")
		cols = append(cols, Column{Namespace: nsName, Field: "uuid", Type: value.UUID})
		for _, f := range ns.Fields() {
			addField(nsName, f)
		}
	}

	orderBy, err := lowerOrderBy(sc, reg, q.OrderBy)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %score%s", strings.Join(selects, ", "), prefix, sc.joinClause())
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	if orderBy != "" {
		sb.WriteString(" ORDER BY " + orderBy)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}
	return &SearchPlan{SQL: sb.String(), Args: lo.args, Columns: cols}, nil
}

// BuildCount lowers a count query.
func BuildCount(d Dialect, prefix string, reg *schema.Registry, where string, params map[string]any) (string, []any, error) {
	lo := newLowerer(d, prefix, reg)
	sc := lo.newScope("")
	cond, err := lowerWhere(sc, reg, where, params)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT count(*) FROM %score%s", prefix, sc.joinClause())
	if cond != "" {
		sql += " WHERE " + cond
	}
	return sql, lo.args, nil
}

func lowerWhere(sc *scope, reg *schema.Registry, where string, params map[string]any) (string, error) {
	if strings.TrimSpace(where) == "" {
		return "", nil
	}
	root, err := expr.ParseAndAnalyze(reg, where, params)
	if err != nil {
		return "", err
	}
	return sc.build(root)
}

// lowerOrderBy resolves "+name"/"-name" entries against the schema and
// records the joins they need.
func lowerOrderBy(sc *scope, reg *schema.Registry, orderBy []string) (string, error) {
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
		ref, _, err := resolveProperty(sc, reg, name)
		if err != nil {
			return "", err
		}
		parts = append(parts, ref+" "+dir)
	}
	return strings.Join(parts, ", "), nil
}

// resolveProperty resolves a (possibly unqualified) property name to a
// column reference and its type.
func resolveProperty(sc *scope, reg *schema.Registry, name string) (string, value.Type, error) {
	nsName, field := "core", name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		nsName, field = name[:i], name[i+1:]
	}
	ns, err := reg.Namespace(nsName)
	if err != nil {
		return "", value.Invalid, err
	}
	f, ok := ns.Field(field)
	if !ok {
		return "", value.Invalid, errs.Schema("no field %q in namespace %q", field, nsName)
	}
	return sc.nsRef(nsName) + "." + f.Name, f.Type, nil
}

// DecodeRow converts one scanned row (each cell scanned into any) back into
// a property container. A namespace whose uuid marker is NULL is absent.
func DecodeRow(d Dialect, cols []Column, raw []any) (properties.Properties, error) {
	if len(cols) != len(raw) {
		return nil, errs.Backend(nil, "result width mismatch: %d columns, %d values", len(cols), len(raw))
	}
	props := properties.New()
	skip := map[string]bool{}
	for i, col := range cols {
		if skip[col.Namespace] {
			continue
		}
		if col.Namespace != "core" && col.Field == "uuid" {
			if raw[i] == nil {
				skip[col.Namespace] = true
			} else {
				props.Namespace(col.Namespace)
			}
			continue
		}
		if raw[i] == nil {
			continue
		}
		v, err := d.DecodeValue(col.Type, raw[i])
		if err != nil {
			return nil, err
		}
		props.Set(col.Namespace, col.Field, v)
	}
	return props, nil
}
