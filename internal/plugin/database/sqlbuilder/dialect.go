// Package sqlbuilder lowers the expression AST to SQL and implements the
// catalogue backend on database/sql against a Dialect. The postgresql and
// sqlite plug-ins supply the dialect and the connection.
package sqlbuilder

import (
	"github.com/muninn-archive/muninn/internal/value"
)

// Dialect abstracts the SQL differences between the server and embedded
// backends.
type Dialect interface {
	// Placeholder returns the parameter marker for 1-based position n.
	Placeholder(n int) string
	// ColumnType returns the DDL type for a catalogue type.
	ColumnType(t value.Type) string
	// SerialPrimaryKey returns the DDL for the surrogate id column on the
	// tag and link tables.
	SerialPrimaryKey() string
	// CreateIndex returns the index DDL for an indexed field, or "" when
	// the backend cannot index the type.
	CreateIndex(table, column string, t value.Type) string

	// Like renders a pattern match with backslash escapes.
	Like(lhs, rhs string, negate bool) string
	// TimestampDiff renders a - b in seconds.
	TimestampDiff(a, b string) string
	// CurrentTimestamp renders the database clock in UTC.
	CurrentTimestamp() string
	// TimeSubscript renders a timestamp binning expression for a group-by
	// subscript (year, month, yearmonth, date, day, hour, minute, second,
	// time).
	TimeSubscript(expr, subscript string) string

	// GeometryValue wraps a WKT text placeholder into a geometry value.
	GeometryValue(placeholder string) string
	// GeometryAsText renders a geometry column as WKT for result decoding.
	GeometryAsText(col string) string
	GeometryCovers(a, b string) string
	GeometryIntersects(a, b string) string
	GeometryDistance(a, b string) string

	// EncodeValue converts a canonical value into a driver argument.
	EncodeValue(t value.Type, v any) (any, error)
	// DecodeValue converts a driver result (scanned into any) back into a
	// canonical value. A nil raw yields nil.
	DecodeValue(t value.Type, raw any) (any, error)

	// TableExistsQuery returns a query yielding one row when table exists.
	TableExistsQuery(table string) (string, []any)
	// IsUniqueViolation reports whether err is a unique-constraint error.
	IsUniqueViolation(err error) bool
}
