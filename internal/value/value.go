// Package value defines the nine catalogue data types and the canonical Go
// representation of each, plus literal parsing and formatting shared by the
// schema layer, the expression language, and the database backends.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	geom "github.com/twpayne/go-geom"

	"github.com/muninn-archive/muninn/internal/errs"
)

// Type identifies one of the catalogue data types.
type Type int

const (
	Invalid Type = iota
	Boolean
	Integer // 32-bit signed
	Long    // 64-bit signed
	Real    // float64
	Text
	Timestamp // UTC, microsecond precision
	UUID
	Geometry
	JSON
)

var typeNames = map[Type]string{
	Boolean:   "boolean",
	Integer:   "integer",
	Long:      "long",
	Real:      "real",
	Text:      "text",
	Timestamp: "timestamp",
	UUID:      "uuid",
	Geometry:  "geometry",
	JSON:      "json",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// TypeByName resolves a type name as used in namespace definitions.
func TypeByName(name string) (Type, error) {
	for t, s := range typeNames {
		if s == name {
			return t, nil
		}
	}
	return Invalid, errs.Schema("unknown type %q", name)
}

// Timestamp sentinels. MinTimestamp and MaxTimestamp bound every valid
// timestamp; the expression language exposes them as the literals
// 0000-00-00T00:00:00 and 9999-99-99T99:99:99.
var (
	MinTimestamp = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTimestamp = time.Date(9999, time.December, 31, 23, 59, 59, 999999000, time.UTC)
)

// Go representation per type:
//
//	Boolean   bool
//	Integer   int32
//	Long      int64
//	Real      float64
//	Text      string
//	Timestamp time.Time (UTC, microseconds)
//	UUID      uuid.UUID
//	Geometry  geom.T
//	JSON      json.RawMessage

// TypeOf reports the catalogue type of a canonical Go value.
func TypeOf(v any) (Type, error) {
	switch v.(type) {
	case bool:
		return Boolean, nil
	case int32:
		return Integer, nil
	case int64:
		return Long, nil
	case float64:
		return Real, nil
	case string:
		return Text, nil
	case time.Time:
		return Timestamp, nil
	case uuid.UUID:
		return UUID, nil
	case geom.T:
		return Geometry, nil
	case json.RawMessage:
		return JSON, nil
	}
	return Invalid, errs.Schema("unsupported value type %T", v)
}

// Check reports whether v is the canonical representation of type t.
func Check(t Type, v any) bool {
	got, err := TypeOf(v)
	if err != nil {
		return false
	}
	if got == t {
		return true
	}
	// geom.T is an interface; TypeOf only matches it last, but a concrete
	// geometry also satisfies it.
	if t == Geometry {
		_, ok := v.(geom.T)
		return ok
	}
	return false
}

// Coerce converts v to the canonical representation of t, widening integers
// where lossless (int -> int32/int64, int32 -> int64, integral kinds ->
// float64). It rejects narrowing and cross-kind conversions.
func Coerce(t Type, v any) (any, error) {
	if Check(t, v) {
		if t == Timestamp {
			return NormalizeTimestamp(v.(time.Time)), nil
		}
		return v, nil
	}
	switch t {
	case Integer:
		if n, ok := asInt64(v); ok {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, errs.Schema("value %d overflows integer", n)
			}
			return int32(n), nil
		}
	case Long:
		if n, ok := asInt64(v); ok {
			return n, nil
		}
	case Real:
		if n, ok := asInt64(v); ok {
			return float64(n), nil
		}
		if f, ok := v.(float32); ok {
			return float64(f), nil
		}
	case UUID:
		if s, ok := v.(string); ok {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, errs.Schema("invalid uuid %q", s)
			}
			return id, nil
		}
	case JSON:
		if b, ok := v.([]byte); ok {
			return json.RawMessage(b), nil
		}
	}
	return nil, errs.Schema("cannot use %T as %s", v, t)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// NormalizeTimestamp returns ts in UTC truncated to microseconds.
func NormalizeTimestamp(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Microsecond)
}

// Timestamp text formats, longest first. Dates without a time part parse as
// midnight.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a timestamp literal, including the min/max
// sentinels.
func ParseTimestamp(s string) (time.Time, error) {
	switch {
	case strings.HasPrefix(s, "0000-00-00"):
		return MinTimestamp, nil
	case strings.HasPrefix(s, "9999-99-99"):
		return MaxTimestamp, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return NormalizeTimestamp(ts), nil
		}
	}
	// Fractions of arbitrary width.
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return NormalizeTimestamp(ts), nil
	}
	if ts, err := time.Parse("2006-01-02 15:04:05.999999999", s); err == nil {
		return NormalizeTimestamp(ts), nil
	}
	return time.Time{}, errs.Schema("invalid timestamp %q", s)
}

// FormatTimestamp renders ts in the canonical microsecond text form.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000000")
}

// Parse parses the text form of a value of type t. Used for CLI property
// assignments and export metadata.
func Parse(t Type, s string) (any, error) {
	switch t {
	case Boolean:
		switch strings.ToLower(s) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, errs.Schema("invalid boolean %q", s)
	case Integer:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, errs.Schema("invalid integer %q", s)
		}
		return int32(n), nil
	case Long:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errs.Schema("invalid long %q", s)
		}
		return n, nil
	case Real:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errs.Schema("invalid real %q", s)
		}
		return f, nil
	case Text:
		return s, nil
	case Timestamp:
		return ParseTimestamp(s)
	case UUID:
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errs.Schema("invalid uuid %q", s)
		}
		return id, nil
	case Geometry:
		return ParseWKT(s)
	case JSON:
		if !json.Valid([]byte(s)) {
			return nil, errs.Schema("invalid json value")
		}
		return json.RawMessage(s), nil
	}
	return nil, errs.Schema("cannot parse value of %s", t)
}

// Format renders a canonical value as text. The inverse of Parse for every
// type.
func Format(v any) (string, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		return x, nil
	case time.Time:
		return FormatTimestamp(x), nil
	case uuid.UUID:
		return x.String(), nil
	case geom.T:
		return FormatWKT(x)
	case json.RawMessage:
		return string(x), nil
	}
	return "", errs.Schema("cannot format value of type %T", v)
}

// Equal compares two canonical values of the same type.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case json.RawMessage:
		y, ok := b.(json.RawMessage)
		return ok && string(x) == string(y)
	case geom.T:
		y, ok := b.(geom.T)
		if !ok {
			return false
		}
		ws, err1 := FormatWKT(x)
		wt, err2 := FormatWKT(y)
		return err1 == nil && err2 == nil && ws == wt
	}
	return a == b
}
