// Package sqlite implements the catalogue on SQLite with the spatialite
// extension. Timestamps are stored as canonical text; timestamp arithmetic
// goes through julianday and is millisecond precise.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/plugin/database/sqlbuilder"
	"github.com/muninn-archive/muninn/internal/registry/database"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

func init() {
	database.Register(database.Plugin{Name: "sqlite", Loader: load})
}

type settings struct {
	ConnectionString  string `ini:"connection_string"`
	ModSpatialitePath string `ini:"mod_spatialite_path"`
	TablePrefix       string `ini:"table_prefix"`
}

var (
	driverMu  sync.Mutex
	driverSeq int
	drivers   = map[string]string{}
)

// driverFor registers (once) a sqlite3 driver variant that loads the
// spatialite extension and enforces foreign keys on every connection.
func driverFor(modSpatialite string) string {
	driverMu.Lock()
	defer driverMu.Unlock()
	if name, ok := drivers[modSpatialite]; ok {
		return name
	}
	driverSeq++
	name := fmt.Sprintf("sqlite3_spatialite_%d", driverSeq)
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.LoadExtension(modSpatialite, ""); err != nil {
				return fmt.Errorf("failed to load %s: %w", modSpatialite, err)
			}
			_, err := conn.Exec("PRAGMA foreign_keys = ON", nil)
			return err
		},
	})
	drivers[modSpatialite] = name
	return name
}

func load(ctx context.Context, cfg *config.Config, reg *schema.Registry) (database.Backend, error) {
	var s settings
	if err := cfg.DecodeSection("sqlite", &s); err != nil {
		return nil, err
	}
	if s.ConnectionString == "" {
		return nil, errs.Config("option \"connection_string\" missing from section [sqlite]")
	}
	if s.ModSpatialitePath == "" {
		s.ModSpatialitePath = "mod_spatialite"
	}
	db, err := sql.Open(driverFor(s.ModSpatialitePath), s.ConnectionString)
	if err != nil {
		return nil, errs.Backend(err, "failed to open sqlite database")
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Backend(err, "failed to open sqlite database")
	}
	prefix := s.TablePrefix
	if prefix == "" {
		prefix = cfg.ArchiveID + "_"
	}
	return sqlbuilder.New(db, dialect{}, prefix, reg), nil
}

type dialect struct{}

func (dialect) Placeholder(int) string { return "?" }

func (dialect) ColumnType(t value.Type) string {
	switch t {
	case value.Boolean:
		return "BOOLEAN"
	case value.Integer, value.Long:
		return "INTEGER"
	case value.Real:
		return "REAL"
	case value.Timestamp:
		return "TIMESTAMP"
	case value.Geometry:
		return "GEOMETRY"
	}
	return "TEXT"
}

func (dialect) SerialPrimaryKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (dialect) CreateIndex(table, column string, t value.Type) string {
	if t == value.Geometry || t == value.JSON {
		return ""
	}
	return fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s)", table, column, table, column)
}

func (dialect) Like(lhs, rhs string, negate bool) string {
	op := "LIKE"
	if negate {
		op = "NOT LIKE"
	}
	return fmt.Sprintf("%s %s %s ESCAPE '\\'", lhs, op, rhs)
}

func (dialect) TimestampDiff(a, b string) string {
	// julianday keeps about a millisecond of precision.
	return fmt.Sprintf("round((julianday(%s) - julianday(%s)) * 86400.0, 3)", a, b)
}

func (dialect) CurrentTimestamp() string {
	return "strftime('%Y-%m-%dT%H:%M:%f', 'now')"
}

var subscriptFormats = map[string]string{
	"year":      "%Y",
	"month":     "%m",
	"yearmonth": "%Y-%m",
	"date":      "%Y-%m-%d",
	"day":       "%d",
	"hour":      "%H",
	"minute":    "%M",
	"second":    "%S",
	"time":      "%H:%M:%S",
}

func (dialect) TimeSubscript(expr, subscript string) string {
	return fmt.Sprintf("strftime('%s', %s)", subscriptFormats[subscript], expr)
}

func (dialect) GeometryValue(placeholder string) string {
	return fmt.Sprintf("GeomFromText(%s, 4326)", placeholder)
}

func (dialect) GeometryAsText(col string) string {
	return fmt.Sprintf("AsText(%s)", col)
}

func (dialect) GeometryCovers(a, b string) string {
	return fmt.Sprintf("Covers(%s, %s)", a, b)
}

func (dialect) GeometryIntersects(a, b string) string {
	return fmt.Sprintf("Intersects(%s, %s)", a, b)
}

func (dialect) GeometryDistance(a, b string) string {
	return fmt.Sprintf("Distance(%s, %s)", a, b)
}

func (dialect) EncodeValue(t value.Type, v any) (any, error) {
	switch t {
	case value.UUID:
		id, ok := v.(uuid.UUID)
		if !ok {
			return nil, errs.Backend(nil, "expected uuid, got %T", v)
		}
		return id.String(), nil
	case value.Timestamp:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, errs.Backend(nil, "expected timestamp, got %T", v)
		}
		return value.FormatTimestamp(ts), nil
	case value.Geometry, value.JSON:
		return value.Format(v)
	}
	return v, nil
}

func (dialect) DecodeValue(t value.Type, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch t {
	case value.Boolean:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
	case value.Integer:
		if n, ok := raw.(int64); ok {
			return int32(n), nil
		}
	case value.Long:
		if n, ok := raw.(int64); ok {
			return n, nil
		}
	case value.Real:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case value.Text:
		return decodeString(t, raw)
	case value.Timestamp:
		if ts, ok := raw.(time.Time); ok {
			return value.NormalizeTimestamp(ts), nil
		}
		s, err := decodeString(t, raw)
		if err != nil {
			return nil, err
		}
		return value.ParseTimestamp(normalizeTimeText(s))
	case value.UUID:
		s, err := decodeString(t, raw)
		if err != nil {
			return nil, err
		}
		id, perr := uuid.Parse(s)
		if perr != nil {
			return nil, errs.Backend(perr, "invalid uuid in result")
		}
		return id, nil
	case value.Geometry:
		s, err := decodeString(t, raw)
		if err != nil {
			return nil, err
		}
		return value.ParseWKT(s)
	case value.JSON:
		s, err := decodeString(t, raw)
		if err != nil {
			return nil, err
		}
		return value.Parse(value.JSON, s)
	}
	return nil, errs.Backend(nil, "cannot decode %T as %s", raw, t)
}

func decodeString(t value.Type, raw any) (string, error) {
	switch s := raw.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", errs.Backend(nil, "cannot decode %T as %s", raw, t)
}

// normalizeTimeText maps the space-separated form strftime produces onto
// the canonical layout.
func normalizeTimeText(s string) string {
	if len(s) > 10 && s[10] == ' ' {
		return s[:10] + "T" + s[11:]
	}
	return s
}

func (dialect) TableExistsQuery(table string) (string, []any) {
	return "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
}

func (dialect) IsUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	if serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return true
	}
	return serr.Code == sqlite3.ErrConstraint && strings.Contains(serr.Error(), "UNIQUE")
}
