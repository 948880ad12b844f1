// Package postgres implements the catalogue on PostgreSQL with PostGIS.
// Geometry columns are GEOGRAPHY with a GIST index; text columns use the
// "C" collation so ordering is byte-wise and index-friendly.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/plugin/database/sqlbuilder"
	"github.com/muninn-archive/muninn/internal/registry/database"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

func init() {
	database.Register(database.Plugin{Name: "postgresql", Loader: load})
}

type settings struct {
	ConnectionString string `ini:"connection_string"`
	TablePrefix      string `ini:"table_prefix"`
	MaxConnections   int    `ini:"max_connections"`
}

func load(ctx context.Context, cfg *config.Config, reg *schema.Registry) (database.Backend, error) {
	var s settings
	if err := cfg.DecodeSection("postgresql", &s); err != nil {
		return nil, err
	}
	if s.ConnectionString == "" {
		return nil, errs.Config("option \"connection_string\" missing from section [postgresql]")
	}
	db, err := sql.Open("pgx", s.ConnectionString)
	if err != nil {
		return nil, errs.Backend(err, "failed to open postgresql connection")
	}
	if s.MaxConnections > 0 {
		db.SetMaxOpenConns(s.MaxConnections)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Backend(err, "failed to connect to postgresql")
	}
	prefix := s.TablePrefix
	if prefix == "" {
		prefix = cfg.ArchiveID + "_"
	}
	return sqlbuilder.New(db, dialect{}, prefix, reg), nil
}

type dialect struct{}

func (dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (dialect) ColumnType(t value.Type) string {
	switch t {
	case value.Boolean:
		return "BOOLEAN"
	case value.Integer:
		return "INTEGER"
	case value.Long:
		return "BIGINT"
	case value.Real:
		return "DOUBLE PRECISION"
	case value.Text:
		return "TEXT COLLATE \"C\""
	case value.Timestamp:
		return "TIMESTAMP"
	case value.UUID:
		return "UUID"
	case value.Geometry:
		return "GEOGRAPHY"
	case value.JSON:
		return "JSONB"
	}
	return "TEXT"
}

func (dialect) SerialPrimaryKey() string { return "SERIAL PRIMARY KEY" }

func (dialect) CreateIndex(table, column string, t value.Type) string {
	if t == value.Geometry {
		return fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s USING GIST (%s)", table, column, table, column)
	}
	if t == value.JSON {
		return ""
	}
	return fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s)", table, column, table, column)
}

func (dialect) Like(lhs, rhs string, negate bool) string {
	op := "LIKE"
	if negate {
		op = "NOT LIKE"
	}
	return fmt.Sprintf("%s %s %s", lhs, op, rhs)
}

func (dialect) TimestampDiff(a, b string) string {
	return fmt.Sprintf("EXTRACT(EPOCH FROM (%s - %s))", a, b)
}

func (dialect) CurrentTimestamp() string { return "timezone('UTC', now())" }

var subscriptFormats = map[string]string{
	"year":      "YYYY",
	"month":     "MM",
	"yearmonth": "YYYY-MM",
	"date":      "YYYY-MM-DD",
	"day":       "DD",
	"hour":      "HH24",
	"minute":    "MI",
	"second":    "SS",
	"time":      "HH24:MI:SS",
}

func (dialect) TimeSubscript(expr, subscript string) string {
	return fmt.Sprintf("TO_CHAR(%s, '%s')", expr, subscriptFormats[subscript])
}

func (dialect) GeometryValue(placeholder string) string {
	return fmt.Sprintf("ST_GeogFromText(%s)", placeholder)
}

func (dialect) GeometryAsText(col string) string {
	return fmt.Sprintf("ST_AsText(%s)", col)
}

func (dialect) GeometryCovers(a, b string) string {
	return fmt.Sprintf("ST_Covers(%s, %s)", a, b)
}

func (dialect) GeometryIntersects(a, b string) string {
	return fmt.Sprintf("ST_Intersects(%s, %s)", a, b)
}

func (dialect) GeometryDistance(a, b string) string {
	// Fast non-spheroid distance.
	return fmt.Sprintf("ST_Distance(%s, %s, false)", a, b)
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
		return value.NormalizeTimestamp(ts), nil
	case value.Geometry:
		s, err := value.Format(v)
		if err != nil {
			return nil, err
		}
		return s, nil
	case value.JSON:
		s, err := value.Format(v)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return v, nil
}

func (dialect) DecodeValue(t value.Type, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch t {
	case value.Boolean:
		if b, ok := raw.(bool); ok {
			return b, nil
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
		return asString(t, raw)
	case value.Timestamp:
		if ts, ok := raw.(time.Time); ok {
			return value.NormalizeTimestamp(ts), nil
		}
		if s, ok := raw.(string); ok {
			return value.ParseTimestamp(s)
		}
	case value.UUID:
		s, err := asString(t, raw)
		if err != nil {
			return nil, err
		}
		id, perr := uuid.Parse(s.(string))
		if perr != nil {
			return nil, errs.Backend(perr, "invalid uuid in result")
		}
		return id, nil
	case value.Geometry:
		s, err := asString(t, raw)
		if err != nil {
			return nil, err
		}
		return value.ParseWKT(s.(string))
	case value.JSON:
		s, err := asString(t, raw)
		if err != nil {
			return nil, err
		}
		return value.Parse(value.JSON, s.(string))
	}
	return nil, errs.Backend(nil, "cannot decode %T as %s", raw, t)
}

func asString(t value.Type, raw any) (any, error) {
	switch s := raw.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return nil, errs.Backend(nil, "cannot decode %T as %s", raw, t)
}

func (dialect) TableExistsQuery(table string) (string, []any) {
	return "SELECT 1 FROM information_schema.tables WHERE table_name = $1", []any{table}
}

func (dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
