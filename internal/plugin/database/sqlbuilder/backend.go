package sqlbuilder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/database"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

// Backend implements the catalogue contract on database/sql. The postgresql
// and sqlite plug-ins supply the connection and dialect.
type Backend struct {
	db      *sql.DB
	d       Dialect
	prefix  string
	schemas *schema.Registry
}

// New builds a backend. Prefix is the archive id followed by an underscore.
func New(db *sql.DB, d Dialect, prefix string, reg *schema.Registry) *Backend {
	return &Backend{db: db, d: d, prefix: prefix, schemas: reg}
}

func (b *Backend) Schema() *schema.Registry { return b.schemas }

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if b.d.IsUniqueViolation(err) {
		return errs.Conflict("%s: duplicate product", fmt.Sprintf(format, args...))
	}
	return errs.Backend(err, format, args...)
}

func (b *Backend) Prepare(ctx context.Context) error {
	stmts, err := CreateStatements(b.d, b.prefix, b.schemas)
	if err != nil {
		return err
	}
	return b.execAll(ctx, stmts, "failed to prepare catalogue")
}

func (b *Backend) Destroy(ctx context.Context) error {
	return b.execAll(ctx, DropStatements(b.prefix, b.schemas), "failed to destroy catalogue")
}

func (b *Backend) execAll(ctx context.Context, stmts []string, msg string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Backend(err, "%s", msg)
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errs.Backend(err, "%s", msg)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Backend(err, "%s", msg)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	q, args := b.d.TableExistsQuery(b.prefix + "core")
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return false, errs.Backend(err, "failed to check catalogue presence")
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (b *Backend) InsertProduct(ctx context.Context, props properties.Properties) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Backend(err, "failed to insert product")
	}
	defer tx.Rollback()

	id := props.UUID()
	for _, nsName := range props.Namespaces() {
		fields := props[nsName]
		if fields == nil {
			continue
		}
		if err := b.insertNamespace(ctx, tx, nsName, id, fields); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return b.wrap(err, "failed to insert product")
	}
	return nil
}

func (b *Backend) insertNamespace(ctx context.Context, tx *sql.Tx, nsName string, id uuid.UUID, fields map[string]any) error {
	ns, err := b.schemas.Namespace(nsName)
	if err != nil {
		return err
	}
	var cols, phs []string
	var args []any
	add := func(name string, t value.Type, v any) error {
		enc, err := b.d.EncodeValue(t, v)
		if err != nil {
			return err
		}
		args = append(args, enc)
		ph := b.d.Placeholder(len(args))
		if t == value.Geometry {
			ph = b.d.GeometryValue(ph)
		}
		cols = append(cols, name)
		phs = append(phs, ph)
		return nil
	}
	if nsName != "core" {
		if err := add("uuid", value.UUID, id); err != nil {
			return err
		}
	}
	for _, f := range ns.Fields() {
		v, ok := fields[f.Name]
		if !ok || v == nil {
			continue
		}
		if err := add(f.Name, f.Type, v); err != nil {
			return err
		}
	}
	stmt := fmt.Sprintf("INSERT INTO %s%s (%s) VALUES (%s)",
		b.prefix, nsName, strings.Join(cols, ", "), strings.Join(phs, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return b.wrap(err, "failed to insert %s record", nsName)
	}
	return nil
}

func (b *Backend) UpdateProduct(ctx context.Context, id uuid.UUID, update properties.Properties, createNamespaces bool) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Backend(err, "failed to update product")
	}
	defer tx.Rollback()

	for _, nsName := range update.Namespaces() {
		fields := update[nsName]
		if fields == nil {
			stmt := fmt.Sprintf("DELETE FROM %s%s WHERE uuid = %s", b.prefix, nsName, b.d.Placeholder(1))
			enc, _ := b.d.EncodeValue(value.UUID, id)
			if _, err := tx.ExecContext(ctx, stmt, enc); err != nil {
				return b.wrap(err, "failed to remove %s record", nsName)
			}
			continue
		}
		if err := b.updateNamespace(ctx, tx, nsName, id, fields, createNamespaces); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return b.wrap(err, "failed to update product")
	}
	return nil
}

func (b *Backend) updateNamespace(ctx context.Context, tx *sql.Tx, nsName string, id uuid.UUID, fields map[string]any, create bool) error {
	ns, err := b.schemas.Namespace(nsName)
	if err != nil {
		return err
	}
	var sets []string
	var args []any
	for _, f := range ns.Fields() {
		v, ok := fields[f.Name]
		if !ok || f.Name == "uuid" {
			continue
		}
		var ph string
		if v == nil {
			ph = "NULL"
		} else {
			enc, err := b.d.EncodeValue(f.Type, v)
			if err != nil {
				return err
			}
			args = append(args, enc)
			ph = b.d.Placeholder(len(args))
			if f.Type == value.Geometry {
				ph = b.d.GeometryValue(ph)
			}
		}
		sets = append(sets, f.Name+" = "+ph)
	}
	if len(sets) == 0 {
		return nil
	}
	encID, _ := b.d.EncodeValue(value.UUID, id)
	args = append(args, encID)
	stmt := fmt.Sprintf("UPDATE %s%s SET %s WHERE uuid = %s",
		b.prefix, nsName, strings.Join(sets, ", "), b.d.Placeholder(len(args)))
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return b.wrap(err, "failed to update %s record", nsName)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Backend(err, "failed to update %s record", nsName)
	}
	if n == 0 {
		if nsName == "core" {
			return errs.NotFound("product %s not found", id)
		}
		if !create {
			return errs.NotFound("product %s has no %s record", id, nsName)
		}
		return b.insertNamespace(ctx, tx, nsName, id, fields)
	}
	return nil
}

func (b *Backend) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	enc, _ := b.d.EncodeValue(value.UUID, id)
	stmt := fmt.Sprintf("DELETE FROM %score WHERE uuid = %s", b.prefix, b.d.Placeholder(1))
	res, err := b.db.ExecContext(ctx, stmt, enc)
	if err != nil {
		return b.wrap(err, "failed to delete product %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("product %s not found", id)
	}
	return nil
}

func (b *Backend) Search(ctx context.Context, q database.Query) ([]properties.Properties, error) {
	plan, err := BuildSearch(b.d, b.prefix, b.schemas, q)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, plan.SQL, plan.Args...)
	if err != nil {
		return nil, errs.Backend(err, "search failed")
	}
	defer rows.Close()

	var out []properties.Properties
	for rows.Next() {
		raw := make([]any, len(plan.Columns))
		dest := make([]any, len(raw))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errs.Backend(err, "search failed")
		}
		props, err := DecodeRow(b.d, plan.Columns, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, props)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Backend(err, "search failed")
	}
	return out, nil
}

func (b *Backend) Count(ctx context.Context, where string, params map[string]any) (int64, error) {
	stmt, args, err := BuildCount(b.d, b.prefix, b.schemas, where, params)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := b.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, errs.Backend(err, "count failed")
	}
	return n, nil
}

func (b *Backend) Summary(ctx context.Context, q database.SummaryQuery) (*database.SummaryResult, error) {
	plan, err := BuildSummary(b.d, b.prefix, b.schemas, q)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, plan.SQL, plan.Args...)
	if err != nil {
		return nil, errs.Backend(err, "summary failed")
	}
	defer rows.Close()

	result := &database.SummaryResult{Columns: plan.Columns}
	for rows.Next() {
		raw := make([]any, len(plan.Columns))
		dest := make([]any, len(raw))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errs.Backend(err, "summary failed")
		}
		row := make([]any, len(raw))
		for i, cell := range raw {
			if cell == nil {
				continue
			}
			v, err := b.d.DecodeValue(plan.Types[i], cell)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Backend(err, "summary failed")
	}
	return result, nil
}

func (b *Backend) Tag(ctx context.Context, id uuid.UUID, tags []string) error {
	encID, _ := b.d.EncodeValue(value.UUID, id)
	for _, tag := range tags {
		stmt := fmt.Sprintf(
			"INSERT INTO %stag (uuid, tag) SELECT %s, %s WHERE NOT EXISTS (SELECT 1 FROM %stag WHERE uuid = %s AND tag = %s)",
			b.prefix, b.d.Placeholder(1), b.d.Placeholder(2), b.prefix, b.d.Placeholder(3), b.d.Placeholder(4))
		if _, err := b.db.ExecContext(ctx, stmt, encID, tag, encID, tag); err != nil {
			// Concurrent insert of the same tag is fine.
			if b.d.IsUniqueViolation(err) {
				continue
			}
			return errs.Backend(err, "failed to tag product %s", id)
		}
	}
	return nil
}

func (b *Backend) Untag(ctx context.Context, id uuid.UUID, tags []string) error {
	encID, _ := b.d.EncodeValue(value.UUID, id)
	if tags == nil {
		stmt := fmt.Sprintf("DELETE FROM %stag WHERE uuid = %s", b.prefix, b.d.Placeholder(1))
		_, err := b.db.ExecContext(ctx, stmt, encID)
		return b.wrap(err, "failed to untag product %s", id)
	}
	for _, tag := range tags {
		stmt := fmt.Sprintf("DELETE FROM %stag WHERE uuid = %s AND tag = %s",
			b.prefix, b.d.Placeholder(1), b.d.Placeholder(2))
		if _, err := b.db.ExecContext(ctx, stmt, encID, tag); err != nil {
			return errs.Backend(err, "failed to untag product %s", id)
		}
	}
	return nil
}

func (b *Backend) Tags(ctx context.Context, id uuid.UUID) ([]string, error) {
	encID, _ := b.d.EncodeValue(value.UUID, id)
	stmt := fmt.Sprintf("SELECT tag FROM %stag WHERE uuid = %s ORDER BY tag", b.prefix, b.d.Placeholder(1))
	rows, err := b.db.QueryContext(ctx, stmt, encID)
	if err != nil {
		return nil, errs.Backend(err, "failed to list tags of %s", id)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, errs.Backend(err, "failed to list tags of %s", id)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (b *Backend) Link(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error {
	encID, _ := b.d.EncodeValue(value.UUID, id)
	for _, src := range sources {
		encSrc, _ := b.d.EncodeValue(value.UUID, src)
		stmt := fmt.Sprintf(
			"INSERT INTO %slink (uuid, source_uuid) SELECT %s, %s WHERE NOT EXISTS (SELECT 1 FROM %slink WHERE uuid = %s AND source_uuid = %s)",
			b.prefix, b.d.Placeholder(1), b.d.Placeholder(2), b.prefix, b.d.Placeholder(3), b.d.Placeholder(4))
		if _, err := b.db.ExecContext(ctx, stmt, encID, encSrc, encID, encSrc); err != nil {
			if b.d.IsUniqueViolation(err) {
				continue
			}
			return errs.Backend(err, "failed to link product %s", id)
		}
	}
	return nil
}

func (b *Backend) Unlink(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error {
	encID, _ := b.d.EncodeValue(value.UUID, id)
	if sources == nil {
		stmt := fmt.Sprintf("DELETE FROM %slink WHERE uuid = %s", b.prefix, b.d.Placeholder(1))
		_, err := b.db.ExecContext(ctx, stmt, encID)
		return b.wrap(err, "failed to unlink product %s", id)
	}
	for _, src := range sources {
		encSrc, _ := b.d.EncodeValue(value.UUID, src)
		stmt := fmt.Sprintf("DELETE FROM %slink WHERE uuid = %s AND source_uuid = %s",
			b.prefix, b.d.Placeholder(1), b.d.Placeholder(2))
		if _, err := b.db.ExecContext(ctx, stmt, encID, encSrc); err != nil {
			return errs.Backend(err, "failed to unlink product %s", id)
		}
	}
	return nil
}

func (b *Backend) SourceUUIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	stmt := fmt.Sprintf("SELECT source_uuid FROM %slink WHERE uuid = %s ORDER BY source_uuid", b.prefix, b.d.Placeholder(1))
	return b.queryUUIDs(ctx, stmt, id)
}

func (b *Backend) DerivedUUIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	stmt := fmt.Sprintf("SELECT uuid FROM %slink WHERE source_uuid = %s ORDER BY uuid", b.prefix, b.d.Placeholder(1))
	return b.queryUUIDs(ctx, stmt, id)
}

func (b *Backend) queryUUIDs(ctx context.Context, stmt string, id uuid.UUID) ([]uuid.UUID, error) {
	encID, _ := b.d.EncodeValue(value.UUID, id)
	rows, err := b.db.QueryContext(ctx, stmt, encID)
	if err != nil {
		return nil, errs.Backend(err, "failed to list links of %s", id)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Backend(err, "failed to list links of %s", id)
		}
		v, err := b.d.DecodeValue(value.UUID, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v.(uuid.UUID))
	}
	return out, rows.Err()
}

func (b *Backend) FindProductsWithoutSource(ctx context.Context, productTypes []string, grace time.Duration, archivedOnly bool) ([]properties.Properties, error) {
	return b.findOrphans(ctx, productTypes, grace, archivedOnly, false)
}

func (b *Backend) FindProductsWithoutAvailableSource(ctx context.Context, productTypes []string, grace time.Duration, archivedOnly bool) ([]properties.Properties, error) {
	return b.findOrphans(ctx, productTypes, grace, archivedOnly, true)
}

// findOrphans selects products whose source links all dangle. With
// availability the check also counts sources that lost their archived data.
func (b *Backend) findOrphans(ctx context.Context, productTypes []string, grace time.Duration, archivedOnly, availability bool) ([]properties.Properties, error) {
	core, err := b.schemas.Namespace("core")
	if err != nil {
		return nil, err
	}
	var selects []string
	var cols []Column
	table := b.prefix + "core"
	for _, f := range core.Fields() {
		ref := table + "." + f.Name
		if f.Type == value.Geometry {
			ref = b.d.GeometryAsText(ref)
		}
		selects = append(selects, ref)
		cols = append(cols, Column{Namespace: "core", Field: f.Name, Type: f.Type})
	}

	var args []any
	ph := func(t value.Type, v any) string {
		enc, _ := b.d.EncodeValue(t, v)
		args = append(args, enc)
		return b.d.Placeholder(len(args))
	}

	sourceOK := ""
	if availability {
		sourceOK = " AND c.archive_path IS NOT NULL"
	}
	conds := []string{
		fmt.Sprintf("EXISTS (SELECT 1 FROM %slink AS l WHERE l.uuid = %s.uuid)", b.prefix, table),
		fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %slink AS l JOIN %score AS c ON l.source_uuid = c.uuid WHERE l.uuid = %s.uuid%s)",
			b.prefix, b.prefix, table, sourceOK),
	}
	if len(productTypes) > 0 {
		items := make([]string, len(productTypes))
		for i, pt := range productTypes {
			items[i] = ph(value.Text, pt)
		}
		conds = append(conds, fmt.Sprintf("%s.product_type IN (%s)", table, strings.Join(items, ", ")))
	}
	if archivedOnly {
		conds = append(conds, table+".archive_path IS NOT NULL")
	}
	if grace > 0 {
		now, err := b.ServerTime(ctx)
		if err != nil {
			return nil, err
		}
		threshold := now.Add(-grace)
		conds = append(conds, fmt.Sprintf("(%s.archive_date IS NULL OR %s.archive_date <= %s)",
			table, table, ph(value.Timestamp, threshold)))
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(selects, ", "), table, strings.Join(conds, " AND "))
	rows, err := b.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errs.Backend(err, "cascade query failed")
	}
	defer rows.Close()

	var out []properties.Properties
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(raw))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errs.Backend(err, "cascade query failed")
		}
		props, err := DecodeRow(b.d, cols, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, props)
	}
	return out, rows.Err()
}

func (b *Backend) ServerTime(ctx context.Context) (time.Time, error) {
	var raw any
	stmt := "SELECT " + b.d.CurrentTimestamp()
	if err := b.db.QueryRowContext(ctx, stmt).Scan(&raw); err != nil {
		return time.Time{}, errs.Backend(err, "failed to read server time")
	}
	v, err := b.d.DecodeValue(value.Timestamp, raw)
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}
