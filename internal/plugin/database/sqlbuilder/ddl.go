package sqlbuilder

import (
	"fmt"
	"strings"

	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

// CreateStatements returns the DDL for the catalogue: the core table, one
// table per extension namespace keyed by uuid, and the tag and link tables.
// Table names carry the archive prefix so several archives can share a
// database.
func CreateStatements(d Dialect, prefix string, reg *schema.Registry) ([]string, error) {
	var stmts []string

	core, err := reg.Namespace("core")
	if err != nil {
		return nil, err
	}
	stmts = append(stmts, createNamespaceTable(d, prefix, core, true)...)

	for _, name := range reg.Names() {
		if name == "core" {
			continue
		}
		ns, err := reg.Namespace(name)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, createNamespaceTable(d, prefix, ns, false)...)
	}

	coreTable := prefix + "core"
	tagTable := prefix + "tag"
	linkTable := prefix + "link"
	uuidType := d.ColumnType(value.UUID)

	stmts = append(stmts,
		fmt.Sprintf("CREATE TABLE %s (id %s, uuid %s NOT NULL REFERENCES %s (uuid) ON DELETE CASCADE, tag %s NOT NULL, UNIQUE (uuid, tag))",
			tagTable, d.SerialPrimaryKey(), uuidType, coreTable, d.ColumnType(value.Text)),
		fmt.Sprintf("CREATE INDEX idx_%s_tag ON %s (tag)", tagTable, tagTable),
		fmt.Sprintf("CREATE TABLE %s (id %s, uuid %s NOT NULL REFERENCES %s (uuid) ON DELETE CASCADE, source_uuid %s NOT NULL, UNIQUE (uuid, source_uuid))",
			linkTable, d.SerialPrimaryKey(), uuidType, coreTable, uuidType),
		fmt.Sprintf("CREATE INDEX idx_%s_source_uuid ON %s (source_uuid)", linkTable, linkTable),
	)
	return stmts, nil
}

func createNamespaceTable(d Dialect, prefix string, ns *schema.Namespace, isCore bool) []string {
	table := prefix + ns.Name
	var cols []string
	var indexes []string

	if !isCore {
		cols = append(cols, fmt.Sprintf("uuid %s PRIMARY KEY REFERENCES %score (uuid) ON DELETE CASCADE",
			d.ColumnType(value.UUID), prefix))
	}
	for _, f := range ns.Fields() {
		if !isCore && f.Name == "uuid" {
			continue
		}
		col := fmt.Sprintf("%s %s", f.Name, d.ColumnType(f.Type))
		if isCore && f.Name == "uuid" {
			col += " PRIMARY KEY"
		} else if !f.Optional {
			col += " NOT NULL"
		}
		cols = append(cols, col)
		if f.Indexed && f.Name != "uuid" {
			if idx := d.CreateIndex(table, f.Name, f.Type); idx != "" {
				indexes = append(indexes, idx)
			}
		}
	}
	if isCore {
		cols = append(cols,
			"UNIQUE (product_type, product_name)",
			"UNIQUE (archive_path, physical_name)")
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", "))
	return append([]string{create}, indexes...)
}

// DropStatements returns the DDL removing the catalogue tables. Dependent
// tables go first.
func DropStatements(prefix string, reg *schema.Registry) []string {
	var stmts []string
	stmts = append(stmts,
		"DROP TABLE IF EXISTS "+prefix+"tag",
		"DROP TABLE IF EXISTS "+prefix+"link")
	for _, name := range reg.Names() {
		if name != "core" {
			stmts = append(stmts, "DROP TABLE IF EXISTS "+prefix+name)
		}
	}
	return append(stmts, "DROP TABLE IF EXISTS "+prefix+"core")
}
