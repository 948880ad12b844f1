// Package database defines the catalogue backend contract and the named
// plug-in registry database implementations register with.
package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/schema"
)

// Query selects products. Where is an expression-language filter; Params
// binds @name references. Namespaces lists the non-core namespaces to fetch
// into the results. OrderBy entries are property names with an optional
// "+"/"-" prefix.
type Query struct {
	Where      string
	Params     map[string]any
	Namespaces []string
	OrderBy    []string
	Limit      int
	Offset     int
}

// AggregateFunc is a summary aggregation.
type AggregateFunc string

const (
	AggMin AggregateFunc = "min"
	AggMax AggregateFunc = "max"
	AggSum AggregateFunc = "sum"
	AggAvg AggregateFunc = "avg"
)

// SummaryField is one aggregated column: a property name (or the derived
// validity_duration field) with an aggregation function.
type SummaryField struct {
	Name string
	Func AggregateFunc
}

// GroupBy is one grouping column. Subscript bins timestamps (year, month,
// yearmonth, date, day, hour, minute, second, time) or takes the length of
// a text field.
type GroupBy struct {
	Name      string
	Subscript string
}

// Having filters summary rows after grouping: one aggregated column
// (Func empty means the count column) compared against a literal value.
type Having struct {
	Name  string
	Func  AggregateFunc
	Op    string
	Value any
}

// SummaryQuery describes a summary computation. The count column is always
// produced first. Having conditions are combined with AND.
type SummaryQuery struct {
	Where      string
	Params     map[string]any
	Aggregates []SummaryField
	GroupBy    []GroupBy
	GroupByTag bool
	Having     []Having
	OrderBy    []string
}

// SummaryResult is the computed table. Column order is group-by columns,
// the tag column when grouped by tag, count, then the aggregates.
type SummaryResult struct {
	Columns []string
	Rows    [][]any
}

// Backend is the catalogue contract. Implementations are safe for
// concurrent use.
type Backend interface {
	// Schema returns the namespace registry the backend was built with.
	Schema() *schema.Registry

	// Prepare creates the catalogue tables and indexes. Exists reports
	// whether they are present; Destroy drops them.
	Prepare(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
	Destroy(ctx context.Context) error
	Close() error

	// InsertProduct stores a new product. Namespace records are created for
	// every namespace present in props.
	InsertProduct(ctx context.Context, props properties.Properties) error
	// UpdateProduct applies a partial update. A nil namespace map removes
	// that namespace's record; createNamespaces allows introducing records
	// for namespaces the product does not have yet.
	UpdateProduct(ctx context.Context, id uuid.UUID, update properties.Properties, createNamespaces bool) error
	// DeleteProduct removes the product and, through the schema's foreign
	// keys, its namespace records, tags, and links.
	DeleteProduct(ctx context.Context, id uuid.UUID) error

	Search(ctx context.Context, q Query) ([]properties.Properties, error)
	Count(ctx context.Context, where string, params map[string]any) (int64, error)
	Summary(ctx context.Context, q SummaryQuery) (*SummaryResult, error)

	// Tags are idempotent and kept in insertion-independent sorted order on
	// read. Untag with nil removes all tags.
	Tag(ctx context.Context, id uuid.UUID, tags []string) error
	Untag(ctx context.Context, id uuid.UUID, tags []string) error
	Tags(ctx context.Context, id uuid.UUID) ([]string, error)

	// Link records source relations; idempotent. Unlink with nil removes
	// all source links.
	Link(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error
	Unlink(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error
	SourceUUIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
	DerivedUUIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)

	// Cascade queries. Both honor the grace period against database server
	// time and restrict to the product types when the list is non-empty.
	// "Without source" means linked but with every source row gone;
	// "without available source" additionally counts sources that lost
	// their archived data.
	FindProductsWithoutSource(ctx context.Context, productTypes []string, grace time.Duration, archivedOnly bool) ([]properties.Properties, error)
	FindProductsWithoutAvailableSource(ctx context.Context, productTypes []string, grace time.Duration, archivedOnly bool) ([]properties.Properties, error)

	// ServerTime returns the database clock in UTC.
	ServerTime(ctx context.Context) (time.Time, error)
}

// Plugin is a named backend constructor.
type Plugin struct {
	Name   string
	Loader func(ctx context.Context, cfg *config.Config, reg *schema.Registry) (Backend, error)
}

var (
	mu      sync.RWMutex
	plugins = map[string]Plugin{}
)

// Register adds a plugin. Registering a duplicate name panics; plugins
// register from init.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := plugins[p.Name]; dup {
		panic("database plugin registered twice: " + p.Name)
	}
	plugins[p.Name] = p
}

// Select resolves a plugin by name.
func Select(name string) (Plugin, error) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := plugins[name]
	if !ok {
		return Plugin{}, errs.Config("unknown database backend %q (have %v)", name, names())
	}
	return p, nil
}

// Names returns the registered plugin names sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(plugins))
	for name := range plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
