package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/expr"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/database"
	"github.com/muninn-archive/muninn/internal/registry/product"
	"github.com/muninn-archive/muninn/internal/registry/remote"
	"github.com/muninn-archive/muninn/internal/registry/storage"
	"github.com/muninn-archive/muninn/internal/schema"
)

// memBackend is an in-memory catalogue used by the life-cycle tests. Search
// evaluates filters with the expression interpreter instead of SQL.
type memBackend struct {
	reg      *schema.Registry
	products map[uuid.UUID]properties.Properties
	tags     map[uuid.UUID]map[string]bool
	links    map[uuid.UUID]map[uuid.UUID]bool
	now      time.Time

	// graceSeen records the grace period of every orphan query.
	graceSeen []time.Duration
}

func newMemBackend() *memBackend {
	return &memBackend{
		reg:      schema.NewRegistry(),
		products: map[uuid.UUID]properties.Properties{},
		tags:     map[uuid.UUID]map[string]bool{},
		links:    map[uuid.UUID]map[uuid.UUID]bool{},
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memBackend) Schema() *schema.Registry            { return m.reg }
func (m *memBackend) Prepare(ctx context.Context) error   { return nil }
func (m *memBackend) Destroy(ctx context.Context) error   { return nil }
func (m *memBackend) Close() error                        { return nil }
func (m *memBackend) Exists(ctx context.Context) (bool, error) { return true, nil }

func (m *memBackend) InsertProduct(ctx context.Context, props properties.Properties) error {
	id := props.UUID()
	if _, dup := m.products[id]; dup {
		return errs.Conflict("product %s already exists", id)
	}
	for _, p := range m.products {
		if p.ProductType() == props.ProductType() && p.ProductName() == props.ProductName() {
			return errs.Conflict("product %s/%s already exists", props.ProductType(), props.ProductName())
		}
	}
	m.products[id] = props.Copy()
	return nil
}

func (m *memBackend) UpdateProduct(ctx context.Context, id uuid.UUID, update properties.Properties, createNamespaces bool) error {
	props, ok := m.products[id]
	if !ok {
		return errs.NotFound("product %s not found", id)
	}
	for ns, fields := range update {
		if fields == nil {
			delete(props, ns)
			continue
		}
		m2 := props.Namespace(ns)
		for k, v := range fields {
			if v == nil {
				delete(m2, k)
			} else {
				m2[k] = v
			}
		}
	}
	return nil
}

func (m *memBackend) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.products[id]; !ok {
		return errs.NotFound("product %s not found", id)
	}
	delete(m.products, id)
	delete(m.tags, id)
	delete(m.links, id)
	return nil
}

func (m *memBackend) envFor(p properties.Properties) *expr.Env {
	return &expr.Env{
		Get:          func(ns, field string) (any, bool) { return p.Get(ns, field) },
		HasNamespace: func(ns string) bool { _, ok := p[ns]; return ok },
		HasTag:       func(tag string) bool { return m.tags[p.UUID()][tag] },
		IsSourceOf:   func(id uuid.UUID) bool { return m.links[id][p.UUID()] },
		IsDerivedFrom: func(id uuid.UUID) bool {
			return m.links[p.UUID()][id]
		},
		AnyDerivedMatches: func(sub expr.Node) (bool, error) {
			for did, sources := range m.links {
				if !sources[p.UUID()] {
					continue
				}
				d, ok := m.products[did]
				if !ok {
					continue
				}
				match, err := expr.Eval(sub, m.envFor(d))
				if err != nil || match {
					return match, err
				}
			}
			return false, nil
		},
		AnySourceMatches: func(sub expr.Node) (bool, error) {
			for sid := range m.links[p.UUID()] {
				s, ok := m.products[sid]
				if !ok {
					continue
				}
				match, err := expr.Eval(sub, m.envFor(s))
				if err != nil || match {
					return match, err
				}
			}
			return false, nil
		},
		Now: m.now,
	}
}

func (m *memBackend) Search(ctx context.Context, q database.Query) ([]properties.Properties, error) {
	var root expr.Node
	if strings.TrimSpace(q.Where) != "" {
		var err error
		root, err = expr.ParseAndAnalyze(m.reg, q.Where, q.Params)
		if err != nil {
			return nil, err
		}
	}
	var out []properties.Properties
	for _, p := range m.products {
		if root != nil {
			match, err := expr.Eval(root, m.envFor(p))
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		out = append(out, p.Copy())
	}
	return out, nil
}

func (m *memBackend) Count(ctx context.Context, where string, params map[string]any) (int64, error) {
	matches, err := m.Search(ctx, database.Query{Where: where, Params: params})
	if err != nil {
		return 0, err
	}
	return int64(len(matches)), nil
}

func (m *memBackend) Summary(ctx context.Context, q database.SummaryQuery) (*database.SummaryResult, error) {
	return &database.SummaryResult{}, nil
}

func (m *memBackend) Tag(ctx context.Context, id uuid.UUID, tags []string) error {
	set := m.tags[id]
	if set == nil {
		set = map[string]bool{}
		m.tags[id] = set
	}
	for _, t := range tags {
		set[t] = true
	}
	return nil
}

func (m *memBackend) Untag(ctx context.Context, id uuid.UUID, tags []string) error {
	if tags == nil {
		delete(m.tags, id)
		return nil
	}
	for _, t := range tags {
		delete(m.tags[id], t)
	}
	return nil
}

func (m *memBackend) Tags(ctx context.Context, id uuid.UUID) ([]string, error) {
	var out []string
	for t := range m.tags[id] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memBackend) Link(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error {
	set := m.links[id]
	if set == nil {
		set = map[uuid.UUID]bool{}
		m.links[id] = set
	}
	for _, s := range sources {
		set[s] = true
	}
	return nil
}

func (m *memBackend) Unlink(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error {
	if sources == nil {
		delete(m.links, id)
		return nil
	}
	for _, s := range sources {
		delete(m.links[id], s)
	}
	return nil
}

func (m *memBackend) SourceUUIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for s := range m.links[id] {
		out = append(out, s)
	}
	return out, nil
}

func (m *memBackend) DerivedUUIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for d, sources := range m.links {
		if sources[id] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memBackend) FindProductsWithoutSource(ctx context.Context, productTypes []string, grace time.Duration, archivedOnly bool) ([]properties.Properties, error) {
	m.graceSeen = append(m.graceSeen, grace)
	return m.findOrphans(productTypes, archivedOnly, false), nil
}

func (m *memBackend) FindProductsWithoutAvailableSource(ctx context.Context, productTypes []string, grace time.Duration, archivedOnly bool) ([]properties.Properties, error) {
	m.graceSeen = append(m.graceSeen, grace)
	return m.findOrphans(productTypes, archivedOnly, true), nil
}

func (m *memBackend) findOrphans(productTypes []string, archivedOnly, availability bool) []properties.Properties {
	typeSet := map[string]bool{}
	for _, t := range productTypes {
		typeSet[t] = true
	}
	var out []properties.Properties
	for id, p := range m.products {
		if len(typeSet) > 0 && !typeSet[p.ProductType()] {
			continue
		}
		if len(m.links[id]) == 0 {
			continue
		}
		if archivedOnly {
			if _, ok := p.ArchivePath(); !ok {
				continue
			}
		}
		orphan := true
		for sid := range m.links[id] {
			s, exists := m.products[sid]
			if !exists {
				continue
			}
			if !availability {
				orphan = false
				break
			}
			if _, hasData := s.ArchivePath(); hasData {
				orphan = false
				break
			}
		}
		if orphan {
			out = append(out, p.Copy())
		}
	}
	return out
}

func (m *memBackend) ServerTime(ctx context.Context) (time.Time, error) { return m.now, nil }

// memStore keeps product data in memory, keyed by archive path and file
// name.
type memStore struct {
	entries map[string]map[string][]byte
	failPut bool
	deletes int
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]map[string][]byte{}}
}

func (s *memStore) Prepare(ctx context.Context) error        { return nil }
func (s *memStore) Exists(ctx context.Context) (bool, error) { return true, nil }
func (s *memStore) Destroy(ctx context.Context) error        { return nil }

func (s *memStore) Put(ctx context.Context, paths []string, archivePath string, props properties.Properties, opts storage.PutOptions) error {
	if s.failPut {
		return &errs.StorageError{Message: "put failed", AnythingStored: true}
	}
	entry := map[string][]byte{}
	for _, p := range paths {
		err := filepath.Walk(p, func(walked string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			data, err := os.ReadFile(walked)
			if err != nil {
				return err
			}
			entry[filepath.Base(walked)] = data
			return nil
		})
		if err != nil {
			return errs.Storage(err, "failed to read %q", p)
		}
	}
	s.entries[archivePath] = entry
	return nil
}

func (s *memStore) Get(ctx context.Context, archivePath string, props properties.Properties, targetDir string, useEnclosingDirectory bool) error {
	entry, ok := s.entries[archivePath]
	if !ok {
		return errs.Storage(nil, "no data under %q", archivePath)
	}
	for name, data := range entry {
		if err := os.WriteFile(filepath.Join(targetDir, name), data, 0o644); err != nil {
			return errs.Storage(err, "failed to write %q", name)
		}
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, archivePath string, props properties.Properties) error {
	delete(s.entries, archivePath)
	s.deletes++
	return nil
}

func (s *memStore) Move(ctx context.Context, props properties.Properties, oldPath, newPath string) error {
	entry, ok := s.entries[oldPath]
	if !ok {
		return errs.Storage(nil, "no data under %q", oldPath)
	}
	s.entries[newPath] = entry
	delete(s.entries, oldPath)
	return nil
}

func (s *memStore) Size(ctx context.Context, archivePath string, props properties.Properties) (int64, error) {
	var total int64
	for _, data := range s.entries[archivePath] {
		total += int64(len(data))
	}
	return total, nil
}

func (s *memStore) CurrentArchivePath(ctx context.Context, paths []string) (string, error) {
	return "", errs.State("backend has no notion of in-place data")
}

func (s *memStore) ProductPath(archivePath string, props properties.Properties) string {
	return archivePath + "/" + props.PhysicalName()
}

// corrupt appends a byte to every stored file of one archive entry.
func (s *memStore) corrupt(archivePath string) {
	for name := range s.entries[archivePath] {
		s.entries[archivePath][name] = append(s.entries[archivePath][name], '!')
	}
}

// fakeType is a product type recognizing *.dat files. The product name is
// the file name without extension.
type fakeType struct {
	rule       product.CascadeRule
	pathPrefix string
}

func (f *fakeType) Identify(paths []string) bool {
	return strings.HasSuffix(paths[0], ".dat")
}

func (f *fakeType) Analyze(paths []string) (properties.Properties, []string, error) {
	p := properties.New()
	p.Set("core", "product_name", strings.TrimSuffix(filepath.Base(paths[0]), ".dat"))
	return p, []string{"auto"}, nil
}

func (f *fakeType) ArchivePath(props properties.Properties) (string, error) {
	prefix := f.pathPrefix
	if prefix == "" {
		prefix = "data"
	}
	return prefix + "/" + props.ProductName(), nil
}

func (f *fakeType) UseEnclosingDirectory() bool { return false }
func (f *fakeType) Namespaces() []string        { return nil }
func (f *fakeType) HashAlgorithm() string       { return "" }
func (f *fakeType) Cascade() product.CascadeRule {
	return f.rule
}

// fakeRemote serves fake:// URLs; pullData supplies the downloaded files.
type fakeRemote struct{}

var pullData func(targetDir string) ([]string, error)

func (fakeRemote) Identify(url string) bool { return strings.HasPrefix(url, "fake://") }

func (fakeRemote) Pull(ctx context.Context, creds config.Credentials, props properties.Properties, targetDir string) ([]string, error) {
	return pullData(targetDir)
}

var registerRemoteOnce sync.Once

type testArchive struct {
	*Archive
	db    *memBackend
	store *memStore
	typ   *fakeType
}

// newTestArchive wires an archive over the in-memory backends with one fake
// product type registered as "fake". Tests needing more types register them
// on top.
func newTestArchive(t *testing.T) *testArchive {
	t.Helper()
	product.Reset()
	registerRemoteOnce.Do(func() {
		remote.Register(remote.Plugin{Name: "fake", Backend: fakeRemote{}})
	})
	typ := &fakeType{}
	product.Register("fake", typ)
	cfg := &config.Config{
		ArchiveID:        "test",
		Database:         "mem",
		Storage:          "mem",
		MaxCascadeCycles: 5,
		HashAlgorithm:    "md5",
		TempDir:          t.TempDir(),
	}
	db := newMemBackend()
	store := newMemStore()
	return &testArchive{Archive: New(cfg, db, store), db: db, store: store, typ: typ}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
