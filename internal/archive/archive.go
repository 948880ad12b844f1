// Package archive implements the product archive: a catalogue database, a
// storage backend, and the product life-cycle operations on top of them.
package archive

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/database"
	"github.com/muninn-archive/muninn/internal/registry/product"
	"github.com/muninn-archive/muninn/internal/registry/remote"
	"github.com/muninn-archive/muninn/internal/registry/storage"
	"github.com/muninn-archive/muninn/internal/schema"
)

// Archive combines a catalogue backend and a storage backend under one
// configuration.
type Archive struct {
	cfg   *config.Config
	db    database.Backend
	store storage.Backend
	creds config.Credentials
}

// Open resolves the configured backends and loads them. A nil registry
// starts from the core namespace only; embedders register their extension
// namespaces before opening.
func Open(ctx context.Context, cfg *config.Config, reg *schema.Registry) (*Archive, error) {
	if reg == nil {
		reg = schema.NewRegistry()
	}
	for _, ext := range cfg.NamespaceExtensions {
		if !reg.Has(ext) {
			return nil, errs.Config("namespace extension %q is not registered", ext)
		}
	}
	for _, ext := range cfg.ProductTypeExtensions {
		if _, err := product.Select(ext); err != nil {
			return nil, errs.Config("product type extension %q is not registered", ext)
		}
	}
	for _, ext := range cfg.HookExtensions {
		if !slices.Contains(product.HookNames(), ext) {
			return nil, errs.Config("hook extension %q is not registered", ext)
		}
	}
	for _, ext := range cfg.RemoteBackendExtensions {
		if !slices.Contains(remote.Names(), ext) {
			return nil, errs.Config("remote backend extension %q is not registered", ext)
		}
	}

	dbPlugin, err := database.Select(cfg.Database)
	if err != nil {
		return nil, err
	}
	db, err := dbPlugin.Loader(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}
	storePlugin, err := storage.Select(cfg.Storage)
	if err != nil {
		db.Close()
		return nil, err
	}
	store, err := storePlugin.Loader(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &Archive{cfg: cfg, db: db, store: store}
	if cfg.AuthFile != "" {
		creds, err := config.LoadCredentials(cfg.AuthFile)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.creds = creds
	}
	return a, nil
}

// New wires an archive from already constructed backends. Test and embedder
// support.
func New(cfg *config.Config, db database.Backend, store storage.Backend) *Archive {
	return &Archive{cfg: cfg, db: db, store: store}
}

func (a *Archive) Close() error { return a.db.Close() }

// ID returns the archive identifier.
func (a *Archive) ID() string { return a.cfg.ArchiveID }

// DatabaseName and StorageName return the configured backend names.
func (a *Archive) DatabaseName() string { return a.cfg.Database }
func (a *Archive) StorageName() string  { return a.cfg.Storage }

// Schema returns the namespace registry in use.
func (a *Archive) Schema() *schema.Registry { return a.db.Schema() }

// Prepare creates the catalogue tables and the storage. With force an
// existing catalogue is destroyed first.
func (a *Archive) Prepare(ctx context.Context, force bool) error {
	exists, err := a.db.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if !force {
			return errs.State("archive %q already exists", a.cfg.ArchiveID)
		}
		if err := a.Destroy(ctx); err != nil {
			return err
		}
	}
	if err := a.db.Prepare(ctx); err != nil {
		return err
	}
	if err := a.store.Prepare(ctx); err != nil {
		return err
	}
	log.Info("archive prepared", "archive", a.cfg.ArchiveID)
	return nil
}

// Destroy removes the catalogue and all stored product data.
func (a *Archive) Destroy(ctx context.Context) error {
	if exists, err := a.db.Exists(ctx); err != nil {
		return err
	} else if exists {
		if err := a.db.Destroy(ctx); err != nil {
			return err
		}
	}
	if err := a.store.Destroy(ctx); err != nil {
		return err
	}
	log.Info("archive destroyed", "archive", a.cfg.ArchiveID)
	return nil
}

// Search runs a catalogue query.
func (a *Archive) Search(ctx context.Context, q database.Query) ([]properties.Properties, error) {
	return a.db.Search(ctx, q)
}

// Count returns the number of products matching the filter.
func (a *Archive) Count(ctx context.Context, where string, params map[string]any) (int64, error) {
	return a.db.Count(ctx, where, params)
}

// Summary computes aggregated statistics over matching products.
func (a *Archive) Summary(ctx context.Context, q database.SummaryQuery) (*database.SummaryResult, error) {
	return a.db.Summary(ctx, q)
}

// Product fetches one product by UUID, including every namespace the
// product has records in.
func (a *Archive) Product(ctx context.Context, id uuid.UUID) (properties.Properties, error) {
	matches, err := a.db.Search(ctx, database.Query{
		Where:      "uuid == @id",
		Params:     map[string]any{"id": id},
		Namespaces: a.extensionNamespaces(),
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errs.NotFound("product %s not found", id)
	}
	return matches[0], nil
}

// ProductByName fetches one product by its unique (type, name) pair.
func (a *Archive) ProductByName(ctx context.Context, productType, productName string) (properties.Properties, error) {
	matches, err := a.db.Search(ctx, database.Query{
		Where: "product_type == @type and product_name == @name",
		Params: map[string]any{
			"type": productType,
			"name": productName,
		},
		Namespaces: a.extensionNamespaces(),
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errs.NotFound("product %s/%s not found", productType, productName)
	}
	return matches[0], nil
}

func (a *Archive) extensionNamespaces() []string {
	var out []string
	for _, name := range a.db.Schema().Names() {
		if name != "core" {
			out = append(out, name)
		}
	}
	return out
}

// resolve runs a filter and returns the matching products, core namespace
// only.
func (a *Archive) resolve(ctx context.Context, where string, params map[string]any) ([]properties.Properties, error) {
	return a.db.Search(ctx, database.Query{Where: where, Params: params})
}

// CreateProperties creates a catalogue-only product from caller supplied
// properties. The core namespace must carry product_type, product_name, and
// physical_name; uuid and metadata_date are filled in when absent.
func (a *Archive) CreateProperties(ctx context.Context, props properties.Properties, disableHooks bool) (properties.Properties, error) {
	props = props.Copy()
	core := props.Namespace("core")
	if _, ok := core["uuid"]; !ok {
		core["uuid"] = uuid.New()
	}
	if _, ok := core["active"]; !ok {
		core["active"] = true
	}
	if _, ok := core["metadata_date"]; !ok {
		now, err := a.db.ServerTime(ctx)
		if err != nil {
			return nil, err
		}
		core["metadata_date"] = now
	}
	if err := props.Validate(a.db.Schema(), false); err != nil {
		return nil, err
	}
	if err := a.db.InsertProduct(ctx, props); err != nil {
		return nil, err
	}
	if !disableHooks {
		a.runHooks(ctx, props, hookPostCreate)
	}
	return props, nil
}

// DeleteProperties removes catalogue entries without touching stored data
// and without running the cascade.
func (a *Archive) DeleteProperties(ctx context.Context, where string, params map[string]any) (int, error) {
	matches, err := a.resolve(ctx, where, params)
	if err != nil {
		return 0, err
	}
	for _, props := range matches {
		if err := a.db.DeleteProduct(ctx, props.UUID()); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

// UpdateProperties applies a partial property update to one product. A nil
// namespace map removes that namespace's record. metadata_date is bumped to
// server time unless the update sets it.
func (a *Archive) UpdateProperties(ctx context.Context, id uuid.UUID, update properties.Properties, createNamespaces bool) error {
	if err := update.Validate(a.db.Schema(), true); err != nil {
		return err
	}
	update = update.Copy()
	core := update.Namespace("core")
	if _, fixed := core["uuid"]; fixed {
		return errs.State("cannot change the uuid of a product")
	}
	if _, ok := core["metadata_date"]; !ok {
		now, err := a.db.ServerTime(ctx)
		if err != nil {
			return err
		}
		core["metadata_date"] = now
	}
	return a.db.UpdateProduct(ctx, id, update, createNamespaces)
}

// Tag attaches tags to a product; idempotent.
func (a *Archive) Tag(ctx context.Context, id uuid.UUID, tags []string) error {
	return a.db.Tag(ctx, id, tags)
}

// Untag removes the given tags, or all tags when nil.
func (a *Archive) Untag(ctx context.Context, id uuid.UUID, tags []string) error {
	return a.db.Untag(ctx, id, tags)
}

// Tags lists a product's tags sorted.
func (a *Archive) Tags(ctx context.Context, id uuid.UUID) ([]string, error) {
	return a.db.Tags(ctx, id)
}

// Link records source products of a product; idempotent.
func (a *Archive) Link(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error {
	return a.db.Link(ctx, id, sources)
}

// Unlink removes the given source links, or all when nil.
func (a *Archive) Unlink(ctx context.Context, id uuid.UUID, sources []uuid.UUID) error {
	return a.db.Unlink(ctx, id, sources)
}

// SourceProducts returns the products this product was derived from.
func (a *Archive) SourceProducts(ctx context.Context, id uuid.UUID) ([]properties.Properties, error) {
	return a.resolve(ctx, "is_source_of(@id)", map[string]any{"id": id})
}

// DerivedProducts returns the products derived from this product.
func (a *Archive) DerivedProducts(ctx context.Context, id uuid.UUID) ([]properties.Properties, error) {
	return a.resolve(ctx, "is_derived_from(@id)", map[string]any{"id": id})
}

// ProductPath returns the storage-specific location of a product's data, or
// "" for catalogue-only products.
func (a *Archive) ProductPath(props properties.Properties) string {
	archivePath, ok := props.ArchivePath()
	if !ok {
		return ""
	}
	return a.store.ProductPath(archivePath, props)
}

// Info summarizes the archive for display.
type Info struct {
	ArchiveID      string
	Database       string
	Storage        string
	Namespaces     []string
	ProductTypes   []string
	RemoteBackends []string
	ExportFormats  []string
}

// Summary-level description of the archive and its registered plug-ins.
func (a *Archive) Info() Info {
	formats := map[string]bool{}
	for _, name := range product.Names() {
		t, err := product.Select(name)
		if err != nil {
			continue
		}
		if exp, ok := t.(product.Exporter); ok {
			for _, f := range exp.ExportFormats() {
				formats[f] = true
			}
		}
	}
	var formatList []string
	for f := range formats {
		formatList = append(formatList, f)
	}
	sort.Strings(formatList)
	return Info{
		ArchiveID:      a.cfg.ArchiveID,
		Database:       a.cfg.Database,
		Storage:        a.cfg.Storage,
		Namespaces:     a.db.Schema().Names(),
		ProductTypes:   product.Names(),
		RemoteBackends: remote.Names(),
		ExportFormats:  formatList,
	}
}

type hookKind int

const (
	hookPostCreate hookKind = iota
	hookPostIngest
	hookPostPull
	hookPostRemove
)

// runHooks runs one life-cycle hook across the registered extensions. Hook
// failures are logged, never fatal; post-remove hooks run in reverse
// registration order.
func (a *Archive) runHooks(ctx context.Context, props properties.Properties, kind hookKind) {
	hooks := product.AllHooks()
	if kind == hookPostRemove {
		for i, j := 0, len(hooks)-1; i < j; i, j = i+1, j-1 {
			hooks[i], hooks[j] = hooks[j], hooks[i]
		}
	}
	for _, h := range hooks {
		err := callPlugin(func() error {
			switch kind {
			case hookPostCreate:
				return h.PostCreate(ctx, props)
			case hookPostIngest:
				return h.PostIngest(ctx, props)
			case hookPostPull:
				return h.PostPull(ctx, props)
			default:
				return h.PostRemove(ctx, props)
			}
		})
		if err != nil {
			log.Error("hook failed", "product", props.UUID(), "error", err)
		}
	}
}

// callPlugin converts a panic escaping plug-in code into a PluginError.
func callPlugin(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Plugin(nil, "plugin panicked: %v", r)
		}
	}()
	return f()
}

// serverNow reads the catalogue clock; backends report UTC.
func (a *Archive) serverNow(ctx context.Context) (time.Time, error) {
	now, err := a.db.ServerTime(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", err)
	}
	return now, nil
}
