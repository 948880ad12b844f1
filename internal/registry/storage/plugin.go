// Package storage defines the product data storage contract and the named
// plug-in registry storage implementations register with.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
)

// PutOptions controls how product data enters the archive.
type PutOptions struct {
	// UseEnclosingDirectory stores the files inside a directory named after
	// the product instead of as a single entry.
	UseEnclosingDirectory bool
	// UseSymlinks links to the source paths instead of copying.
	UseSymlinks bool
	// InPlace keeps the data where it is; only valid when the source paths
	// already sit inside the archive root (filesystem backend).
	InPlace bool
}

// Backend stores and retrieves product data under relative archive paths.
// The catalogue's archive_path plus physical_name identifies the product
// entry inside the backend.
type Backend interface {
	// Prepare sets up the storage (root directory, bucket, container);
	// Exists reports whether it is present; Destroy removes it with all
	// content.
	Prepare(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
	Destroy(ctx context.Context) error

	// Put copies the source paths into archivePath atomically with respect
	// to readers: partial content is never visible under the final path.
	Put(ctx context.Context, paths []string, archivePath string, props properties.Properties, opts PutOptions) error
	// Get copies the product data into targetDir.
	Get(ctx context.Context, archivePath string, props properties.Properties, targetDir string, useEnclosingDirectory bool) error
	// Delete removes the product data. Missing data is not an error.
	Delete(ctx context.Context, archivePath string, props properties.Properties) error
	// Move relocates product data to a new archive path.
	Move(ctx context.Context, props properties.Properties, oldPath, newPath string) error
	// Size returns the total byte size of the stored product data.
	Size(ctx context.Context, archivePath string, props properties.Properties) (int64, error)

	// CurrentArchivePath translates source paths already inside the
	// storage into their archive path, for in-place ingest. Backends
	// without that notion return a StateError.
	CurrentArchivePath(ctx context.Context, paths []string) (string, error)

	// ProductPath renders the backend-specific display path of a product.
	ProductPath(archivePath string, props properties.Properties) string
}

// Plugin is a named backend constructor.
type Plugin struct {
	Name   string
	Loader func(ctx context.Context, cfg *config.Config) (Backend, error)
}

var (
	mu      sync.RWMutex
	plugins = map[string]Plugin{}
)

// Register adds a plugin; duplicate names panic.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := plugins[p.Name]; dup {
		panic("storage plugin registered twice: " + p.Name)
	}
	plugins[p.Name] = p
}

// Select resolves a plugin by name.
func Select(name string) (Plugin, error) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := plugins[name]
	if !ok {
		return Plugin{}, errs.Config("unknown storage backend %q (have %v)", name, names())
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
