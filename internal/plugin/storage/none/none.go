// Package none is the catalogue-only storage backend. Products keep their
// metadata but the archive never holds their data.
package none

import (
	"context"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/storage"
)

func init() {
	storage.Register(storage.Plugin{Name: "none", Loader: load})
}

func load(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	return backend{}, nil
}

type backend struct{}

func (backend) Prepare(ctx context.Context) error         { return nil }
func (backend) Exists(ctx context.Context) (bool, error)  { return true, nil }
func (backend) Destroy(ctx context.Context) error         { return nil }

func (backend) Put(ctx context.Context, paths []string, archivePath string, props properties.Properties, opts storage.PutOptions) error {
	return errs.State("storage backend \"none\" cannot store product data")
}

func (backend) Get(ctx context.Context, archivePath string, props properties.Properties, targetDir string, useEnclosingDirectory bool) error {
	return errs.State("storage backend \"none\" holds no product data")
}

func (backend) Delete(ctx context.Context, archivePath string, props properties.Properties) error {
	return nil
}

func (backend) Move(ctx context.Context, props properties.Properties, oldPath, newPath string) error {
	return errs.State("storage backend \"none\" holds no product data")
}

func (backend) Size(ctx context.Context, archivePath string, props properties.Properties) (int64, error) {
	return 0, errs.State("storage backend \"none\" holds no product data")
}

func (backend) CurrentArchivePath(ctx context.Context, paths []string) (string, error) {
	return "", errs.State("storage backend \"none\" cannot ingest in place")
}

func (backend) ProductPath(archivePath string, props properties.Properties) string {
	return ""
}
