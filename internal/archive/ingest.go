package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/product"
	"github.com/muninn-archive/muninn/internal/registry/storage"
	"github.com/muninn-archive/muninn/internal/tempfiles"
)

// IngestOptions controls Ingest.
type IngestOptions struct {
	// ProductType skips identification and forces the named product type.
	ProductType string
	// ExtraProperties overrides properties extracted by the plug-in.
	ExtraProperties properties.Properties
	// CatalogueOnly creates the catalogue entry without storing data.
	CatalogueOnly bool
	// UseSymlinks stores links to the source paths instead of copies.
	UseSymlinks bool
	// InPlace keeps data where it is; the paths must already sit inside the
	// storage.
	InPlace bool
	// VerifyHash re-reads the stored data and compares digests after the put.
	VerifyHash bool
	// Force replaces an existing product with the same type and name.
	Force bool
	// DisableHooks skips the post-ingest extension hooks.
	DisableHooks bool
	// Tags to attach after ingest, in addition to plug-in supplied tags.
	Tags []string
}

// Ingest brings a product into the archive: identify, analyze, catalogue,
// store, activate. The catalogue entry stays inactive until the data is
// safely in storage.
func (a *Archive) Ingest(ctx context.Context, paths []string, opts IngestOptions) (properties.Properties, error) {
	if len(paths) == 0 {
		return nil, errs.State("nothing to ingest")
	}
	typeName, plugin, err := a.selectType(paths, opts.ProductType)
	if err != nil {
		return nil, err
	}
	props, tags, err := a.analyze(plugin, typeName, paths)
	if err != nil {
		return nil, err
	}
	if opts.ExtraProperties != nil {
		props.MergeFrom(opts.ExtraProperties)
	}
	tags = append(tags, opts.Tags...)

	core := props.Namespace("core")
	if _, ok := core["uuid"]; !ok {
		core["uuid"] = uuid.New()
	}
	now, err := a.serverNow(ctx)
	if err != nil {
		return nil, err
	}
	core["metadata_date"] = now
	core["active"] = false

	if !opts.CatalogueOnly {
		size, err := pathsSize(paths)
		if err != nil {
			return nil, err
		}
		core["size"] = size
		if _, ok := props.ArchivePath(); !ok {
			archivePath, err := a.archivePathFor(ctx, plugin, props, paths, opts.InPlace)
			if err != nil {
				return nil, err
			}
			core["archive_path"] = archivePath
		}
	}

	if err := props.Validate(a.db.Schema(), false); err != nil {
		return nil, err
	}
	if opts.Force {
		if err := a.replaceExisting(ctx, props, opts.InPlace); err != nil {
			return nil, err
		}
	}
	if err := a.db.InsertProduct(ctx, props); err != nil {
		return nil, err
	}

	if opts.CatalogueOnly {
		if err := a.activate(ctx, props, nil, false); err != nil {
			return nil, err
		}
		if err := a.db.Tag(ctx, props.UUID(), tags); err != nil {
			return nil, err
		}
		if !opts.DisableHooks {
			a.runHooks(ctx, props, hookPostCreate)
		}
		return props, nil
	}

	algorithm := a.hashAlgorithmFor(plugin.HashAlgorithm())
	if algorithm != "none" {
		digest, err := productHash(paths, algorithm)
		if err != nil {
			a.abortIngest(ctx, props, false)
			return nil, err
		}
		core["hash"] = digest
	}

	archivePath, _ := props.ArchivePath()
	putErr := a.store.Put(ctx, paths, archivePath, props, storage.PutOptions{
		UseEnclosingDirectory: plugin.UseEnclosingDirectory(),
		UseSymlinks:           opts.UseSymlinks,
		InPlace:               opts.InPlace,
	})
	if putErr != nil {
		var serr *errs.StorageError
		stored := errors.As(putErr, &serr) && serr.AnythingStored
		a.abortIngest(ctx, props, stored)
		return nil, putErr
	}

	if opts.VerifyHash && algorithm != "none" {
		if err := a.verifyStored(ctx, props, plugin.UseEnclosingDirectory()); err != nil {
			a.abortIngest(ctx, props, true)
			return nil, err
		}
	}

	if err := a.activate(ctx, props, &now, true); err != nil {
		return nil, err
	}
	if err := a.db.Tag(ctx, props.UUID(), tags); err != nil {
		return nil, err
	}
	if !opts.DisableHooks {
		a.runHooks(ctx, props, hookPostIngest)
	}
	log.Info("product ingested", "type", typeName, "name", props.ProductName(), "uuid", props.UUID())
	return props, nil
}

// AttachOptions controls Attach.
type AttachOptions struct {
	ProductType string
	UseSymlinks bool
	InPlace     bool
	// VerifyHashBefore compares the local data against the catalogue hash
	// before storing anything.
	VerifyHashBefore bool
	VerifyHash       bool
	Force            bool
}

// Attach stores data for a product that already has a catalogue entry,
// matching it by product type and name.
func (a *Archive) Attach(ctx context.Context, paths []string, opts AttachOptions) (properties.Properties, error) {
	if len(paths) == 0 {
		return nil, errs.State("nothing to attach")
	}
	typeName, plugin, err := a.selectType(paths, opts.ProductType)
	if err != nil {
		return nil, err
	}
	analyzed, _, err := a.analyze(plugin, typeName, paths)
	if err != nil {
		return nil, err
	}
	props, err := a.ProductByName(ctx, typeName, analyzed.ProductName())
	if err != nil {
		return nil, err
	}
	if _, hasData := props.ArchivePath(); hasData && !opts.Force {
		return nil, errs.State("product %s already has archived data", props.UUID())
	}

	if opts.VerifyHashBefore && props.Hash() != "" {
		algorithm, _ := splitHash(props.Hash())
		digest, err := productHash(paths, algorithm)
		if err != nil {
			return nil, err
		}
		if digest != props.Hash() {
			return nil, errs.Storage(nil, "hash mismatch for product %s", props.UUID())
		}
	}

	archivePath, err := a.archivePathFor(ctx, plugin, props, paths, opts.InPlace)
	if err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, paths, archivePath, props, storage.PutOptions{
		UseEnclosingDirectory: plugin.UseEnclosingDirectory(),
		UseSymlinks:           opts.UseSymlinks,
		InPlace:               opts.InPlace,
	}); err != nil {
		return nil, err
	}

	size, err := pathsSize(paths)
	if err != nil {
		return nil, err
	}
	now, err := a.serverNow(ctx)
	if err != nil {
		return nil, err
	}
	update := properties.New()
	update.Set("core", "archive_path", archivePath)
	update.Set("core", "archive_date", now)
	update.Set("core", "size", size)
	update.Set("core", "metadata_date", now)
	if props.Hash() == "" {
		algorithm := a.hashAlgorithmFor(plugin.HashAlgorithm())
		if algorithm != "none" {
			digest, err := productHash(paths, algorithm)
			if err != nil {
				return nil, err
			}
			update.Set("core", "hash", digest)
		}
	}
	if err := a.db.UpdateProduct(ctx, props.UUID(), update, false); err != nil {
		return nil, err
	}
	props.MergeFrom(update)

	if opts.VerifyHash && props.Hash() != "" {
		if err := a.verifyStored(ctx, props, plugin.UseEnclosingDirectory()); err != nil {
			return nil, err
		}
	}
	log.Info("data attached", "type", typeName, "name", props.ProductName(), "uuid", props.UUID())
	return props, nil
}

func (a *Archive) selectType(paths []string, forced string) (string, product.Type, error) {
	if forced != "" {
		t, err := product.Select(forced)
		return forced, t, err
	}
	return product.Identify(paths)
}

// analyze runs the plug-in's metadata extraction and checks the mandatory
// core fields came back.
func (a *Archive) analyze(plugin product.Type, typeName string, paths []string) (properties.Properties, []string, error) {
	var props properties.Properties
	var tags []string
	err := callPlugin(func() error {
		var err error
		props, tags, err = plugin.Analyze(paths)
		return err
	})
	if err != nil {
		return nil, nil, errs.Plugin(err, "product type %q failed to analyze", typeName)
	}
	if props == nil {
		return nil, nil, errs.Plugin(nil, "product type %q returned no properties", typeName)
	}
	props = props.Copy()
	core := props.Namespace("core")
	core["product_type"] = typeName
	if props.ProductName() == "" {
		return nil, nil, errs.Plugin(nil, "product type %q returned no product_name", typeName)
	}
	if props.PhysicalName() == "" {
		core["physical_name"] = filepath.Base(paths[0])
	}
	return props, tags, nil
}

// archivePathFor asks the plug-in for the storage path, or the storage
// backend itself for in-place ingest.
func (a *Archive) archivePathFor(ctx context.Context, plugin product.Type, props properties.Properties, paths []string, inPlace bool) (string, error) {
	if inPlace {
		return a.store.CurrentArchivePath(ctx, paths)
	}
	var archivePath string
	err := callPlugin(func() error {
		var err error
		archivePath, err = plugin.ArchivePath(props)
		return err
	})
	if err != nil {
		return "", errs.Plugin(err, "product type %q failed to compute an archive path", props.ProductType())
	}
	return archivePath, nil
}

// replaceExisting clears the way for a forced ingest. An existing product
// occupying the same storage entry as an in-place ingest loses only its
// catalogue record; everything else is removed outright.
func (a *Archive) replaceExisting(ctx context.Context, props properties.Properties, inPlace bool) error {
	existing, err := a.ProductByName(ctx, props.ProductType(), props.ProductName())
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	oldPath, oldHasData := existing.ArchivePath()
	newPath, _ := props.ArchivePath()
	if inPlace && oldHasData {
		if oldPath != newPath || existing.PhysicalName() != props.PhysicalName() {
			return errs.State("product %s occupies a different storage entry", existing.UUID())
		}
		// The data under the entry is the data being ingested; only the
		// catalogue record goes.
		return a.db.DeleteProduct(ctx, existing.UUID())
	}
	if err := a.removeProduct(ctx, existing, true, false); err != nil {
		return err
	}
	return a.Cascade(ctx)
}

// activate flips a product live. Data-bearing products also record the
// archive date and the hash computed during ingest.
func (a *Archive) activate(ctx context.Context, props properties.Properties, archiveDate *time.Time, withData bool) error {
	update := properties.New()
	update.Set("core", "active", true)
	if withData && archiveDate != nil {
		update.Set("core", "archive_date", *archiveDate)
		if h := props.Hash(); h != "" {
			update.Set("core", "hash", h)
		}
	}
	if err := a.db.UpdateProduct(ctx, props.UUID(), update, false); err != nil {
		return err
	}
	props.MergeFrom(update)
	return nil
}

// abortIngest undoes a failed ingest: the inactive catalogue record goes,
// and any partially stored data with it.
func (a *Archive) abortIngest(ctx context.Context, props properties.Properties, anythingStored bool) {
	if anythingStored {
		if archivePath, ok := props.ArchivePath(); ok {
			if err := a.store.Delete(ctx, archivePath, props); err != nil {
				log.Error("failed to clean up after aborted ingest", "uuid", props.UUID(), "error", err)
			}
		}
	}
	if err := a.db.DeleteProduct(ctx, props.UUID()); err != nil {
		log.Error("failed to remove catalogue entry after aborted ingest", "uuid", props.UUID(), "error", err)
	}
}

// verifyStored re-reads the stored product data and compares its digest
// against the catalogue hash.
func (a *Archive) verifyStored(ctx context.Context, props properties.Properties, useEnclosingDirectory bool) error {
	stored := props.Hash()
	if stored == "" {
		return nil
	}
	algorithm, _ := splitHash(stored)
	paths, cleanup, err := a.retrieveToTemp(ctx, props, useEnclosingDirectory)
	if err != nil {
		return err
	}
	defer cleanup()
	digest, err := productHash(paths, algorithm)
	if err != nil {
		return err
	}
	if digest != stored {
		return errs.Storage(nil, "hash mismatch for product %s: stored %q, computed %q", props.UUID(), stored, digest)
	}
	return nil
}

// retrieveToTemp fetches the product data into a fresh work directory and
// returns the local paths plus a cleanup function.
func (a *Archive) retrieveToTemp(ctx context.Context, props properties.Properties, useEnclosingDirectory bool) ([]string, func(), error) {
	archivePath, ok := props.ArchivePath()
	if !ok {
		return nil, nil, errs.State("product %s has no archived data", props.UUID())
	}
	dir, err := tempfiles.CreateDir(a.cfg.TempDir, "muninn-")
	if err != nil {
		return nil, nil, errs.Storage(err, "failed to create work directory")
	}
	cleanup := func() { os.RemoveAll(dir) }

	target := dir
	if useEnclosingDirectory {
		target = filepath.Join(dir, props.PhysicalName())
		if err := os.MkdirAll(target, 0o755); err != nil {
			cleanup()
			return nil, nil, errs.Storage(err, "failed to create work directory")
		}
	}
	if err := a.store.Get(ctx, archivePath, props, target, useEnclosingDirectory); err != nil {
		cleanup()
		return nil, nil, err
	}
	if useEnclosingDirectory {
		return []string{target}, cleanup, nil
	}
	return []string{filepath.Join(dir, props.PhysicalName())}, cleanup, nil
}

// pathsSize sums the sizes of the regular files under the source paths.
func pathsSize(paths []string) (int64, error) {
	var total int64
	for _, p := range paths {
		err := filepath.Walk(p, func(walked string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return 0, errs.Storage(err, "failed to measure product data")
		}
	}
	return total, nil
}
