package archive

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/product"
	"github.com/muninn-archive/muninn/internal/registry/remote"
	"github.com/muninn-archive/muninn/internal/registry/storage"
	"github.com/muninn-archive/muninn/internal/tempfiles"
)

// PullOptions controls Pull.
type PullOptions struct {
	VerifyHash   bool
	DisableHooks bool
}

// Pull downloads the data of matching remote products into the archive.
// Only active products with a remote_url and no archived data qualify; the
// filter narrows within that set. Returns the number of products pulled.
func (a *Archive) Pull(ctx context.Context, where string, params map[string]any, opts PullOptions) (int, error) {
	filter := "is_defined(remote_url) and not is_defined(archive_path) and active == true"
	if where != "" {
		filter = "(" + where + ") and " + filter
	}
	matches, err := a.resolve(ctx, filter, params)
	if err != nil {
		return 0, err
	}
	for _, props := range matches {
		if err := a.pullOne(ctx, props, opts); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

func (a *Archive) pullOne(ctx context.Context, props properties.Properties, opts PullOptions) error {
	transport, err := remote.Identify(props.RemoteURL())
	if err != nil {
		return err
	}
	plugin, err := product.Select(props.ProductType())
	if err != nil {
		return err
	}
	dir, err := tempfiles.CreateDir(a.cfg.TempDir, "muninn-pull-")
	if err != nil {
		return errs.Storage(err, "failed to create work directory")
	}
	defer os.RemoveAll(dir)

	paths, err := transport.Pull(ctx, a.creds, props, dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errs.Storage(nil, "remote backend returned no data for %q", props.RemoteURL())
	}

	archivePath, err := a.archivePathFor(ctx, plugin, props, paths, false)
	if err != nil {
		return err
	}
	size, err := pathsSize(paths)
	if err != nil {
		return err
	}
	var digest string
	algorithm := a.hashAlgorithmFor(plugin.HashAlgorithm())
	if props.Hash() != "" {
		algorithm, _ = splitHash(props.Hash())
	}
	if algorithm != "none" {
		digest, err = productHash(paths, algorithm)
		if err != nil {
			return err
		}
		if props.Hash() != "" && digest != props.Hash() {
			return errs.Storage(nil, "hash mismatch for pulled product %s", props.UUID())
		}
	}

	if err := a.store.Put(ctx, paths, archivePath, props, storage.PutOptions{
		UseEnclosingDirectory: plugin.UseEnclosingDirectory(),
	}); err != nil {
		return err
	}

	now, err := a.serverNow(ctx)
	if err != nil {
		return err
	}
	update := properties.New()
	update.Set("core", "archive_path", archivePath)
	update.Set("core", "archive_date", now)
	update.Set("core", "metadata_date", now)
	update.Set("core", "size", size)
	if digest != "" && props.Hash() == "" {
		update.Set("core", "hash", digest)
	}
	if err := a.db.UpdateProduct(ctx, props.UUID(), update, false); err != nil {
		return err
	}
	props.MergeFrom(update)

	if opts.VerifyHash {
		if err := a.verifyStored(ctx, props, plugin.UseEnclosingDirectory()); err != nil {
			return err
		}
	}
	if !opts.DisableHooks {
		a.runHooks(ctx, props, hookPostPull)
	}
	log.Info("product pulled", "uuid", props.UUID(), "url", props.RemoteURL())
	return nil
}

// Strip removes the archived data of matching products while keeping their
// catalogue entries, then lets the cascade settle. Returns the number of
// products stripped.
func (a *Archive) Strip(ctx context.Context, where string, params map[string]any, force, disableCascade bool) (int, error) {
	matches, err := a.resolve(ctx, where, params)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, props := range matches {
		if _, ok := props.ArchivePath(); !ok {
			continue
		}
		if !props.Active() && !force {
			return count, errs.State("product %s is not active", props.UUID())
		}
		if err := a.stripOne(ctx, props); err != nil {
			return count, err
		}
		count++
	}
	if !disableCascade {
		if err := a.Cascade(ctx); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (a *Archive) stripOne(ctx context.Context, props properties.Properties) error {
	archivePath, _ := props.ArchivePath()
	if err := a.store.Delete(ctx, archivePath, props); err != nil {
		return err
	}
	now, err := a.serverNow(ctx)
	if err != nil {
		return err
	}
	update := properties.New()
	update.Set("core", "archive_path", nil)
	update.Set("core", "archive_date", nil)
	update.Set("core", "metadata_date", now)
	if err := a.db.UpdateProduct(ctx, props.UUID(), update, false); err != nil {
		return err
	}
	log.Info("product stripped", "uuid", props.UUID())
	return nil
}

// Retrieve copies the data of matching products into targetDir and returns
// the local product paths.
func (a *Archive) Retrieve(ctx context.Context, where string, params map[string]any, targetDir string) ([]string, error) {
	matches, err := a.resolve(ctx, where, params)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, props := range matches {
		p, err := a.retrieveOne(ctx, props, targetDir)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *Archive) retrieveOne(ctx context.Context, props properties.Properties, targetDir string) (string, error) {
	archivePath, ok := props.ArchivePath()
	if !ok {
		return "", errs.State("product %s has no archived data", props.UUID())
	}
	plugin, err := product.Select(props.ProductType())
	if err != nil {
		return "", err
	}
	target := targetDir
	if plugin.UseEnclosingDirectory() {
		target = filepath.Join(targetDir, props.PhysicalName())
		if err := os.MkdirAll(target, 0o755); err != nil {
			return "", errs.Storage(err, "failed to create %q", target)
		}
	}
	if err := a.store.Get(ctx, archivePath, props, target, plugin.UseEnclosingDirectory()); err != nil {
		return "", err
	}
	if plugin.UseEnclosingDirectory() {
		return target, nil
	}
	return filepath.Join(targetDir, props.PhysicalName()), nil
}

// Export writes matching products into targetDir, converted to the given
// format by their product type plug-in. An empty format is a plain
// retrieve.
func (a *Archive) Export(ctx context.Context, where string, params map[string]any, format, targetDir string) ([]string, error) {
	if format == "" {
		return a.Retrieve(ctx, where, params, targetDir)
	}
	matches, err := a.resolve(ctx, where, params)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, props := range matches {
		plugin, err := product.Select(props.ProductType())
		if err != nil {
			return nil, err
		}
		exporter, ok := plugin.(product.Exporter)
		if !ok || !hasFormat(exporter, format) {
			return nil, errs.State("product type %q cannot export format %q", props.ProductType(), format)
		}
		paths, cleanup, err := a.retrieveToTemp(ctx, props, plugin.UseEnclosingDirectory())
		if err != nil {
			return nil, err
		}
		var exported string
		err = callPlugin(func() error {
			var err error
			exported, err = exporter.Export(ctx, format, props, paths, targetDir)
			return err
		})
		cleanup()
		if err != nil {
			return nil, errs.Plugin(err, "product type %q failed to export %s", props.ProductType(), props.UUID())
		}
		out = append(out, exported)
	}
	return out, nil
}

func hasFormat(exporter product.Exporter, format string) bool {
	for _, f := range exporter.ExportFormats() {
		if f == format {
			return true
		}
	}
	return false
}

// RebuildProperties re-runs metadata extraction on a product's stored data
// and updates the catalogue, relocating the data when the computed archive
// path changed.
func (a *Archive) RebuildProperties(ctx context.Context, id uuid.UUID, disableHooks bool) (properties.Properties, error) {
	props, err := a.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	plugin, err := product.Select(props.ProductType())
	if err != nil {
		return nil, err
	}
	paths, cleanup, err := a.retrieveToTemp(ctx, props, plugin.UseEnclosingDirectory())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	rebuilt, tags, err := a.analyze(plugin, props.ProductType(), paths)
	if err != nil {
		return nil, err
	}
	update := rebuilt.Copy()
	core := update.Namespace("core")
	// Identity and life-cycle fields stay under catalogue control.
	delete(core, "uuid")
	delete(core, "active")
	delete(core, "archive_path")
	delete(core, "archive_date")
	now, err := a.serverNow(ctx)
	if err != nil {
		return nil, err
	}
	core["metadata_date"] = now
	if err := update.Validate(a.db.Schema(), true); err != nil {
		return nil, err
	}
	if err := a.db.UpdateProduct(ctx, id, update, true); err != nil {
		return nil, err
	}
	props.MergeFrom(update)
	if err := a.db.Tag(ctx, id, tags); err != nil {
		return nil, err
	}

	oldPath, hasData := props.ArchivePath()
	if hasData {
		newPath, err := a.archivePathFor(ctx, plugin, props, paths, false)
		if err != nil {
			return nil, err
		}
		if newPath != oldPath {
			if err := a.store.Move(ctx, props, oldPath, newPath); err != nil {
				return nil, err
			}
			move := properties.New()
			move.Set("core", "archive_path", newPath)
			if err := a.db.UpdateProduct(ctx, id, move, false); err != nil {
				return nil, err
			}
			props.MergeFrom(move)
		}
	}
	return props, nil
}

// VerifyHash re-reads the data of matching products and checks their stored
// digests, returning the UUIDs that failed verification. Products without a
// hash or without data are skipped.
func (a *Archive) VerifyHash(ctx context.Context, where string, params map[string]any) ([]uuid.UUID, error) {
	matches, err := a.resolve(ctx, where, params)
	if err != nil {
		return nil, err
	}
	var failed []uuid.UUID
	for _, props := range matches {
		if props.Hash() == "" {
			continue
		}
		if _, ok := props.ArchivePath(); !ok {
			continue
		}
		plugin, err := product.Select(props.ProductType())
		if err != nil {
			return nil, err
		}
		if err := a.verifyStored(ctx, props, plugin.UseEnclosingDirectory()); err != nil {
			log.Warn("hash verification failed", "uuid", props.UUID(), "error", err)
			failed = append(failed, props.UUID())
		}
	}
	return failed, nil
}
