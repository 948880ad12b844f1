package archive

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
)

// RemoveOptions controls Remove.
type RemoveOptions struct {
	// Force also removes inactive products.
	Force bool
	// CatalogueOnly leaves stored data in place.
	CatalogueOnly bool
	// DisableCascade skips the cascade pass after removal.
	DisableCascade bool
	// DisableHooks skips the post-remove extension hooks.
	DisableHooks bool
}

// Remove deletes matching products, data and catalogue entry both, then
// lets the cascade settle. Returns the number of products removed.
func (a *Archive) Remove(ctx context.Context, where string, params map[string]any, opts RemoveOptions) (int, error) {
	matches, err := a.resolve(ctx, where, params)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, props := range matches {
		if !props.Active() && !opts.Force {
			return count, errs.State("product %s is not active", props.UUID())
		}
		if err := a.removeProduct(ctx, props, !opts.CatalogueOnly, opts.DisableHooks); err != nil {
			return count, err
		}
		count++
	}
	if !opts.DisableCascade {
		if err := a.Cascade(ctx); err != nil {
			return count, err
		}
	}
	return count, nil
}

// removeProduct deletes one product without running the cascade.
func (a *Archive) removeProduct(ctx context.Context, props properties.Properties, withData, disableHooks bool) error {
	if withData {
		if archivePath, ok := props.ArchivePath(); ok {
			if err := a.store.Delete(ctx, archivePath, props); err != nil {
				return err
			}
		}
	}
	if err := a.db.DeleteProduct(ctx, props.UUID()); err != nil {
		return err
	}
	if !disableHooks {
		a.runHooks(ctx, props, hookPostRemove)
	}
	log.Info("product removed", "type", props.ProductType(), "name", props.ProductName(), "uuid", props.UUID())
	return nil
}
