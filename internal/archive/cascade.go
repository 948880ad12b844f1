package archive

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/product"
)

// Cascade re-establishes the archive invariants after removals: derived
// products whose sources disappeared are stripped or removed according to
// their product type's cascade rule. Each pass may expose new orphans, so
// the engine iterates to a fixed point, bounded by the configured cycle
// limit.
func (a *Archive) Cascade(ctx context.Context) error {
	groups := cascadeGroups()
	if len(groups) == 0 {
		return nil
	}
	for cycle := 0; cycle < a.cfg.MaxCascadeCycles; cycle++ {
		changed, err := a.cascadeOnce(ctx, groups)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
	}
	log.Warn("cascade did not settle", "cycles", a.cfg.MaxCascadeCycles)
	return nil
}

// cascadeGroups collects the registered product types by cascade rule,
// dropping the ignore group.
func cascadeGroups() map[product.CascadeRule][]string {
	groups := map[product.CascadeRule][]string{}
	for _, name := range product.Names() {
		t, err := product.Select(name)
		if err != nil {
			continue
		}
		rule := t.Cascade()
		if rule == product.Ignore {
			continue
		}
		groups[rule] = append(groups[rule], name)
	}
	return groups
}

// cascadeOnce runs the two invariant phases: first products whose sources
// were all removed from the catalogue, then products whose sources all lost
// their archived data. Each cascade rule maps to one action per phase.
func (a *Archive) cascadeOnce(ctx context.Context, groups map[product.CascadeRule][]string) (bool, error) {
	changed := false
	for rule, types := range groups {
		did, err := a.applyCascade(ctx, rule, types, rule.OnSourcesRemoved(), a.db.FindProductsWithoutSource)
		if err != nil {
			return changed, err
		}
		changed = changed || did
	}
	for rule, types := range groups {
		did, err := a.applyCascade(ctx, rule, types, rule.OnSourcesStripped(), a.db.FindProductsWithoutAvailableSource)
		if err != nil {
			return changed, err
		}
		changed = changed || did
	}
	return changed, nil
}

type orphanQuery func(ctx context.Context, productTypes []string, grace time.Duration, archivedOnly bool) ([]properties.Properties, error)

func (a *Archive) applyCascade(ctx context.Context, rule product.CascadeRule, types []string, action product.CascadeAction, find orphanQuery) (bool, error) {
	if action == product.ActionNone {
		return false, nil
	}
	grace := a.cfg.CascadeGracePeriod
	if rule.IgnoresGracePeriod() {
		grace = time.Duration(0)
	}
	// Only products that still hold data can be stripped.
	orphans, err := find(ctx, types, grace, action == product.ActionStrip)
	if err != nil {
		return false, err
	}
	changed := false
	for _, props := range orphans {
		if action == product.ActionStrip {
			err = a.stripOne(ctx, props)
		} else {
			err = a.removeProduct(ctx, props, true, false)
		}
		if err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}
