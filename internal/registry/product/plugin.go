// Package product defines the product-type plug-in contract, the hook
// extension contract, and their registries. Product types drive
// identification, metadata extraction, and placement; hooks observe the
// product life cycle.
package product

import (
	"context"
	"sort"
	"sync"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
)

// CascadeRule states what happens to a product when its sources disappear.
type CascadeRule int

const (
	// Ignore leaves the product alone.
	Ignore CascadeRule = iota
	// Cascade removes the product when all of its sources are removed and
	// strips it when they all lost their archived data.
	Cascade
	// Strip removes the product's archived data when its sources are
	// removed or stripped, keeping the catalogue entry.
	Strip
	// CascadePurge removes the product when its sources are removed, even
	// inside the grace period.
	CascadePurge
	// CascadePurgeAsStrip strips the product when its sources are removed,
	// even inside the grace period.
	CascadePurgeAsStrip
	// Purge removes the product when its sources are removed or stripped,
	// even inside the grace period.
	Purge
)

func (r CascadeRule) String() string {
	switch r {
	case Ignore:
		return "ignore"
	case Cascade:
		return "cascade"
	case Strip:
		return "strip"
	case CascadePurge:
		return "cascade_purge"
	case CascadePurgeAsStrip:
		return "cascade_purge_as_strip"
	case Purge:
		return "purge"
	}
	return "ignore"
}

// CascadeAction is what the cascade engine applies to an orphaned product.
type CascadeAction int

const (
	ActionNone CascadeAction = iota
	ActionStrip
	ActionRemove
)

// OnSourcesRemoved returns the action applied once every source of a
// product has been removed from the catalogue.
func (r CascadeRule) OnSourcesRemoved() CascadeAction {
	switch r {
	case Strip, CascadePurgeAsStrip:
		return ActionStrip
	case Cascade, CascadePurge, Purge:
		return ActionRemove
	}
	return ActionNone
}

// OnSourcesStripped returns the action applied once every source of a
// product has lost its archived data.
func (r CascadeRule) OnSourcesStripped() CascadeAction {
	switch r {
	case Strip, Cascade:
		return ActionStrip
	case Purge:
		return ActionRemove
	}
	return ActionNone
}

// IgnoresGracePeriod reports whether the rule acts inside the grace period.
func (r CascadeRule) IgnoresGracePeriod() bool {
	return r == CascadePurge || r == CascadePurgeAsStrip || r == Purge
}

// Type is a product-type plug-in.
type Type interface {
	// Identify reports whether the paths form a product of this type.
	Identify(paths []string) bool
	// Analyze extracts properties and initial tags from the product data.
	// The returned properties must include core.product_name and
	// core.physical_name.
	Analyze(paths []string) (properties.Properties, []string, error)
	// ArchivePath computes the relative storage path for the product.
	ArchivePath(props properties.Properties) (string, error)
	// UseEnclosingDirectory reports whether product data is stored inside
	// a directory named after the product.
	UseEnclosingDirectory() bool
	// Namespaces lists the non-core namespaces the plug-in fills in.
	Namespaces() []string
	// HashAlgorithm overrides the archive hash algorithm; empty keeps the
	// archive default, "none" disables hashing for the type.
	HashAlgorithm() string
	// Cascade returns the rule applied when the product's sources go away.
	Cascade() CascadeRule
}

// Exporter is an optional extension of Type for product types that can
// convert products into alternative representations on export.
type Exporter interface {
	// ExportFormats lists the formats the type supports.
	ExportFormats() []string
	// Export writes the product in the given format below targetDir and
	// returns the resulting path. paths holds the retrieved product data.
	Export(ctx context.Context, format string, props properties.Properties, paths []string, targetDir string) (string, error)
}

// Hooks observes product life-cycle events. Implement alongside Type or
// register standalone. Hook errors are logged, never fatal; post-remove
// hooks run in reverse registration order.
type Hooks interface {
	PostCreate(ctx context.Context, props properties.Properties) error
	PostIngest(ctx context.Context, props properties.Properties) error
	PostPull(ctx context.Context, props properties.Properties) error
	PostRemove(ctx context.Context, props properties.Properties) error
}

var (
	mu        sync.RWMutex
	types     = map[string]Type{}
	order     []string
	hooks     []Hooks
	hookNames []string
)

// Register adds a product type under its name; duplicates panic.
func Register(name string, t Type) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := types[name]; dup {
		panic("product type registered twice: " + name)
	}
	types[name] = t
	order = append(order, name)
}

// RegisterHooks appends a hook extension under its name; duplicates panic.
func RegisterHooks(name string, h Hooks) {
	mu.Lock()
	defer mu.Unlock()
	for _, n := range hookNames {
		if n == name {
			panic("hook extension registered twice: " + name)
		}
	}
	hooks = append(hooks, h)
	hookNames = append(hookNames, name)
}

// Select resolves a product type by name.
func Select(name string) (Type, error) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := types[name]
	if !ok {
		return nil, errs.Config("unknown product type %q", name)
	}
	return t, nil
}

// Identify returns the name of the first registered product type accepting
// the paths, in registration order.
func Identify(paths []string) (string, Type, error) {
	mu.RLock()
	defer mu.RUnlock()
	for _, name := range order {
		if types[name].Identify(paths) {
			return name, types[name], nil
		}
	}
	return "", nil, errs.State("unable to identify product type")
}

// Names returns the registered product type names sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(types))
	for name := range types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HookNames returns the hook extension names in registration order.
func HookNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, len(hookNames))
	copy(out, hookNames)
	return out
}

// AllHooks returns the hook extensions in registration order.
func AllHooks() []Hooks {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Hooks, len(hooks))
	copy(out, hooks)
	return out
}

// Reset clears the registries. Test support.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	types = map[string]Type{}
	order = nil
	hooks = nil
	hookNames = nil
}
