package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/product"
)

func TestRemove_DeletesDataAndEntry(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	props, err := a.Ingest(ctx, []string{src}, IngestOptions{})
	require.NoError(t, err)

	count, err := a.Remove(ctx, "uuid == @id", map[string]any{"id": props.UUID()}, RemoveOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Empty(t, a.store.entries)
	_, err = a.Product(ctx, props.UUID())
	var nf *errs.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestRemove_InactiveNeedsForce(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	props := properties.New()
	props.Set("core", "product_type", "fake")
	props.Set("core", "product_name", "p1")
	props.Set("core", "physical_name", "p1.dat")
	props.Set("core", "active", false)
	created, err := a.CreateProperties(ctx, props, true)
	require.NoError(t, err)

	_, err = a.Remove(ctx, "", nil, RemoveOptions{})
	var serr *errs.StateError
	require.ErrorAs(t, err, &serr)

	count, err := a.Remove(ctx, "", nil, RemoveOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	_, err = a.Product(ctx, created.UUID())
	require.Error(t, err)
}

func TestRemove_CatalogueOnlyKeepsData(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	_, err := a.Ingest(ctx, []string{src}, IngestOptions{})
	require.NoError(t, err)

	count, err := a.Remove(ctx, "", nil, RemoveOptions{CatalogueOnly: true})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Contains(t, a.store.entries, "data/p1")
}

// derivedChain ingests source -> middle -> leaf with link rows, where the
// derived types carry the given cascade rule.
func derivedChain(t *testing.T, a *testArchive, rule product.CascadeRule) (src, mid, leaf uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	product.Register("derived", &fakeType{rule: rule})
	dir := t.TempDir()

	s, err := a.Ingest(ctx, []string{writeTestFile(t, dir, "s1.dat", "source")}, IngestOptions{ProductType: "fake"})
	require.NoError(t, err)
	m, err := a.Ingest(ctx, []string{writeTestFile(t, dir, "m1.dat", "middle")}, IngestOptions{ProductType: "derived"})
	require.NoError(t, err)
	l, err := a.Ingest(ctx, []string{writeTestFile(t, dir, "l1.dat", "leaf")}, IngestOptions{ProductType: "derived"})
	require.NoError(t, err)
	require.NoError(t, a.Link(ctx, m.UUID(), []uuid.UUID{s.UUID()}))
	require.NoError(t, a.Link(ctx, l.UUID(), []uuid.UUID{m.UUID()}))
	return s.UUID(), m.UUID(), l.UUID()
}

func TestCascade_RemovesDerivedChain(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src, mid, leaf := derivedChain(t, a, product.Cascade)

	// Removing the source orphans the middle product; removing that orphans
	// the leaf. The cascade iterates until nothing changes.
	count, err := a.Remove(ctx, "uuid == @id", map[string]any{"id": src}, RemoveOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	for _, id := range []uuid.UUID{mid, leaf} {
		_, err := a.Product(ctx, id)
		require.Error(t, err, id)
	}
	require.Empty(t, a.store.entries)
}

func TestCascade_StripKeepsEntries(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src, mid, leaf := derivedChain(t, a, product.Strip)

	// Stripping the source data strips the derived chain but keeps every
	// catalogue entry.
	count, err := a.Strip(ctx, "uuid == @id", map[string]any{"id": src}, false, false)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Empty(t, a.store.entries)
	for _, id := range []uuid.UUID{src, mid, leaf} {
		props, err := a.Product(ctx, id)
		require.NoError(t, err)
		_, ok := props.ArchivePath()
		require.False(t, ok, id)
	}
}

func TestCascade_DisableCascade(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src, mid, _ := derivedChain(t, a, product.Cascade)

	_, err := a.Remove(ctx, "uuid == @id", map[string]any{"id": src}, RemoveOptions{DisableCascade: true})
	require.NoError(t, err)
	_, err = a.Product(ctx, mid)
	require.NoError(t, err)
}

func TestCascade_PurgeRemovesDerivedChain(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src, _, _ := derivedChain(t, a, product.Purge)

	// A purge rule removes the derived products outright once their sources
	// are gone or stripped; the whole chain disappears in one cascade run.
	count, err := a.Remove(ctx, "uuid == @id", map[string]any{"id": src}, RemoveOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	total, err := a.Count(ctx, "", nil)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, a.store.entries)
}

func TestCascade_PurgeAsStripKeepsEntry(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	product.Register("derived", &fakeType{rule: product.CascadePurgeAsStrip})
	dir := t.TempDir()

	s, err := a.Ingest(ctx, []string{writeTestFile(t, dir, "s1.dat", "source")}, IngestOptions{ProductType: "fake"})
	require.NoError(t, err)
	d, err := a.Ingest(ctx, []string{writeTestFile(t, dir, "d1.dat", "derived")}, IngestOptions{ProductType: "derived"})
	require.NoError(t, err)
	require.NoError(t, a.Link(ctx, d.UUID(), []uuid.UUID{s.UUID()}))

	// Removing the source strips the derived product but keeps its entry.
	_, err = a.Remove(ctx, "uuid == @id", map[string]any{"id": s.UUID()}, RemoveOptions{})
	require.NoError(t, err)
	props, err := a.Product(ctx, d.UUID())
	require.NoError(t, err)
	_, ok := props.ArchivePath()
	require.False(t, ok)
	require.NotContains(t, a.store.entries, "data/d1")
}

func TestCascade_StripsDerivedWhenSourceStripped(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src, mid, leaf := derivedChain(t, a, product.Cascade)

	// With the cascade rule, stripping the source strips the derived chain
	// instead of removing it.
	count, err := a.Strip(ctx, "uuid == @id", map[string]any{"id": src}, false, false)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Empty(t, a.store.entries)
	for _, id := range []uuid.UUID{src, mid, leaf} {
		props, err := a.Product(ctx, id)
		require.NoError(t, err)
		_, ok := props.ArchivePath()
		require.False(t, ok, id)
	}
}

func TestCascade_PurgeRulesIgnoreGracePeriod(t *testing.T) {
	a := newTestArchive(t)
	a.cfg.CascadeGracePeriod = time.Hour
	product.Reset()
	product.Register("purged", &fakeType{rule: product.Purge})

	// A purge rule acts in both phases, with the grace period zeroed.
	require.NoError(t, a.Cascade(context.Background()))
	require.Equal(t, []time.Duration{0, 0}, a.db.graceSeen)
}

func TestCascade_GracePeriodPassedThrough(t *testing.T) {
	a := newTestArchive(t)
	a.cfg.CascadeGracePeriod = time.Hour
	product.Reset()
	product.Register("stripped", &fakeType{rule: product.Strip})

	require.NoError(t, a.Cascade(context.Background()))
	require.Equal(t, []time.Duration{time.Hour, time.Hour}, a.db.graceSeen)
}

func TestCascade_NoRulesIsNoop(t *testing.T) {
	a := newTestArchive(t)
	require.NoError(t, a.Cascade(context.Background()))
	require.Empty(t, a.db.graceSeen)
}
