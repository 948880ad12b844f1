package archive

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/database"
)

func catalogueProduct(t *testing.T, a *testArchive, name string) properties.Properties {
	t.Helper()
	props := properties.New()
	props.Set("core", "product_type", "fake")
	props.Set("core", "product_name", name)
	props.Set("core", "physical_name", name+".dat")
	created, err := a.CreateProperties(context.Background(), props, true)
	require.NoError(t, err)
	return created
}

func TestCreateProperties_FillsDefaults(t *testing.T) {
	a := newTestArchive(t)
	created := catalogueProduct(t, a, "p1")
	require.NotEqual(t, uuid.Nil, created.UUID())
	require.True(t, created.Active())
	_, ok := created.Get("core", "metadata_date")
	require.True(t, ok)
}

func TestCreateProperties_RejectsIncomplete(t *testing.T) {
	a := newTestArchive(t)
	props := properties.New()
	props.Set("core", "product_type", "fake")
	_, err := a.CreateProperties(context.Background(), props, true)
	var serr *errs.SchemaError
	require.ErrorAs(t, err, &serr)
}

func TestUpdateProperties(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	created := catalogueProduct(t, a, "p1")

	update := properties.New()
	update.Set("core", "product_name", "renamed")
	require.NoError(t, a.UpdateProperties(ctx, created.UUID(), update, false))
	stored, err := a.Product(ctx, created.UUID())
	require.NoError(t, err)
	require.Equal(t, "renamed", stored.ProductName())

	// The uuid is immutable.
	update = properties.New()
	update.Set("core", "uuid", uuid.New())
	err = a.UpdateProperties(ctx, created.UUID(), update, false)
	var serr *errs.StateError
	require.ErrorAs(t, err, &serr)
}

func TestDeleteProperties(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	catalogueProduct(t, a, "p1")
	catalogueProduct(t, a, "p2")

	count, err := a.DeleteProperties(ctx, "product_name == \"p1\"", nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	total, err := a.Count(ctx, "", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
}

func TestProductByName(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	created := catalogueProduct(t, a, "p1")

	found, err := a.ProductByName(ctx, "fake", "p1")
	require.NoError(t, err)
	require.Equal(t, created.UUID(), found.UUID())

	_, err = a.ProductByName(ctx, "fake", "other")
	var nf *errs.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestTagging(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	created := catalogueProduct(t, a, "p1")
	id := created.UUID()

	require.NoError(t, a.Tag(ctx, id, []string{"b", "a"}))
	require.NoError(t, a.Tag(ctx, id, []string{"a"}))
	tags, err := a.Tags(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, tags)

	matches, err := a.Search(ctx, database.Query{Where: "has_tag(\"a\")"})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, a.Untag(ctx, id, nil))
	tags, err = a.Tags(ctx, id)
	require.NoError(t, err)
	require.Empty(t, tags)
}

func TestLinks(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := catalogueProduct(t, a, "src")
	der := catalogueProduct(t, a, "der")

	require.NoError(t, a.Link(ctx, der.UUID(), []uuid.UUID{src.UUID()}))

	sources, err := a.SourceProducts(ctx, der.UUID())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, src.UUID(), sources[0].UUID())

	derived, err := a.DerivedProducts(ctx, src.UUID())
	require.NoError(t, err)
	require.Len(t, derived, 1)
	require.Equal(t, der.UUID(), derived[0].UUID())

	require.NoError(t, a.Unlink(ctx, der.UUID(), nil))
	sources, err = a.SourceProducts(ctx, der.UUID())
	require.NoError(t, err)
	require.Empty(t, sources)
}

func TestProductPath(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	props, err := a.Ingest(ctx, []string{src}, IngestOptions{})
	require.NoError(t, err)
	require.Equal(t, "data/p1/p1.dat", a.ProductPath(props))

	catalogueOnly := catalogueProduct(t, a, "p2")
	require.Equal(t, "", a.ProductPath(catalogueOnly))
}
