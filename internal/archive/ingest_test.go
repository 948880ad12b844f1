package archive

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
)

func TestIngest_StoresAndActivates(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")

	props, err := a.Ingest(ctx, []string{src}, IngestOptions{Tags: []string{"extra"}})
	require.NoError(t, err)
	require.True(t, props.Active())
	require.Equal(t, "fake", props.ProductType())
	require.Equal(t, "p1", props.ProductName())
	require.Equal(t, "p1.dat", props.PhysicalName())
	require.True(t, strings.HasPrefix(props.Hash(), "md5:"))

	archivePath, ok := props.ArchivePath()
	require.True(t, ok)
	require.Equal(t, "data/p1", archivePath)
	size, ok := props.Size()
	require.True(t, ok)
	require.Equal(t, int64(len("payload")), size)
	require.Equal(t, "payload", string(a.store.entries["data/p1"]["p1.dat"]))

	stored, err := a.Product(ctx, props.UUID())
	require.NoError(t, err)
	require.True(t, stored.Active())
	_, ok = stored.Get("core", "archive_date")
	require.True(t, ok)

	tags, err := a.Tags(ctx, props.UUID())
	require.NoError(t, err)
	require.Equal(t, []string{"auto", "extra"}, tags)
}

func TestIngest_CatalogueOnly(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")

	props, err := a.Ingest(ctx, []string{src}, IngestOptions{CatalogueOnly: true})
	require.NoError(t, err)
	require.True(t, props.Active())
	_, ok := props.ArchivePath()
	require.False(t, ok)
	require.Empty(t, props.Hash())
	require.Empty(t, a.store.entries)
}

func TestIngest_ExtraPropertiesOverride(t *testing.T) {
	a := newTestArchive(t)
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")

	extra := properties.New()
	extra.Set("core", "product_name", "renamed")
	props, err := a.Ingest(context.Background(), []string{src}, IngestOptions{ExtraProperties: extra})
	require.NoError(t, err)
	require.Equal(t, "renamed", props.ProductName())
}

func TestIngest_AbortOnStorageFailure(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	a.store.failPut = true

	_, err := a.Ingest(ctx, []string{src}, IngestOptions{})
	require.Error(t, err)
	var serr *errs.StorageError
	require.ErrorAs(t, err, &serr)

	// The failed ingest leaves neither a catalogue entry nor stored data.
	count, err := a.Count(ctx, "", nil)
	require.NoError(t, err)
	require.Zero(t, count)
	require.GreaterOrEqual(t, a.store.deletes, 1)
}

func TestIngest_DuplicateNameConflicts(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	dir := t.TempDir()
	src := writeTestFile(t, dir, "p1.dat", "payload")

	first, err := a.Ingest(ctx, []string{src}, IngestOptions{})
	require.NoError(t, err)

	_, err = a.Ingest(ctx, []string{src}, IngestOptions{})
	var cerr *errs.ConflictError
	require.ErrorAs(t, err, &cerr)

	replaced, err := a.Ingest(ctx, []string{src}, IngestOptions{Force: true})
	require.NoError(t, err)
	require.NotEqual(t, first.UUID(), replaced.UUID())
	count, err := a.Count(ctx, "", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestIngest_VerifyHash(t *testing.T) {
	a := newTestArchive(t)
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")

	props, err := a.Ingest(context.Background(), []string{src}, IngestOptions{VerifyHash: true})
	require.NoError(t, err)
	require.True(t, props.Active())
}

func TestAttach_StoresDataForCatalogueEntry(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")

	created, err := a.Ingest(ctx, []string{src}, IngestOptions{CatalogueOnly: true})
	require.NoError(t, err)

	attached, err := a.Attach(ctx, []string{src}, AttachOptions{})
	require.NoError(t, err)
	require.Equal(t, created.UUID(), attached.UUID())
	archivePath, ok := attached.ArchivePath()
	require.True(t, ok)
	require.Equal(t, "data/p1", archivePath)
	require.True(t, strings.HasPrefix(attached.Hash(), "md5:"))
	require.Equal(t, "payload", string(a.store.entries["data/p1"]["p1.dat"]))

	// A second attach needs force.
	_, err = a.Attach(ctx, []string{src}, AttachOptions{})
	var serr *errs.StateError
	require.ErrorAs(t, err, &serr)
	_, err = a.Attach(ctx, []string{src}, AttachOptions{Force: true})
	require.NoError(t, err)
}

func TestAttach_VerifyHashBeforeRejectsMismatch(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")

	props := properties.New()
	props.Set("core", "product_type", "fake")
	props.Set("core", "product_name", "p1")
	props.Set("core", "physical_name", "p1.dat")
	props.Set("core", "hash", "md5:00000000000000000000000000000000")
	_, err := a.CreateProperties(ctx, props, true)
	require.NoError(t, err)

	_, err = a.Attach(ctx, []string{src}, AttachOptions{VerifyHashBefore: true})
	var serr *errs.StorageError
	require.ErrorAs(t, err, &serr)
}

func TestAttach_UnknownProduct(t *testing.T) {
	a := newTestArchive(t)
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	_, err := a.Attach(context.Background(), []string{src}, AttachOptions{})
	var nf *errs.NotFoundError
	require.ErrorAs(t, err, &nf)
}
