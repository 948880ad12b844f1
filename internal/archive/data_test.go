package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/product"
)

// remoteProduct catalogues a product carrying a remote_url and no data.
func remoteProduct(t *testing.T, a *testArchive, name string) properties.Properties {
	t.Helper()
	props := properties.New()
	props.Set("core", "product_type", "fake")
	props.Set("core", "product_name", name)
	props.Set("core", "physical_name", name+".dat")
	props.Set("core", "remote_url", "fake://"+name)
	created, err := a.CreateProperties(context.Background(), props, true)
	require.NoError(t, err)
	return created
}

func TestPull_DownloadsAndStores(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	created := remoteProduct(t, a, "p1")

	pullData = func(targetDir string) ([]string, error) {
		return []string{writeTestFile(t, targetDir, "p1.dat", "pulled")}, nil
	}
	count, err := a.Pull(ctx, "", nil, PullOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	props, err := a.Product(ctx, created.UUID())
	require.NoError(t, err)
	archivePath, ok := props.ArchivePath()
	require.True(t, ok)
	require.Equal(t, "data/p1", archivePath)
	require.True(t, strings.HasPrefix(props.Hash(), "md5:"))
	size, ok := props.Size()
	require.True(t, ok)
	require.Equal(t, int64(len("pulled")), size)
	require.Equal(t, "pulled", string(a.store.entries["data/p1"]["p1.dat"]))

	// Products with archived data no longer qualify.
	count, err = a.Pull(ctx, "", nil, PullOptions{})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestPull_HashMismatch(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	created := remoteProduct(t, a, "p1")
	update := properties.New()
	update.Set("core", "hash", "md5:00000000000000000000000000000000")
	require.NoError(t, a.UpdateProperties(ctx, created.UUID(), update, false))

	pullData = func(targetDir string) ([]string, error) {
		return []string{writeTestFile(t, targetDir, "p1.dat", "pulled")}, nil
	}
	_, err := a.Pull(ctx, "", nil, PullOptions{})
	var serr *errs.StorageError
	require.ErrorAs(t, err, &serr)
	require.Empty(t, a.store.entries)
}

func TestStrip_RemovesDataKeepsEntry(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	props, err := a.Ingest(ctx, []string{src}, IngestOptions{})
	require.NoError(t, err)

	count, err := a.Strip(ctx, "", nil, false, true)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Empty(t, a.store.entries)

	stored, err := a.Product(ctx, props.UUID())
	require.NoError(t, err)
	require.True(t, stored.Active())
	_, ok := stored.ArchivePath()
	require.False(t, ok)
	_, ok = stored.Get("core", "archive_date")
	require.False(t, ok)

	// Products without data are skipped, not failed.
	count, err = a.Strip(ctx, "", nil, false, true)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRetrieve(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	_, err := a.Ingest(ctx, []string{src}, IngestOptions{})
	require.NoError(t, err)

	target := t.TempDir()
	paths, err := a.Retrieve(ctx, "", nil, target)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(target, "p1.dat")}, paths)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

// exportType converts products to .txt copies on export.
type exportType struct {
	fakeType
}

func (e *exportType) ExportFormats() []string { return []string{"txt"} }

func (e *exportType) Export(ctx context.Context, format string, props properties.Properties, paths []string, targetDir string) (string, error) {
	data, err := os.ReadFile(paths[0])
	if err != nil {
		return "", err
	}
	out := filepath.Join(targetDir, props.ProductName()+".txt")
	return out, os.WriteFile(out, data, 0o644)
}

func TestExport(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	product.Register("conv", &exportType{})
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	_, err := a.Ingest(ctx, []string{src}, IngestOptions{ProductType: "conv"})
	require.NoError(t, err)

	target := t.TempDir()
	paths, err := a.Export(ctx, "", nil, "txt", target)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(target, "p1.txt")}, paths)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	_, err = a.Export(ctx, "", nil, "csv", target)
	var serr *errs.StateError
	require.ErrorAs(t, err, &serr)
}

func TestRebuildProperties_RelocatesData(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	src := writeTestFile(t, t.TempDir(), "p1.dat", "payload")
	props, err := a.Ingest(ctx, []string{src}, IngestOptions{})
	require.NoError(t, err)

	a.typ.pathPrefix = "moved"
	rebuilt, err := a.RebuildProperties(ctx, props.UUID(), true)
	require.NoError(t, err)
	archivePath, ok := rebuilt.ArchivePath()
	require.True(t, ok)
	require.Equal(t, "moved/p1", archivePath)
	require.Contains(t, a.store.entries, "moved/p1")
	require.NotContains(t, a.store.entries, "data/p1")
	require.Equal(t, props.UUID(), rebuilt.UUID())

	stored, err := a.Product(ctx, props.UUID())
	require.NoError(t, err)
	path, _ := stored.ArchivePath()
	require.Equal(t, "moved/p1", path)
}

func TestVerifyHash_ReportsCorruptedProducts(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	dir := t.TempDir()
	good, err := a.Ingest(ctx, []string{writeTestFile(t, dir, "p1.dat", "payload")}, IngestOptions{})
	require.NoError(t, err)
	bad, err := a.Ingest(ctx, []string{writeTestFile(t, dir, "p2.dat", "payload")}, IngestOptions{})
	require.NoError(t, err)

	a.store.corrupt("data/p2")
	failed, err := a.VerifyHash(ctx, "", nil)
	require.NoError(t, err)
	require.Equal(t, []string{bad.UUID().String()}, uuidStrings(failed))
	require.NotContains(t, uuidStrings(failed), good.UUID().String())
}
