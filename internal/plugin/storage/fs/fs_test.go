package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/storage"
)

func testBackend(t *testing.T) (*backend, string) {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.FromString("test", "[archive]\ndatabase = sqlite\n\n[fs]\nroot = "+root+"\n")
	require.NoError(t, err)
	b, err := load(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, b.Prepare(context.Background()))
	return b.(*backend), root
}

func testProps(physicalName string) properties.Properties {
	p := properties.New()
	p.Set("core", "uuid", uuid.New())
	p.Set("core", "physical_name", physicalName)
	return p
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPutGet_SingleFile(t *testing.T) {
	b, root := testBackend(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(t.TempDir(), "obs-001.dat"), "payload")
	props := testProps("obs-001.dat")

	require.NoError(t, b.Put(ctx, []string{src}, "2024/03", props, storage.PutOptions{}))
	stored := filepath.Join(root, "2024", "03", "obs-001.dat")
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	target := t.TempDir()
	require.NoError(t, b.Get(ctx, "2024/03", props, target, false))
	data, err = os.ReadFile(filepath.Join(target, "obs-001.dat"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestPut_EnclosingDirectory(t *testing.T) {
	b, root := testBackend(t)
	ctx := context.Background()
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.dat"), "a")
	writeFile(t, filepath.Join(srcDir, "b.dat"), "b")
	props := testProps("obs-001")

	opts := storage.PutOptions{UseEnclosingDirectory: true}
	paths := []string{filepath.Join(srcDir, "a.dat"), filepath.Join(srcDir, "b.dat")}
	require.NoError(t, b.Put(ctx, paths, "2024/03", props, opts))
	require.FileExists(t, filepath.Join(root, "2024", "03", "obs-001", "a.dat"))
	require.FileExists(t, filepath.Join(root, "2024", "03", "obs-001", "b.dat"))

	size, err := b.Size(ctx, "2024/03", props)
	require.NoError(t, err)
	require.Equal(t, int64(2), size)
}

func TestPut_MultiFileWithoutEnclosingDirectoryFails(t *testing.T) {
	b, _ := testBackend(t)
	srcDir := t.TempDir()
	a := writeFile(t, filepath.Join(srcDir, "a.dat"), "a")
	c := writeFile(t, filepath.Join(srcDir, "b.dat"), "b")
	err := b.Put(context.Background(), []string{a, c}, "x", testProps("a.dat"), storage.PutOptions{})
	require.Error(t, err)
}

func TestPut_Symlink(t *testing.T) {
	b, root := testBackend(t)
	src := writeFile(t, filepath.Join(t.TempDir(), "obs-001.dat"), "payload")
	props := testProps("obs-001.dat")
	require.NoError(t, b.Put(context.Background(), []string{src}, "2024", props, storage.PutOptions{UseSymlinks: true}))
	info, err := os.Lstat(filepath.Join(root, "2024", "obs-001.dat"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestDelete_PrunesEmptyDirectories(t *testing.T) {
	b, root := testBackend(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(t.TempDir(), "obs-001.dat"), "payload")
	props := testProps("obs-001.dat")
	require.NoError(t, b.Put(ctx, []string{src}, "2024/03", props, storage.PutOptions{}))

	require.NoError(t, b.Delete(ctx, "2024/03", props))
	require.NoDirExists(t, filepath.Join(root, "2024"))
	// Deleting again is not an error.
	require.NoError(t, b.Delete(ctx, "2024/03", props))
}

func TestMove(t *testing.T) {
	b, root := testBackend(t)
	ctx := context.Background()
	src := writeFile(t, filepath.Join(t.TempDir(), "obs-001.dat"), "payload")
	props := testProps("obs-001.dat")
	require.NoError(t, b.Put(ctx, []string{src}, "old/path", props, storage.PutOptions{}))

	require.NoError(t, b.Move(ctx, props, "old/path", "new/path"))
	require.FileExists(t, filepath.Join(root, "new", "path", "obs-001.dat"))
	require.NoDirExists(t, filepath.Join(root, "old"))
}

func TestCurrentArchivePath(t *testing.T) {
	b, root := testBackend(t)
	ctx := context.Background()
	inside := writeFile(t, filepath.Join(root, "2024", "03", "obs-001.dat"), "payload")

	archivePath, err := b.CurrentArchivePath(ctx, []string{inside})
	require.NoError(t, err)
	require.Equal(t, "2024/03", archivePath)

	outside := writeFile(t, filepath.Join(t.TempDir(), "other.dat"), "x")
	_, err = b.CurrentArchivePath(ctx, []string{outside})
	require.Error(t, err)

	_, err = b.CurrentArchivePath(ctx, []string{inside, outside})
	require.Error(t, err)
}

func TestPut_InPlaceVerifiesLocation(t *testing.T) {
	b, root := testBackend(t)
	ctx := context.Background()
	inside := writeFile(t, filepath.Join(root, "2024", "obs-001.dat"), "payload")
	props := testProps("obs-001.dat")

	require.NoError(t, b.Put(ctx, []string{inside}, "2024", props, storage.PutOptions{InPlace: true}))
	require.Error(t, b.Put(ctx, []string{inside}, "other", props, storage.PutOptions{InPlace: true}))
}
