package tempfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreate_UsesGivenDirectory(t *testing.T) {
	dir := t.TempDir()
	f, path, err := Create(dir, "work-")
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, dir, filepath.Dir(path))
}

func TestCreateDir_MakesParent(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "nested", "work")
	dir, err := CreateDir(parent, "stage-")
	require.NoError(t, err)
	require.DirExists(t, dir)
	require.Equal(t, parent, filepath.Dir(dir))
}

func TestCommit_ReplacesExisting(t *testing.T) {
	dstDir := t.TempDir()
	old := filepath.Join(dstDir, "entry")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "entry")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))

	dst, err := Commit(src, dstDir)
	require.NoError(t, err)
	require.Equal(t, old, dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
	require.NoFileExists(t, src)
}

func TestDeleteOnClose(t *testing.T) {
	f, path, err := Create(t.TempDir(), "tmp-")
	require.NoError(t, err)
	d := NewDeleteOnClose(f)
	require.NoError(t, d.Close())
	require.NoFileExists(t, path)
}
