package archive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProductHash_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a := writeTestFile(t, dir, "a.dat", "alpha")
	b := writeTestFile(t, dir, "b.dat", "beta")

	first, err := productHash([]string{a, b}, "md5")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, "md5:"))

	// Path order does not matter; file names do.
	second, err := productHash([]string{b, a}, "md5")
	require.NoError(t, err)
	require.Equal(t, first, second)

	other := writeTestFile(t, t.TempDir(), "c.dat", "alpha")
	third, err := productHash([]string{other, b}, "md5")
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

func TestProductHash_WalksDirectories(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.dat", "alpha")
	nested, err := productHash([]string{dir}, "sha256")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(nested, "sha256:"))
}

func TestProductHash_UnknownAlgorithm(t *testing.T) {
	src := writeTestFile(t, t.TempDir(), "a.dat", "alpha")
	_, err := productHash([]string{src}, "crc32")
	require.Error(t, err)
}

func TestSplitHash(t *testing.T) {
	algorithm, digest := splitHash("md5:abc123")
	require.Equal(t, "md5", algorithm)
	require.Equal(t, "abc123", digest)

	// Bare digests predate algorithm prefixes.
	algorithm, digest = splitHash("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.Equal(t, "sha1", algorithm)
	require.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", digest)
}

func TestHashAlgorithmFor(t *testing.T) {
	a := newTestArchive(t)
	require.Equal(t, "md5", a.hashAlgorithmFor(""))
	require.Equal(t, "sha512", a.hashAlgorithmFor("sha512"))

	a.cfg.HashAlgorithm = "sha256"
	require.Equal(t, "sha256", a.hashAlgorithmFor(""))

	a.cfg.HashAlgorithm = ""
	require.Equal(t, "md5", a.hashAlgorithmFor(""))
}
