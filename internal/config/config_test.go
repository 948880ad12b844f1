package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[archive]
database = postgresql
storage = fs
cascade_grace_period = 30
max_cascade_cycles = 5
hash_algorithm = sha256

[fs]
root = /srv/archive

[postgresql]
connection_string = host=localhost dbname=archive
`

func TestFromString_ParsesArchiveSection(t *testing.T) {
	cfg, err := FromString("myarchive", sampleConfig)
	require.NoError(t, err)
	require.Equal(t, "myarchive", cfg.ArchiveID)
	require.Equal(t, "postgresql", cfg.Database)
	require.Equal(t, "fs", cfg.Storage)
	require.Equal(t, 30*time.Minute, cfg.CascadeGracePeriod)
	require.Equal(t, 5, cfg.MaxCascadeCycles)
	require.Equal(t, "sha256", cfg.HashAlgorithm)
}

func TestFromString_Defaults(t *testing.T) {
	cfg, err := FromString("a", "[archive]\ndatabase = sqlite\n")
	require.NoError(t, err)
	require.Equal(t, "fs", cfg.Storage)
	require.Equal(t, 25, cfg.MaxCascadeCycles)
	require.Equal(t, "md5", cfg.HashAlgorithm)
	require.Equal(t, time.Duration(0), cfg.CascadeGracePeriod)
}

func TestFromString_ExtensionLists(t *testing.T) {
	cfg, err := FromString("a", `
[archive]
database = sqlite
namespace_extensions = obs, sar
product_type_extensions = rawdata
hook_extensions = audit
remote_backend_extensions = sftp, dissemination
`)
	require.NoError(t, err)
	require.Equal(t, []string{"obs", "sar"}, cfg.NamespaceExtensions)
	require.Equal(t, []string{"rawdata"}, cfg.ProductTypeExtensions)
	require.Equal(t, []string{"audit"}, cfg.HookExtensions)
	require.Equal(t, []string{"sftp", "dissemination"}, cfg.RemoteBackendExtensions)
}

func TestFromString_RequiresDatabase(t *testing.T) {
	_, err := FromString("a", "[archive]\n")
	require.Error(t, err)
}

func TestFromString_RejectsBadArchiveID(t *testing.T) {
	for _, id := range []string{"9lives", "With-Dash", "UPPER", ""} {
		_, err := FromString(id, "[archive]\ndatabase = sqlite\n")
		require.Error(t, err, id)
	}
}

func TestDecodeSection(t *testing.T) {
	cfg, err := FromString("myarchive", sampleConfig)
	require.NoError(t, err)
	var s struct {
		Root string `ini:"root"`
	}
	require.NoError(t, cfg.DecodeSection("fs", &s))
	require.Equal(t, "/srv/archive", s.Root)
}

func TestLocate_SearchesConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "myarchive.cfg")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	t.Setenv(EnvConfigPath, dir)

	found, err := Locate("myarchive")
	require.NoError(t, err)
	require.Equal(t, path, found)

	_, err = Locate("other")
	require.Error(t, err)
}

func TestLoadArchive_TakesIDFromFileName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "myarchive.cfg")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	t.Setenv(EnvConfigPath, dir)

	cfg, err := LoadArchive("myarchive")
	require.NoError(t, err)
	require.Equal(t, "myarchive", cfg.ArchiveID)
}

func TestLoadCredentials_LegacyGrantSpelling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"https://data.example.com": {
			"auth_type": "oauth2",
			"username": "u",
			"password": "p",
			"grand_type": "password",
			"client_id": "cid",
			"token_url": "https://auth.example.com/token"
		}
	}`), 0o644))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	cred, ok := creds.ForURL("https://data.example.com/products/x")
	require.True(t, ok)
	require.Equal(t, "password", cred.EffectiveGrantType())
}

func TestLoadCredentials_S3Record(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"s3://products": {
			"auth_type": "S3",
			"bucket": "products",
			"access_key": "AK",
			"secret_access_key": "SK",
			"port": 9000
		},
		"swift://store": {
			"auth_type": "Swift",
			"user": "u",
			"key": "k"
		}
	}`), 0o644))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	cred, ok := creds.ForURL("s3://products/path/to/object")
	require.True(t, ok)
	require.Equal(t, "S3", cred.AuthType)
	require.Equal(t, "AK", cred.AccessKey)
	require.Equal(t, "SK", cred.SecretAccessKey)
	require.Equal(t, 9000, cred.Port)

	cred, ok = creds.ForURL("swift://store/object")
	require.True(t, ok)
	require.Equal(t, "Swift", cred.AuthType)
	require.Equal(t, "u", cred.User)
	require.Equal(t, "k", cred.Key)
}

func TestCredentials_ForURLLongestPrefix(t *testing.T) {
	creds := Credentials{
		"https://example.com":      {Username: "generic"},
		"https://example.com/priv": {Username: "specific"},
	}
	cred, ok := creds.ForURL("https://example.com/priv/data")
	require.True(t, ok)
	require.Equal(t, "specific", cred.Username)

	_, ok = creds.ForURL("https://other.org")
	require.False(t, ok)
}
