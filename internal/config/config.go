// Package config loads archive configuration from INI files and remote
// credentials from a JSON file. An archive is identified by name; the file
// <name>.cfg is looked up along the MUNINN_CONFIG_PATH search path.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/muninn-archive/muninn/internal/errs"
)

// EnvConfigPath is the colon-separated directory list searched for archive
// configuration files.
const EnvConfigPath = "MUNINN_CONFIG_PATH"

const (
	defaultMaxCascadeCycles = 25
	defaultHashAlgorithm    = "md5"
)

// Config is the parsed archive configuration. Backend-specific sections stay
// on the underlying INI file; each backend decodes its own section.
type Config struct {
	// ArchiveID is the archive name; it prefixes table names so several
	// archives can share one database.
	ArchiveID string

	// Database and Storage name the registered backend plug-ins.
	Database string
	Storage  string

	// CascadeGracePeriod protects freshly archived products from automatic
	// cascade removal.
	CascadeGracePeriod time.Duration
	// MaxCascadeCycles bounds the cascade fixed-point iteration.
	MaxCascadeCycles int

	// HashAlgorithm names the hash used on ingest (md5 unless configured).
	HashAlgorithm string

	// AuthFile points at the remote-access credentials JSON.
	AuthFile string

	// The extension lists name plug-in sets that must be present in the
	// corresponding registry when the archive opens.
	NamespaceExtensions     []string
	ProductTypeExtensions   []string
	HookExtensions          []string
	RemoteBackendExtensions []string

	// TempDir overrides the work directory for downloads and exports.
	TempDir string

	file *ini.File
}

// Locate resolves an archive name to its configuration file along
// MUNINN_CONFIG_PATH. A name containing a path separator or the .cfg suffix
// is used as a path directly.
func Locate(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.HasSuffix(name, ".cfg") {
		if _, err := os.Stat(name); err != nil {
			return "", errs.Config("cannot read configuration file %q: %v", name, err)
		}
		return name, nil
	}
	searchPath := os.Getenv(EnvConfigPath)
	for _, dir := range filepath.SplitList(searchPath) {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name+".cfg")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errs.Config("no configuration file for archive %q on %s", name, EnvConfigPath)
}

// Load reads and validates the configuration file at path. The archive id
// defaults to the file base name.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errs.Config("cannot read configuration file %q: %v", path, err)
	}
	return parse(file, strings.TrimSuffix(filepath.Base(path), ".cfg"))
}

// LoadArchive is Locate followed by Load.
func LoadArchive(name string) (*Config, error) {
	path, err := Locate(name)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

func parse(file *ini.File, defaultID string) (*Config, error) {
	sec := file.Section("archive")
	cfg := &Config{
		ArchiveID:        sec.Key("archive_id").MustString(defaultID),
		Database:         sec.Key("database").String(),
		Storage:          sec.Key("storage").MustString("fs"),
		MaxCascadeCycles: sec.Key("max_cascade_cycles").MustInt(defaultMaxCascadeCycles),
		HashAlgorithm:    sec.Key("hash_algorithm").MustString(defaultHashAlgorithm),
		AuthFile:         sec.Key("auth_file").String(),
		TempDir:          sec.Key("tempdir").String(),
		file:             file,
	}
	grace := sec.Key("cascade_grace_period").MustInt(0)
	if grace < 0 {
		return nil, errs.Config("cascade_grace_period must not be negative")
	}
	cfg.CascadeGracePeriod = time.Duration(grace) * time.Minute
	cfg.NamespaceExtensions = listKey(sec, "namespace_extensions")
	cfg.ProductTypeExtensions = listKey(sec, "product_type_extensions")
	cfg.HookExtensions = listKey(sec, "hook_extensions")
	cfg.RemoteBackendExtensions = listKey(sec, "remote_backend_extensions")
	if cfg.Database == "" {
		return nil, errs.Config("option \"database\" missing from section [archive]")
	}
	if cfg.MaxCascadeCycles < 1 {
		return nil, errs.Config("max_cascade_cycles must be positive")
	}
	if !validArchiveID(cfg.ArchiveID) {
		return nil, errs.Config("invalid archive id %q", cfg.ArchiveID)
	}
	return cfg, nil
}

func listKey(sec *ini.Section, name string) []string {
	var out []string
	for _, item := range sec.Key(name).Strings(",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validArchiveID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		ok := c == '_' || (c >= 'a' && c <= 'z') || (i > 0 && c >= '0' && c <= '9')
		if !ok {
			return false
		}
	}
	return true
}

// DecodeSection maps a backend-specific INI section onto out, a pointer to
// a struct with ini tags.
func (c *Config) DecodeSection(name string, out any) error {
	if c.file == nil {
		return nil
	}
	if err := c.file.Section(name).MapTo(out); err != nil {
		return errs.Config("invalid section [%s]: %v", name, err)
	}
	return nil
}

// FromString parses configuration text directly. Used by tests and by
// embedders that assemble configuration programmatically.
func FromString(id, text string) (*Config, error) {
	file, err := ini.Load([]byte(text))
	if err != nil {
		return nil, errs.Config("invalid configuration: %v", err)
	}
	return parse(file, id)
}

func (c *Config) String() string {
	return fmt.Sprintf("archive %s (database %s, storage %s)", c.ArchiveID, c.Database, c.Storage)
}
