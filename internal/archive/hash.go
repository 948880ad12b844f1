package archive

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/muninn-archive/muninn/internal/errs"
)

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	}
	return nil, errs.Config("unknown hash algorithm %q", algorithm)
}

// productHash digests the product files in a path-independent, deterministic
// order: for each regular file, the slash-separated name relative to its
// source root followed by the file content. The result carries an algorithm
// prefix, "md5:d41d8...".
func productHash(paths []string, algorithm string) (string, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}

	type entry struct {
		name string
		path string
	}
	var entries []entry
	for _, p := range paths {
		root := filepath.Dir(p)
		err := filepath.Walk(p, func(walked string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, walked)
			if err != nil {
				return err
			}
			entries = append(entries, entry{name: filepath.ToSlash(rel), path: walked})
			return nil
		})
		if err != nil {
			return "", errs.Storage(err, "failed to hash product data")
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	for _, e := range entries {
		io.WriteString(h, e.name)
		f, err := os.Open(e.path)
		if err != nil {
			return "", errs.Storage(err, "failed to hash %q", e.path)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", errs.Storage(err, "failed to hash %q", e.path)
		}
	}
	return algorithm + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// splitHash separates a stored hash into algorithm and digest. Values
// without a prefix predate prefixed hashes and are sha1.
func splitHash(stored string) (algorithm, digest string) {
	if i := strings.IndexByte(stored, ':'); i >= 0 {
		return stored[:i], stored[i+1:]
	}
	return "sha1", stored
}

// hashAlgorithmFor resolves the hash algorithm for a product type: the
// plug-in override when set, otherwise the archive default. "none" disables
// hashing.
func (a *Archive) hashAlgorithmFor(override string) string {
	if override != "" {
		return override
	}
	if a.cfg.HashAlgorithm != "" {
		return a.cfg.HashAlgorithm
	}
	return "md5"
}
