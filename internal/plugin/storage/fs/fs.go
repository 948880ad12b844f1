// Package fs implements product data storage on a local file system. Data
// enters through a work directory next to its final location, so the commit
// is a rename and readers never observe partial products.
package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/storage"
	"github.com/muninn-archive/muninn/internal/tempfiles"
)

func init() {
	storage.Register(storage.Plugin{Name: "fs", Loader: load})
}

type settings struct {
	Root        string `ini:"root"`
	UseSymlinks bool   `ini:"use_symlinks"`
}

func load(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	var s settings
	if err := cfg.DecodeSection("fs", &s); err != nil {
		return nil, err
	}
	if s.Root == "" {
		return nil, errs.Config("option \"root\" missing from section [fs]")
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, errs.Config("invalid archive root %q: %v", s.Root, err)
	}
	return &backend{root: root, useSymlinks: s.UseSymlinks}, nil
}

type backend struct {
	root        string
	useSymlinks bool
}

func (b *backend) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return errs.Storage(err, "failed to create archive root %q", b.root)
	}
	return nil
}

func (b *backend) Exists(ctx context.Context) (bool, error) {
	info, err := os.Stat(b.root)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errs.Storage(err, "failed to stat archive root %q", b.root)
	}
	return info.IsDir(), nil
}

func (b *backend) Destroy(ctx context.Context) error {
	if err := os.RemoveAll(b.root); err != nil {
		return errs.Storage(err, "failed to remove archive root %q", b.root)
	}
	return nil
}

func (b *backend) Put(ctx context.Context, paths []string, archivePath string, props properties.Properties, opts storage.PutOptions) error {
	dstDir := filepath.Join(b.root, filepath.FromSlash(archivePath))
	if opts.InPlace {
		return b.verifyInPlace(paths, dstDir, props, opts)
	}

	work, err := tempfiles.CreateDir(dstDir, ".store-")
	if err != nil {
		return errs.Storage(err, "failed to stage product data")
	}
	defer os.RemoveAll(work)

	entry := work
	if opts.UseEnclosingDirectory {
		entry = filepath.Join(work, props.PhysicalName())
		if err := os.Mkdir(entry, 0o755); err != nil {
			return errs.Storage(err, "failed to stage product data")
		}
	}
	for _, path := range paths {
		target := filepath.Join(entry, filepath.Base(path))
		if !opts.UseEnclosingDirectory {
			if len(paths) != 1 {
				return errs.State("multi-file product requires an enclosing directory")
			}
			target = filepath.Join(work, props.PhysicalName())
		}
		if opts.UseSymlinks || b.useSymlinks {
			if err := b.symlink(path, target); err != nil {
				return err
			}
		} else if err := copyPath(path, target); err != nil {
			return errs.Storage(err, "failed to copy %q", path)
		}
	}

	src := entry
	if !opts.UseEnclosingDirectory {
		src = filepath.Join(work, props.PhysicalName())
	}
	if _, err := tempfiles.Commit(src, dstDir); err != nil {
		return &errs.StorageError{Message: "failed to store product data", AnythingStored: true, Err: err}
	}
	return nil
}

// symlink links target to src, using a relative link when src is inside the
// archive root.
func (b *backend) symlink(src, target string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return errs.Storage(err, "failed to link %q", src)
	}
	link := abs
	if strings.HasPrefix(abs, b.root+string(os.PathSeparator)) {
		if rel, err := filepath.Rel(filepath.Dir(target), abs); err == nil {
			link = rel
		}
	}
	if err := os.Symlink(link, target); err != nil {
		return errs.Storage(err, "failed to link %q", src)
	}
	return nil
}

func (b *backend) verifyInPlace(paths []string, dstDir string, props properties.Properties, opts storage.PutOptions) error {
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return errs.Storage(err, "invalid path %q", path)
		}
		want := filepath.Join(dstDir, filepath.Base(abs))
		if opts.UseEnclosingDirectory {
			want = filepath.Join(dstDir, props.PhysicalName(), filepath.Base(abs))
		} else if filepath.Base(abs) != props.PhysicalName() {
			return errs.State("in-place product %q does not match physical name %q", abs, props.PhysicalName())
		}
		if abs != want {
			return errs.State("product data %q is not at its archive location %q", abs, want)
		}
	}
	return nil
}

func (b *backend) Get(ctx context.Context, archivePath string, props properties.Properties, targetDir string, useEnclosingDirectory bool) error {
	entry := b.entryPath(archivePath, props)
	if _, err := os.Lstat(entry); err != nil {
		return errs.Storage(err, "product data %q not available", entry)
	}
	if useEnclosingDirectory {
		entries, err := os.ReadDir(entry)
		if err != nil {
			return errs.Storage(err, "failed to read %q", entry)
		}
		for _, e := range entries {
			if err := copyPath(filepath.Join(entry, e.Name()), filepath.Join(targetDir, e.Name())); err != nil {
				return errs.Storage(err, "failed to retrieve %q", entry)
			}
		}
		return nil
	}
	if err := copyPath(entry, filepath.Join(targetDir, props.PhysicalName())); err != nil {
		return errs.Storage(err, "failed to retrieve %q", entry)
	}
	return nil
}

func (b *backend) Delete(ctx context.Context, archivePath string, props properties.Properties) error {
	entry := b.entryPath(archivePath, props)
	if _, err := os.Lstat(entry); os.IsNotExist(err) {
		return nil
	}
	// Rename into a work directory first so readers never see a half
	// removed product.
	work, err := tempfiles.CreateDir(filepath.Dir(entry), ".remove-")
	if err != nil {
		return errs.Storage(err, "failed to remove %q", entry)
	}
	defer os.RemoveAll(work)
	if err := os.Rename(entry, filepath.Join(work, filepath.Base(entry))); err != nil {
		return errs.Storage(err, "failed to remove %q", entry)
	}
	b.pruneEmptyDirs(filepath.Dir(entry))
	return nil
}

// pruneEmptyDirs removes now-empty directories up to the archive root.
func (b *backend) pruneEmptyDirs(dir string) {
	for dir != b.root && strings.HasPrefix(dir, b.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (b *backend) Move(ctx context.Context, props properties.Properties, oldPath, newPath string) error {
	src := b.entryPath(oldPath, props)
	dstDir := filepath.Join(b.root, filepath.FromSlash(newPath))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return errs.Storage(err, "failed to move %q", src)
	}
	if err := os.Rename(src, filepath.Join(dstDir, props.PhysicalName())); err != nil {
		return errs.Storage(err, "failed to move %q", src)
	}
	b.pruneEmptyDirs(filepath.Dir(src))
	return nil
}

func (b *backend) Size(ctx context.Context, archivePath string, props properties.Properties) (int64, error) {
	entry := b.entryPath(archivePath, props)
	var total int64
	err := filepath.Walk(entry, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, errs.Storage(err, "failed to size %q", entry)
	}
	return total, nil
}

func (b *backend) CurrentArchivePath(ctx context.Context, paths []string) (string, error) {
	var archivePath string
	for i, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", errs.Storage(err, "invalid path %q", path)
		}
		rel, err := filepath.Rel(b.root, filepath.Dir(abs))
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", errs.State("path %q is not inside the archive root %q", abs, b.root)
		}
		if rel == "." {
			rel = ""
		}
		if i == 0 {
			archivePath = rel
		} else if rel != archivePath {
			return "", errs.State("product files span multiple directories")
		}
	}
	return filepath.ToSlash(archivePath), nil
}

func (b *backend) ProductPath(archivePath string, props properties.Properties) string {
	return b.entryPath(archivePath, props)
}

func (b *backend) entryPath(archivePath string, props properties.Properties) string {
	return filepath.Join(b.root, filepath.FromSlash(archivePath), props.PhysicalName())
}

// copyPath copies a file, symlink, or directory tree.
func copyPath(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		resolved, err := filepath.EvalSymlinks(src)
		if err != nil {
			return err
		}
		return copyPath(resolved, dst)
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyPath(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
