// Package swift implements product data storage on OpenStack Swift object
// storage. Product entries map onto object names inside one container.
package swift

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-goose/goose/v5/client"
	gooseerrors "github.com/go-goose/goose/v5/errors"
	"github.com/go-goose/goose/v5/identity"
	"github.com/go-goose/goose/v5/swift"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/storage"
)

func init() {
	storage.Register(storage.Plugin{Name: "swift", Loader: load})
}

type settings struct {
	AuthURL    string `ini:"auth_url"`
	Username   string `ini:"username"`
	Password   string `ini:"password"`
	TenantName string `ini:"tenant_name"`
	Region     string `ini:"region"`
	Container  string `ini:"container"`
}

func load(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	var s settings
	if err := cfg.DecodeSection("swift", &s); err != nil {
		return nil, err
	}
	if s.Container == "" {
		return nil, errs.Config("option \"container\" missing from section [swift]")
	}
	if s.AuthURL == "" {
		return nil, errs.Config("option \"auth_url\" missing from section [swift]")
	}
	creds := &identity.Credentials{
		URL:        s.AuthURL,
		User:       s.Username,
		Secrets:    s.Password,
		TenantName: s.TenantName,
		Region:     s.Region,
	}
	authClient := client.NewClient(creds, identity.AuthUserPass, nil)
	return &backend{client: swift.New(authClient), container: s.Container}, nil
}

type backend struct {
	client    *swift.Client
	container string
}

func entryName(archivePath string, props properties.Properties) string {
	return path.Join(archivePath, props.PhysicalName())
}

func (b *backend) Prepare(ctx context.Context) error {
	if err := b.client.CreateContainer(b.container, swift.Private); err != nil {
		if gooseerrors.IsDuplicateValue(err) {
			return nil
		}
		return errs.Storage(err, "failed to create container %q", b.container)
	}
	return nil
}

func (b *backend) Exists(ctx context.Context) (bool, error) {
	if _, err := b.client.List(b.container, "", "", "", 1); err != nil {
		if gooseerrors.IsNotFound(err) {
			return false, nil
		}
		return false, errs.Storage(err, "failed to access container %q", b.container)
	}
	return true, nil
}

func (b *backend) Destroy(ctx context.Context) error {
	contents, err := b.list("")
	if err != nil {
		return err
	}
	for _, obj := range contents {
		if err := b.client.DeleteObject(b.container, obj.Name); err != nil {
			return errs.Storage(err, "failed to delete object %q", obj.Name)
		}
	}
	if err := b.client.DeleteContainer(b.container); err != nil && !gooseerrors.IsNotFound(err) {
		return errs.Storage(err, "failed to delete container %q", b.container)
	}
	return nil
}

func (b *backend) Put(ctx context.Context, paths []string, archivePath string, props properties.Properties, opts storage.PutOptions) error {
	if opts.InPlace {
		return errs.State("storage backend \"swift\" cannot ingest in place")
	}
	entry := entryName(archivePath, props)
	stored := false
	for _, p := range paths {
		err := filepath.Walk(p, func(walked string, info os.FileInfo, err error) error {
			if err != nil || !info.Mode().IsRegular() {
				return err
			}
			name := entry
			if opts.UseEnclosingDirectory {
				rel, err := filepath.Rel(filepath.Dir(p), walked)
				if err != nil {
					return err
				}
				name = path.Join(entry, filepath.ToSlash(rel))
			}
			f, err := os.Open(walked)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := b.client.PutReader(b.container, name, f, info.Size()); err != nil {
				return err
			}
			stored = true
			return nil
		})
		if err != nil {
			return &errs.StorageError{Message: "failed to store product data", AnythingStored: stored, Err: err}
		}
	}
	return nil
}

func (b *backend) Get(ctx context.Context, archivePath string, props properties.Properties, targetDir string, useEnclosingDirectory bool) error {
	entry := entryName(archivePath, props)
	if !useEnclosingDirectory {
		return b.download(entry, filepath.Join(targetDir, props.PhysicalName()))
	}
	contents, err := b.list(entry + "/")
	if err != nil {
		return err
	}
	if len(contents) == 0 {
		return errs.Storage(nil, "product data %q not available", entry)
	}
	for _, obj := range contents {
		rel := strings.TrimPrefix(obj.Name, entry+"/")
		target := filepath.Join(targetDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errs.Storage(err, "failed to retrieve %q", entry)
		}
		if err := b.download(obj.Name, target); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) download(name, target string) error {
	rc, _, err := b.client.GetReader(b.container, name)
	if err != nil {
		return errs.Storage(err, "failed to retrieve object %q", name)
	}
	defer rc.Close()
	f, err := os.Create(target)
	if err != nil {
		return errs.Storage(err, "failed to retrieve object %q", name)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return errs.Storage(err, "failed to retrieve object %q", name)
	}
	return f.Close()
}

func (b *backend) Delete(ctx context.Context, archivePath string, props properties.Properties) error {
	objs, err := b.entryObjects(entryName(archivePath, props))
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := b.client.DeleteObject(b.container, obj.Name); err != nil && !gooseerrors.IsNotFound(err) {
			return errs.Storage(err, "failed to delete object %q", obj.Name)
		}
	}
	return nil
}

func (b *backend) Move(ctx context.Context, props properties.Properties, oldPath, newPath string) error {
	oldEntry := entryName(oldPath, props)
	newEntry := entryName(newPath, props)
	objs, err := b.entryObjects(oldEntry)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		data, err := b.client.GetObject(b.container, obj.Name)
		if err != nil {
			return errs.Storage(err, "failed to move object %q", obj.Name)
		}
		dst := newEntry + strings.TrimPrefix(obj.Name, oldEntry)
		if err := b.client.PutReader(b.container, dst, bytes.NewReader(data), int64(len(data))); err != nil {
			return errs.Storage(err, "failed to move object %q", obj.Name)
		}
		if err := b.client.DeleteObject(b.container, obj.Name); err != nil {
			return errs.Storage(err, "failed to move object %q", obj.Name)
		}
	}
	return nil
}

func (b *backend) Size(ctx context.Context, archivePath string, props properties.Properties) (int64, error) {
	objs, err := b.entryObjects(entryName(archivePath, props))
	if err != nil {
		return 0, err
	}
	var total int64
	for _, obj := range objs {
		total += int64(obj.LengthBytes)
	}
	return total, nil
}

func (b *backend) CurrentArchivePath(ctx context.Context, paths []string) (string, error) {
	return "", errs.State("storage backend \"swift\" cannot ingest in place")
}

func (b *backend) ProductPath(archivePath string, props properties.Properties) string {
	return b.container + "/" + entryName(archivePath, props)
}

// entryObjects lists the objects of one product entry: the exact name for a
// plain product plus everything below it for a directory product.
func (b *backend) entryObjects(entry string) ([]swift.ContainerContents, error) {
	objs, err := b.list(entry + "/")
	if err != nil {
		return nil, err
	}
	exact, err := b.list(entry)
	if err != nil {
		return nil, err
	}
	for _, obj := range exact {
		if obj.Name == entry {
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

func (b *backend) list(prefix string) ([]swift.ContainerContents, error) {
	contents, err := b.client.List(b.container, prefix, "", "", 0)
	if err != nil {
		if gooseerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, errs.Storage(err, "failed to list objects under %q", prefix)
	}
	return contents, nil
}
