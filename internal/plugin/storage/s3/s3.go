// Package s3 implements product data storage on S3 compatible object
// stores. Product entries map onto object keys under an optional bucket
// prefix; directory products become one object per file.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/storage"
)

func init() {
	storage.Register(storage.Plugin{Name: "s3", Loader: load})
}

type settings struct {
	Bucket          string `ini:"bucket"`
	Prefix          string `ini:"prefix"`
	Host            string `ini:"host"`
	Port            int    `ini:"port"`
	Region          string `ini:"region"`
	AccessKey       string `ini:"access_key"`
	SecretAccessKey string `ini:"secret_access_key"`
	PathStyle       bool   `ini:"path_style"`
}

// endpointURL builds the custom endpoint from host and port. A host without
// a scheme gets https.
func endpointURL(host string, port int) string {
	if host == "" {
		return ""
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	if port != 0 {
		host = fmt.Sprintf("%s:%d", host, port)
	}
	return host
}

func load(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	var s settings
	if err := cfg.DecodeSection("s3", &s); err != nil {
		return nil, err
	}
	if s.Bucket == "" {
		return nil, errs.Config("option \"bucket\" missing from section [s3]")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if s.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(s.Region))
	}
	if s.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errs.Storage(err, "failed to configure s3 client")
	}
	endpoint := endpointURL(s.Host, s.Port)
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = s.PathStyle
	})
	return &backend{client: client, bucket: s.Bucket, prefix: strings.Trim(s.Prefix, "/")}, nil
}

type backend struct {
	client *awss3.Client
	bucket string
	prefix string
}

// entryKey is the object key (or key prefix for directory products) of a
// product entry.
func (b *backend) entryKey(archivePath string, props properties.Properties) string {
	return b.key(path.Join(archivePath, props.PhysicalName()))
}

func (b *backend) key(rel string) string {
	if b.prefix == "" {
		return rel
	}
	return path.Join(b.prefix, rel)
}

func (b *backend) Prepare(ctx context.Context) error {
	if ok, _ := b.Exists(ctx); ok {
		return nil
	}
	if _, err := b.client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return errs.Storage(err, "failed to create bucket %q", b.bucket)
	}
	return nil
}

func (b *backend) Exists(ctx context.Context) (bool, error) {
	_, err := b.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err == nil, nil
}

func (b *backend) Destroy(ctx context.Context) error {
	keys, err := b.list(ctx, b.prefix)
	if err != nil {
		return err
	}
	for key := range keys {
		if err := b.deleteObject(ctx, key); err != nil {
			return err
		}
	}
	if b.prefix != "" {
		// A shared bucket stays; only the archive's prefix is cleared.
		return nil
	}
	if _, err := b.client.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return errs.Storage(err, "failed to delete bucket %q", b.bucket)
	}
	return nil
}

func (b *backend) Put(ctx context.Context, paths []string, archivePath string, props properties.Properties, opts storage.PutOptions) error {
	if opts.InPlace {
		return errs.State("storage backend \"s3\" cannot ingest in place")
	}
	entry := b.entryKey(archivePath, props)
	stored := false
	for _, p := range paths {
		err := filepath.Walk(p, func(walked string, info os.FileInfo, err error) error {
			if err != nil || !info.Mode().IsRegular() {
				return err
			}
			key := entry
			if opts.UseEnclosingDirectory {
				rel, err := filepath.Rel(filepath.Dir(p), walked)
				if err != nil {
					return err
				}
				key = path.Join(entry, filepath.ToSlash(rel))
			}
			if err := b.upload(ctx, key, walked); err != nil {
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

func (b *backend) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}

func (b *backend) Get(ctx context.Context, archivePath string, props properties.Properties, targetDir string, useEnclosingDirectory bool) error {
	entry := b.entryKey(archivePath, props)
	if !useEnclosingDirectory {
		return b.download(ctx, entry, filepath.Join(targetDir, props.PhysicalName()))
	}
	keys, err := b.list(ctx, entry+"/")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return errs.Storage(nil, "product data %q not available", entry)
	}
	for key := range keys {
		rel := strings.TrimPrefix(key, entry+"/")
		target := filepath.Join(targetDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errs.Storage(err, "failed to retrieve %q", entry)
		}
		if err := b.download(ctx, key, target); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) download(ctx context.Context, key, target string) error {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errs.Storage(err, "failed to retrieve object %q", key)
	}
	defer out.Body.Close()
	f, err := os.Create(target)
	if err != nil {
		return errs.Storage(err, "failed to retrieve object %q", key)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return errs.Storage(err, "failed to retrieve object %q", key)
	}
	return f.Close()
}

func (b *backend) Delete(ctx context.Context, archivePath string, props properties.Properties) error {
	entry := b.entryKey(archivePath, props)
	keys, err := b.entryObjects(ctx, entry)
	if err != nil {
		return err
	}
	for key := range keys {
		if err := b.deleteObject(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) Move(ctx context.Context, props properties.Properties, oldPath, newPath string) error {
	oldEntry := b.entryKey(oldPath, props)
	newEntry := b.entryKey(newPath, props)
	keys, err := b.entryObjects(ctx, oldEntry)
	if err != nil {
		return err
	}
	for key := range keys {
		dst := newEntry + strings.TrimPrefix(key, oldEntry)
		_, err := b.client.CopyObject(ctx, &awss3.CopyObjectInput{
			Bucket:     aws.String(b.bucket),
			CopySource: aws.String(b.bucket + "/" + key),
			Key:        aws.String(dst),
		})
		if err != nil {
			return errs.Storage(err, "failed to move object %q", key)
		}
	}
	for key := range keys {
		if err := b.deleteObject(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) Size(ctx context.Context, archivePath string, props properties.Properties) (int64, error) {
	entry := b.entryKey(archivePath, props)
	keys, err := b.entryObjects(ctx, entry)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, size := range keys {
		total += size
	}
	return total, nil
}

func (b *backend) CurrentArchivePath(ctx context.Context, paths []string) (string, error) {
	return "", errs.State("storage backend \"s3\" cannot ingest in place")
}

func (b *backend) ProductPath(archivePath string, props properties.Properties) string {
	return fmt.Sprintf("s3://%s/%s", b.bucket, b.entryKey(archivePath, props))
}

// entryObjects lists the objects of one product entry: the exact key for a
// plain product, everything below it for a directory product.
func (b *backend) entryObjects(ctx context.Context, entry string) (map[string]int64, error) {
	keys, err := b.list(ctx, entry+"/")
	if err != nil {
		return nil, err
	}
	exact, err := b.list(ctx, entry)
	if err != nil {
		return nil, err
	}
	for key, size := range exact {
		if key == entry {
			keys[key] = size
		}
	}
	return keys, nil
}

func (b *backend) list(ctx context.Context, prefix string) (map[string]int64, error) {
	out := map[string]int64{}
	pager := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errs.Storage(err, "failed to list objects under %q", prefix)
		}
		for _, obj := range page.Contents {
			out[aws.ToString(obj.Key)] = aws.ToInt64(obj.Size)
		}
	}
	return out, nil
}

func (b *backend) deleteObject(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errs.Storage(err, "failed to delete object %q", key)
	}
	return nil
}
