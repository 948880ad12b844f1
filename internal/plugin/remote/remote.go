// Package remotes implements the pull transports for remote_url: http and
// https downloads with basic or oauth2 credentials, file copies, and s3
// object fetches.
package remotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
	"github.com/muninn-archive/muninn/internal/registry/remote"
)

func init() {
	remote.Register(remote.Plugin{Name: "http", Backend: &httpBackend{scheme: "http"}})
	remote.Register(remote.Plugin{Name: "https", Backend: &httpBackend{scheme: "https"}})
	remote.Register(remote.Plugin{Name: "file", Backend: fileBackend{}})
	remote.Register(remote.Plugin{Name: "s3", Backend: s3Backend{}})
}

type httpBackend struct {
	scheme string
	client *http.Client
}

func (b *httpBackend) Identify(u string) bool {
	return strings.HasPrefix(u, b.scheme+"://")
}

func (b *httpBackend) Pull(ctx context.Context, creds config.Credentials, props properties.Properties, targetDir string) ([]string, error) {
	rawURL := props.RemoteURL()
	resp, err := b.fetch(ctx, rawURL, creds)
	if err != nil {
		// One retry on timeout; transient gateway stalls are common on
		// large product downloads.
		var nerr interface{ Timeout() bool }
		if errors.As(err, &nerr) && nerr.Timeout() {
			log.Warn("download timed out, retrying once", "url", rawURL)
			resp, err = b.fetch(ctx, rawURL, creds)
		}
		if err != nil {
			return nil, errs.Storage(err, "failed to download %q", rawURL)
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Storage(nil, "failed to download %q: status %s", rawURL, resp.Status)
	}

	name := downloadFilename(resp, rawURL, props)
	target := filepath.Join(targetDir, name)
	f, err := os.Create(target)
	if err != nil {
		return nil, errs.Storage(err, "failed to download %q", rawURL)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(target)
		return nil, errs.Storage(err, "failed to download %q", rawURL)
	}
	if err := f.Close(); err != nil {
		return nil, errs.Storage(err, "failed to download %q", rawURL)
	}
	return []string{target}, nil
}

func (b *httpBackend) fetch(ctx context.Context, rawURL string, creds config.Credentials) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if cred, ok := creds.ForURL(rawURL); ok {
		if cred.AuthType == "oauth2" {
			token, err := fetchToken(ctx, cred)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			req.SetBasicAuth(cred.Username, cred.Password)
		}
	}
	client := b.client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return client.Do(req)
}

// fetchToken runs the configured oauth2 grant against the token endpoint.
func fetchToken(ctx context.Context, cred config.Credential) (string, error) {
	form := url.Values{}
	grant := cred.EffectiveGrantType()
	if grant == "" {
		grant = "password"
	}
	form.Set("grant_type", grant)
	if grant == "password" {
		form.Set("username", cred.Username)
		form.Set("password", cred.Password)
	}
	form.Set("client_id", cred.ClientID)
	if cred.ClientSecret != "" {
		form.Set("client_secret", cred.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token")
	}
	return payload.AccessToken, nil
}

// downloadFilename takes the name from the Content-Disposition header, then
// the URL path, then the catalogue physical name.
func downloadFilename(resp *http.Response, rawURL string, props properties.Properties) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := path.Base(params["filename"]); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return props.PhysicalName()
}

type fileBackend struct{}

func (fileBackend) Identify(u string) bool { return strings.HasPrefix(u, "file://") }

func (fileBackend) Pull(ctx context.Context, creds config.Credentials, props properties.Properties, targetDir string) ([]string, error) {
	src := strings.TrimPrefix(props.RemoteURL(), "file://")
	info, err := os.Stat(src)
	if err != nil {
		return nil, errs.Storage(err, "failed to read %q", src)
	}
	target := filepath.Join(targetDir, filepath.Base(src))
	if info.IsDir() {
		if err := copyTree(src, target); err != nil {
			return nil, errs.Storage(err, "failed to copy %q", src)
		}
		return []string{target}, nil
	}
	if err := copyFile(src, target); err != nil {
		return nil, errs.Storage(err, "failed to copy %q", src)
	}
	return []string{target}, nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(walked string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, walked)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(walked, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type s3Backend struct{}

func (s3Backend) Identify(u string) bool { return strings.HasPrefix(u, "s3://") }

func (s3Backend) Pull(ctx context.Context, creds config.Credentials, props properties.Properties, targetDir string) ([]string, error) {
	rawURL := props.RemoteURL()
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || u.Path == "" {
		return nil, errs.Storage(err, "invalid s3 url %q", rawURL)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")

	var loadOpts []func(*awsconfig.LoadOptions) error
	cred, withCred := creds.ForURL(rawURL)
	if withCred && cred.AuthType == "S3" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cred.AccessKey, cred.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errs.Storage(err, "failed to configure s3 client")
	}
	client := awss3.NewFromConfig(awsCfg)
	out, err := client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errs.Storage(err, "failed to download %q", rawURL)
	}
	defer out.Body.Close()

	target := filepath.Join(targetDir, path.Base(key))
	f, err := os.Create(target)
	if err != nil {
		return nil, errs.Storage(err, "failed to download %q", rawURL)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return nil, errs.Storage(err, "failed to download %q", rawURL)
	}
	if err := f.Close(); err != nil {
		return nil, errs.Storage(err, "failed to download %q", rawURL)
	}
	return []string{target}, nil
}
