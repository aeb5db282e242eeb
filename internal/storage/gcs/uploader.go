// Package gcs uploads harvester artifacts to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the target bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Uploader writes artifacts to a configured GCS bucket.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed uploader.
func New(client *storage.Client, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject uploads r under the configured prefix and returns a gs:// URI.
func (u *Uploader) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	object := name
	if u.prefix != "" {
		object = path.Join(u.prefix, name)
	}
	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, object), nil
}

// UploadFiles uploads the named files from dir. Files that do not exist are
// skipped; the URIs of uploaded objects are returned in input order.
func (u *Uploader) UploadFiles(ctx context.Context, dir string, names []string) ([]string, error) {
	var uris []string
	for _, name := range names {
		uri, err := u.uploadFile(ctx, filepath.Join(dir, name), name)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func (u *Uploader) uploadFile(ctx context.Context, src, name string) (string, error) {
	f, err := os.Open(src) // #nosec G304 -- artifact names are fixed constants.
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer func() {
		_ = f.Close()
	}()
	uri, err := u.PutObject(ctx, name, contentTypeFor(name), f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return uri, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
