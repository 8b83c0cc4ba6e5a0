// Package gcs mirrors artifact snapshots to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config selects the bucket and an optional key prefix.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// objectWriter opens a writer for bucket/key. Swapped out in tests.
type objectWriter func(ctx context.Context, bucket, key, contentType string) io.WriteCloser

// BlobStore writes objects to a GCS bucket.
type BlobStore struct {
	bucket string
	prefix string
	open   objectWriter
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newStore(cfg, func(ctx context.Context, bucket, key, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType
		return w
	})
}

func newStore(cfg Config, open objectWriter) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		open:   open,
	}, nil
}

// PutObject uploads r under the configured prefix and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", fmt.Errorf("path is required")
	}
	key := name
	if s.prefix != "" {
		key = path.Join(s.prefix, name)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w := s.open(ctx, s.bucket, key, contentType)
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
