// Package storage defines the blob abstraction used to mirror artifact
// snapshots to object storage.
package storage

import (
	"context"
	"io"
)

// BlobStore persists an object and returns a URI for it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
