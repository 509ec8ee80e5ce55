package casefs

import (
	"context"
	"io"
	"time"
)

// BlobStore is the flat object store holding file bytes under storage keys.
// All transfers stream through io.Reader/io.Writer so large files are never
// held in memory by the caller. Missing keys surface as ErrBlobNotFound.
type BlobStore interface {
	// Put stores size bytes read from r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get writes the object stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// Delete removes the object under key.
	Delete(ctx context.Context, key string) error

	// Copy duplicates the object at srcKey to dstKey.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// SignedURL returns a time-limited URL granting read access to key.
	SignedURL(ctx context.Context, key string, ttl time.Duration, opts SignedURLOptions) (string, error)

	// PublicURL returns the unsigned URL of key. It does not check existence.
	PublicURL(key string) string

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)

	// ValidateSetup verifies that the store is reachable and configured.
	ValidateSetup(ctx context.Context) error
}

// SignedURLOptions tunes the response served through a signed URL.
type SignedURLOptions struct {
	// Download asks the store to serve the object as an attachment.
	Download bool
	// Filename is the attachment name offered to the client.
	Filename string
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Key        string
	Size       int64
	ModifiedAt time.Time
}
