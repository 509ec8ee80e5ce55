package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"casefs/internal/blobstore"
	"casefs/internal/casefs"
)

// TestSigningSecret and TestBlobBaseURL configure the signer of NewTestBlobStore.
const (
	TestSigningSecret = "test-secret"
	TestBlobBaseURL   = "https://blobs.test"
)

// NewTestBlobStore creates a new in-memory blob store for testing.
func NewTestBlobStore() *blobstore.MemoryStore {
	return blobstore.NewMemoryStore("test-blobs", blobstore.NewURLSigner(TestSigningSecret, TestBlobBaseURL), "")
}

// RecordingBlobStore wraps a BlobStore, counting calls per method and
// failing selected methods on demand.
type RecordingBlobStore struct {
	casefs.BlobStore

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
}

// NewRecordingBlobStore wraps store.
func NewRecordingBlobStore(store casefs.BlobStore) *RecordingBlobStore {
	return &RecordingBlobStore{
		BlobStore: store,
		calls:     make(map[string]int),
		failures:  make(map[string]error),
	}
}

// Fail makes method ("Put", "Get", "Delete", "Copy", "SignedURL", "List")
// return err until cleared with a nil err.
func (r *RecordingBlobStore) Fail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, method)
		return
	}
	r.failures[method] = err
}

// Calls returns how many times method was invoked.
func (r *RecordingBlobStore) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (r *RecordingBlobStore) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

func (r *RecordingBlobStore) record(method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[method]++
	return r.failures[method]
}

func (r *RecordingBlobStore) Put(ctx context.Context, key string, rd io.Reader, size int64, contentType string) error {
	if err := r.record("Put"); err != nil {
		return err
	}
	return r.BlobStore.Put(ctx, key, rd, size, contentType)
}

func (r *RecordingBlobStore) Get(ctx context.Context, key string, w io.Writer) error {
	if err := r.record("Get"); err != nil {
		return err
	}
	return r.BlobStore.Get(ctx, key, w)
}

func (r *RecordingBlobStore) Delete(ctx context.Context, key string) error {
	if err := r.record("Delete"); err != nil {
		return err
	}
	return r.BlobStore.Delete(ctx, key)
}

func (r *RecordingBlobStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := r.record("Copy"); err != nil {
		return err
	}
	return r.BlobStore.Copy(ctx, srcKey, dstKey)
}

func (r *RecordingBlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration, opts casefs.SignedURLOptions) (string, error) {
	if err := r.record("SignedURL"); err != nil {
		return "", err
	}
	return r.BlobStore.SignedURL(ctx, key, ttl, opts)
}

func (r *RecordingBlobStore) List(ctx context.Context, prefix string) ([]casefs.BlobInfo, error) {
	if err := r.record("List"); err != nil {
		return nil, err
	}
	return r.BlobStore.List(ctx, prefix)
}

func (r *RecordingBlobStore) PublicURL(key string) string {
	r.record("PublicURL")
	return r.BlobStore.PublicURL(key)
}
