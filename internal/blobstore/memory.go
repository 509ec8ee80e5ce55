package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"casefs/internal/casefs"
)

type memoryObject struct {
	data        []byte
	contentType string
	modifiedAt  time.Time
}

// MemoryStore is an in-memory implementation of the BlobStore interface.
// It keeps every object in a map, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	name          string
	signer        *URLSigner
	publicBaseURL string
	now           func() time.Time
	objects       map[string]memoryObject
	mu            sync.RWMutex
}

// NewMemoryStore creates a new in-memory blob store with the given name.
func NewMemoryStore(name string, signer *URLSigner, publicBaseURL string) *MemoryStore {
	return &MemoryStore{
		name:          name,
		signer:        signer,
		publicBaseURL: publicBaseURL,
		now:           time.Now,
		objects:       make(map[string]memoryObject),
	}
}

// Put stores size bytes from r under key.
func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = memoryObject{data: data, contentType: contentType, modifiedAt: m.now()}
	return nil
}

// Get writes the object under key to w.
func (m *MemoryStore) Get(ctx context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", key, casefs.ErrBlobNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(obj.data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Delete removes the object under key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%s: %w", key, casefs.ErrBlobNotFound)
	}
	delete(m.objects, key)
	return nil
}

// Copy duplicates srcKey to dstKey.
func (m *MemoryStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[srcKey]
	if !ok {
		return fmt.Errorf("%s: %w", srcKey, casefs.ErrBlobNotFound)
	}
	m.objects[dstKey] = memoryObject{
		data:        bytes.Clone(obj.data),
		contentType: obj.contentType,
		modifiedAt:  m.now(),
	}
	return nil
}

// SignedURL returns a signed URL for key. Existence is not checked.
func (m *MemoryStore) SignedURL(ctx context.Context, key string, ttl time.Duration, opts casefs.SignedURLOptions) (string, error) {
	return m.signer.Sign(key, m.now().Add(ttl), opts), nil
}

// PublicURL returns the unsigned URL of key, or "" without a public base URL.
func (m *MemoryStore) PublicURL(key string) string {
	return joinURL(m.publicBaseURL, key)
}

// List returns the objects whose key starts with prefix, sorted by key.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]casefs.BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var infos []casefs.BlobInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, casefs.BlobInfo{Key: key, Size: int64(len(obj.data)), ModifiedAt: obj.modifiedAt})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Has reports whether an object exists under key.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// SetModifiedAt backdates an object; used to exercise grace periods.
func (m *MemoryStore) SetModifiedAt(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[key]; ok {
		obj.modifiedAt = t
		m.objects[key] = obj
	}
}

// Compile-time check that MemoryStore implements casefs.BlobStore interface
var _ casefs.BlobStore = (*MemoryStore)(nil)
