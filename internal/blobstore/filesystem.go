package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"casefs/internal/casefs"
)

// FileSystemStore is a filesystem-based implementation of the BlobStore interface.
// Each storage key maps to a file below root, so the directory tree mirrors
// the key layout:
//
//	<root>/
//	  <owner>/
//	    <path>/
//	      <storage filename>
type FileSystemStore struct {
	name          string
	root          string
	signer        *URLSigner
	publicBaseURL string
	now           func() time.Time
}

// NewFileSystemStore creates a new filesystem blob store rooted at the given path.
func NewFileSystemStore(name, root string, signer *URLSigner, publicBaseURL string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}

	return &FileSystemStore{
		name:          name,
		root:          root,
		signer:        signer,
		publicBaseURL: publicBaseURL,
		now:           time.Now,
	}, nil
}

// objectPath maps key to a path below root, refusing keys that would escape it.
func (v *FileSystemStore) objectPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("invalid blob key %q", key)
		}
	}
	return filepath.Join(v.root, filepath.FromSlash(key)), nil
}

// Put stores size bytes from r under key, replacing any existing object.
func (v *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	destPath, err := v.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return v.writeFile(destPath, r, size)
}

// Get writes the object under key to w.
func (v *FileSystemStore) Get(ctx context.Context, key string, w io.Writer) error {
	srcPath, err := v.objectPath(key)
	if err != nil {
		return err
	}
	return v.readFile(srcPath, key, w)
}

// Delete removes the object under key.
func (v *FileSystemStore) Delete(ctx context.Context, key string) error {
	p, err := v.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, casefs.ErrBlobNotFound)
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Copy duplicates srcKey to dstKey.
func (v *FileSystemStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	srcPath, err := v.objectPath(srcKey)
	if err != nil {
		return err
	}
	destPath, err := v.objectPath(dstKey)
	if err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", srcKey, casefs.ErrBlobNotFound)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat blob: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return v.writeFile(destPath, src, info.Size())
}

// SignedURL returns a signed URL for key. Existence is not checked.
func (v *FileSystemStore) SignedURL(ctx context.Context, key string, ttl time.Duration, opts casefs.SignedURLOptions) (string, error) {
	if _, err := v.objectPath(key); err != nil {
		return "", err
	}
	return v.signer.Sign(key, v.now().Add(ttl), opts), nil
}

// PublicURL returns the unsigned URL of key, or "" without a public base URL.
func (v *FileSystemStore) PublicURL(key string) string {
	return joinURL(v.publicBaseURL, key)
}

// List walks root and returns the objects whose key starts with prefix.
func (v *FileSystemStore) List(ctx context.Context, prefix string) ([]casefs.BlobInfo, error) {
	var infos []casefs.BlobInfo
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, casefs.BlobInfo{Key: key, Size: info.Size(), ModifiedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}
	return infos, nil
}

// ValidateSetup verifies that the blob root is an accessible directory.
func (v *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("blob root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root is not a directory: %s", v.root)
	}
	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, io.LimitReader(r, expectedSize+1))
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// readFile reads from the specified path and writes to w.
func (v *FileSystemStore) readFile(srcPath, key string, w io.Writer) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, casefs.ErrBlobNotFound)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	return nil
}

// Compile-time check that FileSystemStore implements casefs.BlobStore interface
var _ casefs.BlobStore = (*FileSystemStore)(nil)
