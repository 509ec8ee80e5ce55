package casefs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/gosimple/slug"
	"github.com/zeebo/blake3"

	"casefs/internal/model"
)

// UploadRequest carries one file to store.
type UploadRequest struct {
	OwnerID      string
	Path         string // target directory
	OriginalName string
	MimeType     string
	Size         int64
	Body         io.Reader
}

// Upload validates and stores a new file. The blob is written first and
// the row second; if the row cannot be recorded the blob is deleted again
// and the insert error is returned.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*model.File, error) {
	if err := requireOwner(req.OwnerID); err != nil {
		return nil, err
	}
	originalName := strings.TrimSpace(req.OriginalName)
	if err := s.validateUpload(originalName, req.MimeType, req.Size); err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, fmt.Errorf("%w: file content is required", ErrValidation)
	}

	folder, err := s.resolveFolder(ctx, req.OwnerID, req.Path)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := s.idgen.New()
	filename := storageFilename(now, id, originalName)
	key, err := StorageKey(req.OwnerID, folderPath(folder), filename)
	if err != nil {
		return nil, err
	}

	taken, err := s.database.FindFileByStorageKey(ctx, req.OwnerID, key)
	if err != nil {
		return nil, upstream("checking storage key", err)
	}
	if taken != nil {
		return nil, fmt.Errorf("storage key %q already in use: %w", key, ErrConflict)
	}

	hasher := blake3.New()
	if err := s.blobs.Put(ctx, key, io.TeeReader(req.Body, hasher), req.Size, req.MimeType); err != nil {
		return nil, upstream("uploading blob", err)
	}

	file := &model.File{
		ID:           id,
		OwnerID:      req.OwnerID,
		FolderID:     folderRef(folder),
		Filename:     filename,
		OriginalName: originalName,
		Path:         folderPath(folder),
		Size:         req.Size,
		MimeType:     req.MimeType,
		StorageKey:   key,
		PublicURL:    s.blobs.PublicURL(key),
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.database.InsertFile(ctx, file); err != nil {
		s.discardBlob(ctx, key, err)
		return nil, upstream("recording file", err)
	}

	s.logger.Info("file uploaded", "owner", req.OwnerID, "file", file.ID, "key", key, "size", req.Size)
	s.LogActivity(ctx, req.OwnerID, ActivityUpload, ItemFile, originalName, map[string]any{
		"path": file.Path,
		"size": file.Size,
	})
	return file, nil
}

// validateUpload checks an upload against the policy before any I/O.
func (s *Service) validateUpload(originalName, mimeType string, size int64) error {
	if err := validateDisplayName(originalName); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrValidation, size)
	}
	if size > s.policy.MaxUploadSize {
		return fmt.Errorf("%w: file is %d bytes, limit is %d", ErrValidation, size, s.policy.MaxUploadSize)
	}
	if !slices.Contains(s.policy.AllowedTypes, mimeType) {
		return fmt.Errorf("%w: file type %q is not allowed", ErrValidation, mimeType)
	}
	return nil
}

// validateDisplayName checks a user-facing file name. Display names may hold
// characters storage keys cannot, but never separators or control characters.
func validateDisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: file name is required", ErrValidation)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q is reserved", ErrValidation, name)
	}
	for _, r := range name {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("%w: file name %q contains %q", ErrValidation, name, r)
		}
	}
	return nil
}

// storageFilename builds a collision-resistant, key-safe filename:
// <unix millis>-<id fragment>-<slugged base><lowercased extension>.
// The fragment keeps uploads of one name in the same millisecond apart.
func storageFilename(now time.Time, id, originalName string) string {
	ext := path.Ext(originalName)
	base := slug.Make(strings.TrimSuffix(originalName, ext))
	if base == "" {
		base = "file"
	}
	ext = strings.ToLower(ext)
	if strings.Trim(ext, ".") != slug.Make(strings.Trim(ext, ".")) {
		ext = ""
	}
	return fmt.Sprintf("%d-%s-%s%s", now.UnixMilli(), idFragment(id), base, ext)
}

// idFragment returns up to eight lowercase alphanumerics of id.
func idFragment(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if b.Len() == 8 {
			break
		}
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "0"
	}
	return b.String()
}

// discardBlob is the compensating delete after a failed metadata write.
// Its failure is logged and never replaces the original error. When the
// write failed on a conflict another row may own key, so the blob is left
// for Reconcile.
func (s *Service) discardBlob(ctx context.Context, key string, cause error) {
	if errors.Is(cause, ErrConflict) {
		s.logger.Warn("storage key claimed by another file, blob kept", "key", key)
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, ErrBlobNotFound) {
		s.logger.Error("compensating blob delete failed", "key", key, "error", err)
		return
	}
	s.logger.Debug("compensating blob delete", "key", key)
}

// Delete removes a file's blob and then its row. If the blob cannot be
// deleted the row is kept and the error returned. A blob that is already
// gone does not block the delete.
func (s *Service) Delete(ctx context.Context, ownerID, fileID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	file, err := s.loadFile(ctx, ownerID, fileID)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, file.StorageKey); err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			return upstream("deleting blob", err)
		}
		s.logger.Warn("blob already missing", "file", file.ID, "key", file.StorageKey)
	}

	if err := s.database.DeleteFile(ctx, ownerID, file.ID); err != nil {
		return upstream("deleting file record", err)
	}

	s.logger.Info("file deleted", "owner", ownerID, "file", file.ID, "key", file.StorageKey)
	s.LogActivity(ctx, ownerID, ActivityDelete, ItemFile, file.OriginalName, map[string]any{"path": file.Path})
	return nil
}

// Rename changes a file's display name. The storage key is untouched.
func (s *Service) Rename(ctx context.Context, ownerID, fileID, newName string) (*model.File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	newName = strings.TrimSpace(newName)
	if err := validateDisplayName(newName); err != nil {
		return nil, err
	}

	file, err := s.loadFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.database.RenameFile(ctx, ownerID, file.ID, newName, now); err != nil {
		return nil, upstream("renaming file", err)
	}
	oldName := file.OriginalName
	file.OriginalName = newName
	file.UpdatedAt = now

	s.LogActivity(ctx, ownerID, ActivityRename, ItemFile, newName, map[string]any{"from": oldName, "to": newName})
	return file, nil
}

// Copy duplicates a file into destinationPath under the same storage
// filename. Display names are not checked for collisions, but a storage key
// already referenced by another row is a conflict.
func (s *Service) Copy(ctx context.Context, ownerID, fileID, destinationPath string) (*model.File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	file, err := s.loadFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolveFolder(ctx, ownerID, destinationPath)
	if err != nil {
		return nil, err
	}

	key, err := s.claimKey(ctx, ownerID, folderPath(dest), file.Filename)
	if err != nil {
		return nil, err
	}

	if err := s.blobs.Copy(ctx, file.StorageKey, key); err != nil {
		return nil, upstream("copying blob", err)
	}

	now := s.clock.Now()
	copied := *file
	copied.ID = s.idgen.New()
	copied.FolderID = folderRef(dest)
	copied.Path = folderPath(dest)
	copied.StorageKey = key
	copied.PublicURL = s.blobs.PublicURL(key)
	copied.CreatedAt = now
	copied.UpdatedAt = now
	if err := s.database.InsertFile(ctx, &copied); err != nil {
		s.discardBlob(ctx, key, err)
		return nil, upstream("recording copied file", err)
	}

	s.logger.Info("file copied", "owner", ownerID, "from", file.ID, "to", copied.ID, "key", key)
	s.LogActivity(ctx, ownerID, ActivityCopy, ItemFile, file.OriginalName, map[string]any{
		"from": file.Path,
		"to":   copied.Path,
	})
	return &copied, nil
}

// Move relocates a file to destinationPath. The blob is copied to its new
// key, the row is repointed, and the old blob is deleted last; if that final
// delete fails the old blob is left for Reconcile.
func (s *Service) Move(ctx context.Context, ownerID, fileID, destinationPath string) (*model.File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	file, err := s.loadFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolveFolder(ctx, ownerID, destinationPath)
	if err != nil {
		return nil, err
	}
	if folderRef(dest) == file.FolderID {
		return file, nil
	}

	key, err := s.claimKey(ctx, ownerID, folderPath(dest), file.Filename)
	if err != nil {
		return nil, err
	}

	if err := s.blobs.Copy(ctx, file.StorageKey, key); err != nil {
		return nil, upstream("copying blob", err)
	}

	now := s.clock.Now()
	publicURL := s.blobs.PublicURL(key)
	if err := s.database.MoveFile(ctx, ownerID, file.ID, folderRef(dest), key, publicURL, now); err != nil {
		s.discardBlob(ctx, key, err)
		return nil, upstream("moving file record", err)
	}

	oldKey, oldPath := file.StorageKey, file.Path
	if err := s.blobs.Delete(ctx, oldKey); err != nil && !errors.Is(err, ErrBlobNotFound) {
		s.logger.Warn("old blob left behind after move", "key", oldKey, "error", err)
	}

	file.FolderID = folderRef(dest)
	file.Path = folderPath(dest)
	file.StorageKey = key
	file.PublicURL = publicURL
	file.UpdatedAt = now

	s.logger.Info("file moved", "owner", ownerID, "file", file.ID, "from", oldKey, "to", key)
	s.LogActivity(ctx, ownerID, ActivityMove, ItemFile, file.OriginalName, map[string]any{
		"from": oldPath,
		"to":   file.Path,
	})
	return file, nil
}

// claimKey derives the key for filename under dir and fails with a conflict
// if a row already references it.
func (s *Service) claimKey(ctx context.Context, ownerID, dir, filename string) (string, error) {
	key, err := StorageKey(ownerID, dir, filename)
	if err != nil {
		return "", err
	}
	taken, err := s.database.FindFileByStorageKey(ctx, ownerID, key)
	if err != nil {
		return "", upstream("checking storage key", err)
	}
	if taken != nil {
		return "", fmt.Errorf("a file with storage name %q already exists in %q: %w", filename, dir, ErrConflict)
	}
	return key, nil
}

// DownloadLink is a signed URL serving a file as an attachment.
type DownloadLink struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Download issues a short-lived signed URL for a file. Bytes never pass
// through the service.
func (s *Service) Download(ctx context.Context, ownerID, fileID string) (*DownloadLink, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	file, err := s.loadFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	url, err := s.blobs.SignedURL(ctx, file.StorageKey, s.policy.DownloadTTL, SignedURLOptions{
		Download: true,
		Filename: file.OriginalName,
	})
	if err != nil {
		return nil, upstream("signing download url", err)
	}
	return &DownloadLink{
		URL:       url,
		Filename:  file.OriginalName,
		ExpiresAt: s.clock.Now().Add(s.policy.DownloadTTL),
	}, nil
}

// Fetch streams a file's content to w. It backs local exports and the
// CLI, which have no HTTP client to follow a signed URL.
func (s *Service) Fetch(ctx context.Context, ownerID, fileID string, w io.Writer) (*model.File, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	file, err := s.loadFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Get(ctx, file.StorageKey, w); err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, fmt.Errorf("content of %q is missing: %w", file.OriginalName, ErrNotFound)
		}
		return nil, upstream("fetching blob", err)
	}
	return file, nil
}
