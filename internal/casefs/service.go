package casefs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"casefs/internal/model"
)

// Policy holds the tunables that shape uploads and link issuance.
type Policy struct {
	MaxUploadSize int64         // bytes; uploads above this are rejected
	AllowedTypes  []string      // MIME types accepted on upload
	DownloadTTL   time.Duration // lifetime of download links
	PreviewTTL    time.Duration // lifetime of preview links
	ViewerURL     string        // document viewer, the signed URL is appended escaped
}

// Default upload limits and link lifetimes.
const (
	DefaultMaxUploadSize = 10 * 1024 * 1024
	DefaultDownloadTTL   = 60 * time.Second
	DefaultPreviewTTL    = 300 * time.Second
	DefaultViewerURL     = "https://docs.google.com/viewer?url="
)

// DefaultAllowedTypes is the upload allow-list.
var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxUploadSize: DefaultMaxUploadSize,
		AllowedTypes:  append([]string(nil), DefaultAllowedTypes...),
		DownloadTTL:   DefaultDownloadTTL,
		PreviewTTL:    DefaultPreviewTTL,
		ViewerURL:     DefaultViewerURL,
	}
}

// Service is the virtual filesystem. It keeps the metadata store and the
// blob store consistent: blobs are written before the rows that reference
// them and deleted before those rows are removed, so a failure can orphan a
// blob but never leaves a row pointing at missing content. Orphans are
// collected by Reconcile.
type Service struct {
	database Database
	blobs    BlobStore
	policy   Policy
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewService creates a Service with the provided dependencies.
func NewService(database Database, blobs BlobStore, policy Policy, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		database: database,
		blobs:    blobs,
		policy:   policy,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// resolveFolder walks path from the root and returns the folder it names,
// or nil for the root itself.
func (s *Service) resolveFolder(ctx context.Context, ownerID, path string) (*model.Folder, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	var current *model.Folder
	for _, seg := range SplitPath(normalized) {
		next, err := s.database.FindFolder(ctx, ownerID, folderRef(current), seg)
		if err != nil {
			return nil, upstream("resolving path", err)
		}
		if next == nil {
			return nil, fmt.Errorf("folder %q: %w", normalized, ErrNotFound)
		}
		current = next
	}
	return current, nil
}

// loadFolder fetches a folder by id, scoped to its owner.
func (s *Service) loadFolder(ctx context.Context, ownerID, folderID string) (*model.Folder, error) {
	folder, err := s.database.GetFolder(ctx, ownerID, folderID)
	if err != nil {
		return nil, upstream("loading folder", err)
	}
	if folder == nil {
		return nil, fmt.Errorf("folder %s: %w", folderID, ErrNotFound)
	}
	return folder, nil
}

// loadFile fetches a file by id, scoped to its owner.
func (s *Service) loadFile(ctx context.Context, ownerID, fileID string) (*model.File, error) {
	file, err := s.database.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, upstream("loading file", err)
	}
	if file == nil {
		return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	return file, nil
}

// folderRef is the parent reference stored for children of folder.
func folderRef(folder *model.Folder) sql.NullString {
	if folder == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: folder.ID, Valid: true}
}

// folderPath is the logical directory a folder represents ("" for the root).
func folderPath(folder *model.Folder) string {
	if folder == nil {
		return ""
	}
	return folder.ChildPath()
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return ErrAuth
	}
	return nil
}
