package casefs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"casefs/internal/model"
)

// CreateFolder creates a folder named name inside parentPath.
// Folder names are unique among siblings (case-sensitive).
func (s *Service) CreateFolder(ctx context.Context, ownerID, parentPath, name string) (*model.Folder, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", ErrValidation)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	parent, err := s.resolveFolder(ctx, ownerID, parentPath)
	if err != nil {
		return nil, err
	}

	existing, err := s.database.FindFolder(ctx, ownerID, folderRef(parent), name)
	if err != nil {
		return nil, upstream("checking for existing folder", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("folder %q already exists in %q: %w", name, folderPath(parent), ErrConflict)
	}

	now := s.clock.Now()
	folder := &model.Folder{
		ID:        s.idgen.New(),
		OwnerID:   ownerID,
		ParentID:  folderRef(parent),
		Name:      name,
		Path:      folderPath(parent),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.database.InsertFolder(ctx, folder); err != nil {
		return nil, upstream("creating folder", err)
	}

	s.logger.Info("folder created", "owner", ownerID, "folder", folder.ID, "path", folder.ChildPath())
	s.LogActivity(ctx, ownerID, ActivityCreate, ItemFolder, name, map[string]any{"path": folder.Path})
	return folder, nil
}

// FolderDeleteReport summarizes a cascading folder delete.
type FolderDeleteReport struct {
	Folder         *model.Folder `json:"folder"`
	FilesDeleted   int           `json:"files_deleted"`
	FoldersDeleted int           `json:"folders_deleted"`
	// OrphanedKeys are blobs that could not be deleted; their rows are gone.
	OrphanedKeys []string `json:"orphaned_keys,omitempty"`
}

// DeleteFolder deletes a folder, every folder below it and every file they
// contain. Each file's blob is deleted before its row. A failed blob delete
// is logged and the row is removed anyway, leaving an orphaned blob for
// Reconcile. A failed row delete is collected; if any occurred the folder
// rows are kept and the joined error is returned with the partial report.
func (s *Service) DeleteFolder(ctx context.Context, ownerID, folderID string) (*FolderDeleteReport, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	folder, err := s.loadFolder(ctx, ownerID, folderID)
	if err != nil {
		return nil, err
	}

	tree, err := s.database.ListFolderTree(ctx, ownerID, folder.ID)
	if err != nil {
		return nil, upstream("listing folder tree", err)
	}

	report := &FolderDeleteReport{Folder: folder}
	var errs []error
	for _, f := range tree {
		files, err := s.database.ListFiles(ctx, ownerID, folderRef(f))
		if err != nil {
			errs = append(errs, fmt.Errorf("listing files in %q: %w", f.ChildPath(), err))
			continue
		}
		for _, file := range files {
			if err := s.blobs.Delete(ctx, file.StorageKey); err != nil && !errors.Is(err, ErrBlobNotFound) {
				s.logger.Warn("blob delete failed during folder delete", "key", file.StorageKey, "error", err)
				report.OrphanedKeys = append(report.OrphanedKeys, file.StorageKey)
			}
			if err := s.database.DeleteFile(ctx, ownerID, file.ID); err != nil {
				errs = append(errs, fmt.Errorf("deleting file %s: %w", file.ID, err))
				continue
			}
			report.FilesDeleted++
		}
	}

	if len(errs) > 0 {
		s.logger.Error("folder delete incomplete", "folder", folder.ID, "failures", len(errs))
		return report, fmt.Errorf("deleting folder %q: %w: %w", folder.Name, ErrUpstream, errors.Join(errs...))
	}

	if err := s.database.DeleteFolder(ctx, ownerID, folder.ID); err != nil {
		return report, upstream("deleting folder", err)
	}
	report.FoldersDeleted = len(tree)

	s.logger.Info("folder deleted", "owner", ownerID, "folder", folder.ID,
		"files", report.FilesDeleted, "folders", report.FoldersDeleted, "orphans", len(report.OrphanedKeys))
	s.LogActivity(ctx, ownerID, ActivityDelete, ItemFolder, folder.Name, map[string]any{
		"path":    folder.Path,
		"files":   report.FilesDeleted,
		"folders": report.FoldersDeleted,
	})
	return report, nil
}

// RenameFolder changes a folder's name. Descendants are addressed through
// the folder, so their paths follow without being rewritten.
func (s *Service) RenameFolder(ctx context.Context, ownerID, folderID, newName string) (*model.Folder, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, fmt.Errorf("%w: folder name is required", ErrValidation)
	}
	if err := ValidateName(newName); err != nil {
		return nil, err
	}

	folder, err := s.loadFolder(ctx, ownerID, folderID)
	if err != nil {
		return nil, err
	}
	if folder.Name == newName {
		return folder, nil
	}

	sibling, err := s.database.FindFolder(ctx, ownerID, folder.ParentID, newName)
	if err != nil {
		return nil, upstream("checking for existing folder", err)
	}
	if sibling != nil {
		return nil, fmt.Errorf("folder %q already exists in %q: %w", newName, folder.Path, ErrConflict)
	}

	now := s.clock.Now()
	if err := s.database.RenameFolder(ctx, ownerID, folder.ID, newName, now); err != nil {
		return nil, upstream("renaming folder", err)
	}

	oldName := folder.Name
	folder.Name = newName
	folder.UpdatedAt = now

	s.logger.Info("folder renamed", "owner", ownerID, "folder", folder.ID, "from", oldName, "to", newName)
	s.LogActivity(ctx, ownerID, ActivityRename, ItemFolder, newName, map[string]any{"from": oldName, "to": newName})
	return folder, nil
}

// Crumb is one step of a breadcrumb trail.
type Crumb struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Breadcrumb returns the trail from the root to path. The first crumb is
// always Home. Segments are resolved through the folder chain; once a
// segment does not resolve, it and every later segment use their raw text.
func (s *Service) Breadcrumb(ctx context.Context, ownerID, path string) ([]Crumb, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	crumbs := []Crumb{{Name: "Home", Path: ""}}
	var parent *model.Folder
	resolved := true
	prefix := ""
	for _, seg := range SplitPath(normalized) {
		prefix = JoinPath(prefix, seg)
		name := seg
		if resolved {
			folder, err := s.database.FindFolder(ctx, ownerID, folderRef(parent), seg)
			if err != nil {
				return nil, upstream("resolving breadcrumb", err)
			}
			if folder == nil {
				resolved = false
			} else {
				name = folder.Name
				parent = folder
			}
		}
		crumbs = append(crumbs, Crumb{Name: name, Path: prefix})
	}
	return crumbs, nil
}

// FolderDetails describes a folder and its direct contents.
type FolderDetails struct {
	Folder      *model.Folder `json:"folder"`
	FileCount   int64         `json:"file_count"`
	FolderCount int64         `json:"folder_count"`
	TotalItems  int64         `json:"total_items"`
}

// FolderDetails counts the files and folders directly inside a folder.
func (s *Service) FolderDetails(ctx context.Context, ownerID, folderID string) (*FolderDetails, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	folder, err := s.loadFolder(ctx, ownerID, folderID)
	if err != nil {
		return nil, err
	}

	details := &FolderDetails{Folder: folder}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.database.CountChildFiles(gctx, ownerID, folderRef(folder))
		details.FileCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.database.CountChildFolders(gctx, ownerID, folderRef(folder))
		details.FolderCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, upstream("counting folder contents", err)
	}
	details.TotalItems = details.FileCount + details.FolderCount
	return details, nil
}
