package casefs

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"casefs/internal/model"
)

// FileEntry is a file as shown in a listing.
type FileEntry struct {
	*model.File
	CanPreview bool `json:"can_preview"`
}

// Listing is one level of a directory.
type Listing struct {
	Path    string          `json:"path"`
	Folders []*model.Folder `json:"folders"`
	Files   []FileEntry     `json:"files"`
}

// List returns the files (newest first) and folders (by name) directly
// inside path.
func (s *Service) List(ctx context.Context, ownerID, path string) (*Listing, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	folder, err := s.resolveFolder(ctx, ownerID, path)
	if err != nil {
		return nil, err
	}

	var (
		files   []*model.File
		folders []*model.Folder
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = s.database.ListFiles(gctx, ownerID, folderRef(folder))
		return err
	})
	g.Go(func() error {
		var err error
		folders, err = s.database.ListFolders(gctx, ownerID, folderRef(folder))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, upstream("listing directory", err)
	}

	return &Listing{
		Path:    folderPath(folder),
		Folders: folders,
		Files:   fileEntries(files),
	}, nil
}

func fileEntries(files []*model.File) []FileEntry {
	entries := make([]FileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, FileEntry{File: f, CanPreview: CanPreview(f.MimeType)})
	}
	return entries
}

// Item types tagged on search results and activities.
const (
	ItemFile   = "file"
	ItemFolder = "folder"
)

// SearchItem is a single tagged search hit.
type SearchItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// SearchResults holds the matching files and folders.
type SearchResults struct {
	Query   string          `json:"query"`
	Files   []FileEntry     `json:"files"`
	Folders []*model.Folder `json:"folders"`
}

// Items flattens the results into tagged hits, folders first.
func (r *SearchResults) Items() []SearchItem {
	items := make([]SearchItem, 0, len(r.Files)+len(r.Folders))
	for _, f := range r.Folders {
		items = append(items, SearchItem{Type: ItemFolder, ID: f.ID, Name: f.Name, Path: f.Path})
	}
	for _, f := range r.Files {
		items = append(items, SearchItem{Type: ItemFile, ID: f.ID, Name: f.OriginalName, Path: f.Path})
	}
	return items
}

// Search finds files whose display name and folders whose name contain
// query, ignoring case.
func (s *Service) Search(ctx context.Context, ownerID, query string) (*SearchResults, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrValidation)
	}

	var (
		files   []*model.File
		folders []*model.Folder
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = s.database.SearchFiles(gctx, ownerID, query)
		return err
	})
	g.Go(func() error {
		var err error
		folders, err = s.database.SearchFolders(gctx, ownerID, query)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, upstream("searching", err)
	}

	return &SearchResults{Query: query, Files: fileEntries(files), Folders: folders}, nil
}

// FileDetails returns a single file.
func (s *Service) FileDetails(ctx context.Context, ownerID, fileID string) (*FileEntry, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	file, err := s.loadFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}
	return &FileEntry{File: file, CanPreview: CanPreview(file.MimeType)}, nil
}
