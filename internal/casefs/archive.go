package casefs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"casefs/internal/model"
)

// ArchiveContentType is the media type of folder exports.
const ArchiveContentType = "application/zip"

// Archive describes a completed folder export.
type Archive struct {
	Folder   *model.Folder `json:"folder"`
	Filename string        `json:"filename"`
	Entries  int           `json:"entries"`
	Bytes    int64         `json:"bytes"`
}

// ArchiveFilename is the attachment name offered for a folder export.
func ArchiveFilename(folder *model.Folder) string {
	return folder.Name + ".zip"
}

// ContentDisposition builds an attachment header value for filename.
func ContentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

// ExportFolder streams a zip of a folder's files, subfolders included, to w.
// Entries are named by display name relative to the folder; duplicates
// within a directory get a " (n)" suffix. Any blob that cannot be fetched
// aborts the export and leaves w holding an unterminated archive.
func (s *Service) ExportFolder(ctx context.Context, ownerID, folderID string, w io.Writer) (*Archive, error) {
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

	if len(tree) == 0 {
		return nil, fmt.Errorf("folder %s: %w", folderID, ErrNotFound)
	}

	base := folder.ChildPath()
	relative := func(p string) string {
		return strings.TrimPrefix(strings.TrimPrefix(p, base), Separator)
	}

	// Names already used in each archive directory, subfolders included.
	used := make(map[string]map[string]bool)
	usedIn := func(dir string) map[string]bool {
		if used[dir] == nil {
			used[dir] = make(map[string]bool)
		}
		return used[dir]
	}
	for _, f := range tree[1:] {
		usedIn(relative(f.Path))[f.Name] = true
	}

	archive := &Archive{Folder: folder, Filename: ArchiveFilename(folder)}
	zw := zip.NewWriter(w)
	for _, f := range tree {
		dir := relative(f.ChildPath())
		if dir != "" {
			if _, err := zw.Create(dir + Separator); err != nil {
				return nil, fmt.Errorf("adding directory %q: %w", dir, err)
			}
		}

		files, err := s.database.ListFiles(ctx, ownerID, folderRef(f))
		if err != nil {
			return nil, upstream("listing files", err)
		}
		for _, file := range files {
			name := JoinPath(dir, uniqueEntryName(usedIn(dir), file.OriginalName))
			entry, err := zw.CreateHeader(&zip.FileHeader{
				Name:     name,
				Method:   zip.Deflate,
				Modified: file.UpdatedAt,
			})
			if err != nil {
				return nil, fmt.Errorf("adding entry %q: %w", name, err)
			}
			counter := &countingWriter{w: entry}
			if err := s.blobs.Get(ctx, file.StorageKey, counter); err != nil {
				s.logger.Error("export aborted", "folder", folder.ID, "key", file.StorageKey, "error", err)
				return nil, upstream(fmt.Sprintf("fetching %q", file.OriginalName), err)
			}
			archive.Entries++
			archive.Bytes += counter.n
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finishing archive: %w", err)
	}

	s.logger.Info("folder exported", "owner", ownerID, "folder", folder.ID, "entries", archive.Entries)
	s.LogActivity(ctx, ownerID, ActivityExport, ItemFolder, folder.Name, map[string]any{"entries": archive.Entries})
	return archive, nil
}

// uniqueEntryName returns name, or name with a " (n)" suffix before the
// extension if it is already taken, and marks the result as used.
func uniqueEntryName(used map[string]bool, name string) string {
	if !used[name] {
		used[name] = true
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
