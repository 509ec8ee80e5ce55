package app

import (
	"context"
	"errors"
	"fmt"
	"path"

	"casefs/internal/casefs"
	"casefs/internal/fs"
	"casefs/internal/model"
)

// ImportReport summarizes a local directory import.
type ImportReport struct {
	Source         string            `json:"source"`
	Destination    string            `json:"destination"`
	FoldersCreated int               `json:"folders_created"`
	Files          []*model.File     `json:"files"`
	Skipped        []fs.SkippedEntry `json:"skipped,omitempty"`
}

// ImportDirectory uploads the tree under localPath into destPath, creating
// folders as needed. Existing folders are reused. Entries the service
// rejects (type, size, name) are reported as skipped; any other failure
// stops the import and is returned with the partial report.
func (a *App) ImportDirectory(ctx context.Context, ownerID, localPath, destPath string) (*ImportReport, error) {
	id, err := ResolveIdentity(ownerID)
	if err != nil {
		return nil, err
	}
	dest, err := casefs.NormalizePath(destPath)
	if err != nil {
		return nil, err
	}
	// The destination itself must already exist.
	if _, err := a.service.List(ctx, id.UserID, dest); err != nil {
		return nil, err
	}

	scan, err := a.scanner.Scan(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", casefs.ErrValidation, err)
	}

	report := &ImportReport{Source: scan.Root, Destination: dest, Skipped: scan.Skipped}
	failedDirs := make(map[string]bool)
	for _, dir := range scan.Dirs {
		parent := path.Dir(dir)
		if parent == "." {
			parent = ""
		}
		if failedDirs[parent] {
			failedDirs[dir] = true
			continue
		}
		_, err := a.service.CreateFolder(ctx, id.UserID, casefs.JoinPath(dest, parent), path.Base(dir))
		switch {
		case err == nil:
			report.FoldersCreated++
		case errors.Is(err, casefs.ErrConflict):
			// already there
		case errors.Is(err, casefs.ErrValidation):
			failedDirs[dir] = true
			report.Skipped = append(report.Skipped, fs.SkippedEntry{RelPath: dir, Reason: err.Error()})
		default:
			return report, fmt.Errorf("creating folder %q: %w", dir, err)
		}
	}

	for _, f := range scan.Files {
		if failedDirs[f.RelDir] {
			continue
		}
		file, err := a.importFile(ctx, id.UserID, casefs.JoinPath(dest, f.RelDir), f)
		if err != nil {
			if errors.Is(err, casefs.ErrValidation) {
				report.Skipped = append(report.Skipped, fs.SkippedEntry{RelPath: f.RelPath(), Reason: err.Error()})
				continue
			}
			return report, fmt.Errorf("importing %q: %w", f.RelPath(), err)
		}
		report.Files = append(report.Files, file)
	}

	a.logger.Info("import complete", "source", scan.Root, "destination", dest,
		"files", len(report.Files), "folders", report.FoldersCreated, "skipped", len(report.Skipped))
	return report, nil
}

func (a *App) importFile(ctx context.Context, ownerID, dir string, f fs.LocalFile) (*model.File, error) {
	rc, err := a.scanner.Open(f)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	return a.service.Upload(ctx, casefs.UploadRequest{
		OwnerID:      ownerID,
		Path:         dir,
		OriginalName: f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		Body:         rc,
	})
}

// UploadLocalFile uploads a single local file into destPath, sniffing its type.
func (a *App) UploadLocalFile(ctx context.Context, ownerID, localPath, destPath string) (*model.File, error) {
	id, err := ResolveIdentity(ownerID)
	if err != nil {
		return nil, err
	}
	f, err := a.scanner.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", casefs.ErrValidation, err)
	}
	return a.importFile(ctx, id.UserID, destPath, f)
}
