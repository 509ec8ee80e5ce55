package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"casefs/internal/model"
)

const fileColumns = "id, owner_id, folder_id, filename, original_name, size, mime_type, storage_key, public_url, checksum, created_at, updated_at"

func scanFile(row rowScanner) (*model.File, error) {
	var f model.File
	err := row.Scan(&f.ID, &f.OwnerID, &f.FolderID, &f.Filename, &f.OriginalName, &f.Size, &f.MimeType,
		&f.StorageKey, &f.PublicURL, &f.Checksum, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func collectFiles(rows *sql.Rows) ([]*model.File, error) {
	defer rows.Close()
	var files []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// fillFilePaths sets Path on each file from its folder's ancestry.
func (s *SQLDatabase) fillFilePaths(ctx context.Context, ownerID string, files []*model.File) error {
	cache := make(map[sql.NullString]string)
	for _, f := range files {
		p, ok := cache[f.FolderID]
		if !ok {
			var err error
			if p, err = s.pathOf(ctx, ownerID, f.FolderID); err != nil {
				return err
			}
			cache[f.FolderID] = p
		}
		f.Path = p
	}
	return nil
}

// getFileWhere loads a single file matching where, or nil.
func (s *SQLDatabase) getFileWhere(ctx context.Context, ownerID, where string, args ...any) (*model.File, error) {
	f, err := scanFile(s.queryRow(ctx, "SELECT "+fileColumns+" FROM files WHERE "+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting file: %w", err)
	}
	if f.Path, err = s.pathOf(ctx, ownerID, f.FolderID); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLDatabase) GetFile(ctx context.Context, ownerID, id string) (*model.File, error) {
	return s.getFileWhere(ctx, ownerID, "id = ? AND owner_id = ?", id, ownerID)
}

func (s *SQLDatabase) FindFileByStorageKey(ctx context.Context, ownerID, storageKey string) (*model.File, error) {
	return s.getFileWhere(ctx, ownerID, "storage_key = ? AND owner_id = ?", storageKey, ownerID)
}

func (s *SQLDatabase) ListFiles(ctx context.Context, ownerID string, folderID sql.NullString) ([]*model.File, error) {
	folderClause, folderArgs := nullableEq("folder_id", folderID)
	rows, err := s.query(ctx,
		"SELECT "+fileColumns+" FROM files WHERE owner_id = ? AND "+folderClause+" ORDER BY created_at DESC, id ASC",
		append([]any{ownerID}, folderArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	files, err := collectFiles(rows)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	if err := s.fillFilePaths(ctx, ownerID, files); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *SQLDatabase) SearchFiles(ctx context.Context, ownerID, query string) ([]*model.File, error) {
	rows, err := s.query(ctx,
		"SELECT "+fileColumns+` FROM files WHERE owner_id = ? AND LOWER(original_name) LIKE ? ESCAPE '\' ORDER BY created_at DESC, id ASC`,
		ownerID, likePattern(query))
	if err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	files, err := collectFiles(rows)
	if err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	if err := s.fillFilePaths(ctx, ownerID, files); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *SQLDatabase) InsertFile(ctx context.Context, file *model.File) error {
	_, err := s.exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.OwnerID, file.FolderID, file.Filename, file.OriginalName, file.Size, file.MimeType,
		file.StorageKey, file.PublicURL, file.Checksum, file.CreatedAt.UTC(), file.UpdatedAt.UTC())
	if err != nil {
		return mapError("inserting file", err)
	}
	return nil
}

func (s *SQLDatabase) RenameFile(ctx context.Context, ownerID, id, originalName string, updatedAt time.Time) error {
	return s.execOne(ctx, "renaming file",
		"UPDATE files SET original_name = ?, updated_at = ? WHERE id = ? AND owner_id = ?",
		originalName, updatedAt.UTC(), id, ownerID)
}

func (s *SQLDatabase) MoveFile(ctx context.Context, ownerID, id string, folderID sql.NullString, storageKey, publicURL string, updatedAt time.Time) error {
	return s.execOne(ctx, "moving file",
		"UPDATE files SET folder_id = ?, storage_key = ?, public_url = ?, updated_at = ? WHERE id = ? AND owner_id = ?",
		folderID, storageKey, publicURL, updatedAt.UTC(), id, ownerID)
}

func (s *SQLDatabase) DeleteFile(ctx context.Context, ownerID, id string) error {
	return s.execOne(ctx, "deleting file", "DELETE FROM files WHERE id = ? AND owner_id = ?", id, ownerID)
}

func (s *SQLDatabase) CountFiles(ctx context.Context, ownerID string) (int64, error) {
	return s.count(ctx, "counting files", "SELECT COUNT(*) FROM files WHERE owner_id = ?", ownerID)
}

func (s *SQLDatabase) CountChildFiles(ctx context.Context, ownerID string, folderID sql.NullString) (int64, error) {
	folderClause, folderArgs := nullableEq("folder_id", folderID)
	return s.count(ctx, "counting child files",
		"SELECT COUNT(*) FROM files WHERE owner_id = ? AND "+folderClause,
		append([]any{ownerID}, folderArgs...)...)
}

func (s *SQLDatabase) SumFileSizes(ctx context.Context, ownerID string) (int64, error) {
	return s.count(ctx, "summing file sizes",
		"SELECT CAST(COALESCE(SUM(size), 0) AS BIGINT) FROM files WHERE owner_id = ?", ownerID)
}

func (s *SQLDatabase) ListStorageKeys(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, "SELECT storage_key FROM files ORDER BY storage_key")
	if err != nil {
		return nil, fmt.Errorf("listing storage keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("listing storage keys: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing storage keys: %w", err)
	}
	return keys, nil
}
