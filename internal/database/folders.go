package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"casefs/internal/casefs"
	"casefs/internal/model"
)

const folderColumns = "id, owner_id, parent_id, name, created_at, updated_at"

func scanFolder(row rowScanner) (*model.Folder, error) {
	var f model.Folder
	if err := row.Scan(&f.ID, &f.OwnerID, &f.ParentID, &f.Name, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// collectFolders drains rows before any follow-up query runs, since a
// SQLite pool has a single connection.
func collectFolders(rows *sql.Rows) ([]*model.Folder, error) {
	defer rows.Close()
	var folders []*model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// pathOf returns the logical path of folderID by walking its ancestors,
// or "" when folderID is NULL.
func (s *SQLDatabase) pathOf(ctx context.Context, ownerID string, folderID sql.NullString) (string, error) {
	if !folderID.Valid {
		return "", nil
	}
	rows, err := s.query(ctx, `
		WITH RECURSIVE ancestors(id, parent_id, name, depth) AS (
			SELECT id, parent_id, name, 0 FROM folders WHERE id = ? AND owner_id = ?
			UNION ALL
			SELECT f.id, f.parent_id, f.name, a.depth + 1
			FROM folders f JOIN ancestors a ON f.id = a.parent_id
		)
		SELECT name FROM ancestors ORDER BY depth DESC`, folderID.String, ownerID)
	if err != nil {
		return "", fmt.Errorf("resolving folder path: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("resolving folder path: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolving folder path: %w", err)
	}
	return strings.Join(names, casefs.Separator), nil
}

// fillFolderPaths sets Path on each folder, resolving each distinct parent once.
func (s *SQLDatabase) fillFolderPaths(ctx context.Context, ownerID string, folders []*model.Folder) error {
	cache := make(map[sql.NullString]string)
	for _, f := range folders {
		p, ok := cache[f.ParentID]
		if !ok {
			var err error
			if p, err = s.pathOf(ctx, ownerID, f.ParentID); err != nil {
				return err
			}
			cache[f.ParentID] = p
		}
		f.Path = p
	}
	return nil
}

func (s *SQLDatabase) GetFolder(ctx context.Context, ownerID, id string) (*model.Folder, error) {
	f, err := scanFolder(s.queryRow(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE id = ? AND owner_id = ?", id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting folder: %w", err)
	}
	if f.Path, err = s.pathOf(ctx, ownerID, f.ParentID); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLDatabase) FindFolder(ctx context.Context, ownerID string, parentID sql.NullString, name string) (*model.Folder, error) {
	parentClause, parentArgs := nullableEq("parent_id", parentID)
	args := append([]any{ownerID, name}, parentArgs...)
	f, err := scanFolder(s.queryRow(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE owner_id = ? AND name = ? AND "+parentClause, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding folder: %w", err)
	}
	if f.Path, err = s.pathOf(ctx, ownerID, f.ParentID); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLDatabase) ListFolders(ctx context.Context, ownerID string, parentID sql.NullString) ([]*model.Folder, error) {
	parentClause, parentArgs := nullableEq("parent_id", parentID)
	rows, err := s.query(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE owner_id = ? AND "+parentClause+" ORDER BY name ASC",
		append([]any{ownerID}, parentArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	folders, err := collectFolders(rows)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	if err := s.fillFolderPaths(ctx, ownerID, folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (s *SQLDatabase) ListFolderTree(ctx context.Context, ownerID, id string) ([]*model.Folder, error) {
	rows, err := s.query(ctx, `
		WITH RECURSIVE tree(id, depth) AS (
			SELECT id, 0 FROM folders WHERE id = ? AND owner_id = ?
			UNION ALL
			SELECT f.id, t.depth + 1 FROM folders f JOIN tree t ON f.parent_id = t.id
		)
		SELECT f.id, f.owner_id, f.parent_id, f.name, f.created_at, f.updated_at
		FROM tree t JOIN folders f ON f.id = t.id
		ORDER BY t.depth, f.name`, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing folder tree: %w", err)
	}
	folders, err := collectFolders(rows)
	if err != nil {
		return nil, fmt.Errorf("listing folder tree: %w", err)
	}
	if len(folders) == 0 {
		return nil, nil
	}

	// Parents precede children, so each child's path comes from its parent.
	if folders[0].Path, err = s.pathOf(ctx, ownerID, folders[0].ParentID); err != nil {
		return nil, err
	}
	byID := map[string]*model.Folder{folders[0].ID: folders[0]}
	for _, f := range folders[1:] {
		if parent, ok := byID[f.ParentID.String]; ok {
			f.Path = parent.ChildPath()
		}
		byID[f.ID] = f
	}
	return folders, nil
}

func (s *SQLDatabase) SearchFolders(ctx context.Context, ownerID, query string) ([]*model.Folder, error) {
	rows, err := s.query(ctx,
		"SELECT "+folderColumns+` FROM folders WHERE owner_id = ? AND LOWER(name) LIKE ? ESCAPE '\' ORDER BY name ASC`,
		ownerID, likePattern(query))
	if err != nil {
		return nil, fmt.Errorf("searching folders: %w", err)
	}
	folders, err := collectFolders(rows)
	if err != nil {
		return nil, fmt.Errorf("searching folders: %w", err)
	}
	if err := s.fillFolderPaths(ctx, ownerID, folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (s *SQLDatabase) InsertFolder(ctx context.Context, folder *model.Folder) error {
	_, err := s.exec(ctx, `
		INSERT INTO folders (id, owner_id, parent_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		folder.ID, folder.OwnerID, folder.ParentID, folder.Name, folder.CreatedAt.UTC(), folder.UpdatedAt.UTC())
	if err != nil {
		return mapError("inserting folder", err)
	}
	return nil
}

func (s *SQLDatabase) RenameFolder(ctx context.Context, ownerID, id, name string, updatedAt time.Time) error {
	return s.execOne(ctx, "renaming folder",
		"UPDATE folders SET name = ?, updated_at = ? WHERE id = ? AND owner_id = ?",
		name, updatedAt.UTC(), id, ownerID)
}

// DeleteFolder removes a folder row, cascading to descendant folders.
// It refuses while any file in the subtree still has a row.
func (s *SQLDatabase) DeleteFolder(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var remaining int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM folders WHERE id = ? AND owner_id = ?
			UNION ALL
			SELECT f.id FROM folders f JOIN tree t ON f.parent_id = t.id
		)
		SELECT COUNT(*) FROM files WHERE folder_id IN (SELECT id FROM tree)`), id, ownerID).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("counting files in folder: %w", err)
	}
	if remaining > 0 {
		return fmt.Errorf("folder still holds %d files: %w", remaining, casefs.ErrConflict)
	}

	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM folders WHERE id = ? AND owner_id = ?"), id, ownerID)
	if err != nil {
		return mapError("deleting folder", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting folder: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("deleting folder: %w", casefs.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLDatabase) CountFolders(ctx context.Context, ownerID string) (int64, error) {
	return s.count(ctx, "counting folders", "SELECT COUNT(*) FROM folders WHERE owner_id = ?", ownerID)
}

func (s *SQLDatabase) CountChildFolders(ctx context.Context, ownerID string, parentID sql.NullString) (int64, error) {
	parentClause, parentArgs := nullableEq("parent_id", parentID)
	return s.count(ctx, "counting child folders",
		"SELECT COUNT(*) FROM folders WHERE owner_id = ? AND "+parentClause,
		append([]any{ownerID}, parentArgs...)...)
}
