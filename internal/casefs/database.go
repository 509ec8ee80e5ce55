package casefs

import (
	"context"
	"database/sql"
	"time"

	"casefs/internal/model"
)

// Database is the metadata store. Every query is scoped by owner except the
// reconciliation listing. Lookups return (nil, nil) when no row matches.
// Folder and file rows come back with Path filled in from their ancestors.
type Database interface {
	// Folder operations
	GetFolder(ctx context.Context, ownerID, id string) (*model.Folder, error)
	FindFolder(ctx context.Context, ownerID string, parentID sql.NullString, name string) (*model.Folder, error)
	ListFolders(ctx context.Context, ownerID string, parentID sql.NullString) ([]*model.Folder, error)
	// ListFolderTree returns the folder and all of its descendants, parents before children.
	ListFolderTree(ctx context.Context, ownerID, id string) ([]*model.Folder, error)
	SearchFolders(ctx context.Context, ownerID, query string) ([]*model.Folder, error)
	InsertFolder(ctx context.Context, folder *model.Folder) error
	RenameFolder(ctx context.Context, ownerID, id, name string, updatedAt time.Time) error
	// DeleteFolder removes the folder row; descendant folders cascade.
	// It fails while any file row still references the subtree.
	DeleteFolder(ctx context.Context, ownerID, id string) error
	CountFolders(ctx context.Context, ownerID string) (int64, error)
	CountChildFolders(ctx context.Context, ownerID string, parentID sql.NullString) (int64, error)

	// File operations
	GetFile(ctx context.Context, ownerID, id string) (*model.File, error)
	FindFileByStorageKey(ctx context.Context, ownerID, storageKey string) (*model.File, error)
	ListFiles(ctx context.Context, ownerID string, folderID sql.NullString) ([]*model.File, error)
	SearchFiles(ctx context.Context, ownerID, query string) ([]*model.File, error)
	InsertFile(ctx context.Context, file *model.File) error
	RenameFile(ctx context.Context, ownerID, id, originalName string, updatedAt time.Time) error
	MoveFile(ctx context.Context, ownerID, id string, folderID sql.NullString, storageKey, publicURL string, updatedAt time.Time) error
	DeleteFile(ctx context.Context, ownerID, id string) error
	CountFiles(ctx context.Context, ownerID string) (int64, error)
	CountChildFiles(ctx context.Context, ownerID string, folderID sql.NullString) (int64, error)
	SumFileSizes(ctx context.Context, ownerID string) (int64, error)
	// ListStorageKeys returns every storage key across all owners.
	ListStorageKeys(ctx context.Context) ([]string, error)

	// Activity operations
	InsertActivity(ctx context.Context, activity *model.Activity) error
	ListActivities(ctx context.Context, ownerID string, limit, offset int) ([]*model.Activity, error)
	CountActivities(ctx context.Context, ownerID string) (int64, error)

	// Lifecycle
	CheckMigrations() error
	Close() error
}
