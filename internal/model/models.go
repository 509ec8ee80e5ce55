package model

import (
	"database/sql"
	"time"
)

// Folder is a virtual directory owned by a single account.
// Folders form a tree through ParentID; a NULL ParentID is a root folder.
type Folder struct {
	ID        string         `json:"id"`       // UUID
	OwnerID   string         `json:"owner_id"` // Owning account
	ParentID  sql.NullString `json:"-"`        // Parent folder, NULL at the root
	Name      string         `json:"name"`     // Unique among siblings for the same owner
	Path      string         `json:"path"`     // Logical parent directory ("" = root), computed on read
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ChildPath returns the logical path of the directory this folder represents.
func (f *Folder) ChildPath() string {
	if f.Path == "" {
		return f.Name
	}
	return f.Path + "/" + f.Name
}

// File is a blob plus the metadata that places it in the virtual tree.
type File struct {
	ID           string         `json:"id"`            // UUID
	OwnerID      string         `json:"owner_id"`      // Owning account
	FolderID     sql.NullString `json:"-"`             // Containing folder, NULL at the root
	Filename     string         `json:"filename"`      // Generated storage filename (last key segment)
	OriginalName string         `json:"original_name"` // Display name, mutable via rename
	Path         string         `json:"path"`          // Logical directory ("" = root), computed on read
	Size         int64          `json:"size"`          // Bytes
	MimeType     string         `json:"mime_type"`
	StorageKey   string         `json:"storage_key"` // Blob store key, unique
	PublicURL    string         `json:"public_url"`
	Checksum     string         `json:"checksum"` // BLAKE3 hex digest of the content
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Activity is an append-only log entry of a user-visible action.
type Activity struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	ActivityType string    `json:"activity_type"` // upload, delete, rename, copy, move, create, export
	ItemType     string    `json:"item_type"`     // file or folder
	ItemName     string    `json:"item_name"`
	Details      string    `json:"details"` // JSON object
	CreatedAt    time.Time `json:"created_at"`
}
