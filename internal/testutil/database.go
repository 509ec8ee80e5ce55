package testutil

import (
	"context"
	"sync"
	"testing"

	"casefs/internal/casefs"
	"casefs/internal/database"
	"casefs/internal/model"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLDatabase {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB)
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// FaultyDatabase wraps a Database and fails selected writes on demand.
// Reads always pass through.
type FaultyDatabase struct {
	casefs.Database

	mu               sync.Mutex
	insertFileErr    error
	deleteFileErr    error
	deleteFileFailOn map[string]bool
	insertActErr     error
}

// NewFaultyDatabase wraps db.
func NewFaultyDatabase(db casefs.Database) *FaultyDatabase {
	return &FaultyDatabase{Database: db, deleteFileFailOn: make(map[string]bool)}
}

// FailInsertFile makes every InsertFile return err (nil restores).
func (f *FaultyDatabase) FailInsertFile(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertFileErr = err
}

// FailDeleteFile makes DeleteFile return err for the given file IDs, or for
// every file when no IDs are given.
func (f *FaultyDatabase) FailDeleteFile(err error, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteFileErr = err
	f.deleteFileFailOn = make(map[string]bool)
	for _, id := range ids {
		f.deleteFileFailOn[id] = true
	}
}

// FailInsertActivity makes every InsertActivity return err.
func (f *FaultyDatabase) FailInsertActivity(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertActErr = err
}

func (f *FaultyDatabase) InsertFile(ctx context.Context, file *model.File) error {
	f.mu.Lock()
	err := f.insertFileErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Database.InsertFile(ctx, file)
}

func (f *FaultyDatabase) DeleteFile(ctx context.Context, ownerID, id string) error {
	f.mu.Lock()
	err := f.deleteFileErr
	targeted := len(f.deleteFileFailOn) == 0 || f.deleteFileFailOn[id]
	f.mu.Unlock()
	if err != nil && targeted {
		return err
	}
	return f.Database.DeleteFile(ctx, ownerID, id)
}

func (f *FaultyDatabase) InsertActivity(ctx context.Context, a *model.Activity) error {
	f.mu.Lock()
	err := f.insertActErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Database.InsertActivity(ctx, a)
}
