package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"casefs/internal/blobstore"
	"casefs/internal/casefs"
	"casefs/internal/config"
	"casefs/internal/database"
	"casefs/internal/fs"
)

// App is the application layer between the CLI and casefs.Service.
// It constructs all dependencies from config and closes them on Close.
type App struct {
	cfg     *config.Config
	db      *database.SQLDatabase
	blobs   casefs.BlobStore
	scanner *fs.Scanner
	logger  *zerologAdapter
	service *casefs.Service
	opID    string
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.Logging, cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date (run 'casefs db migrate'): %w", err)
	}

	blobs, err := blobstore.NewBlobStoreFromConfig(ctx, cfg.Blob)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}
	if err := blobs.ValidateSetup(ctx); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("blob store not ready: %w", err)
	}

	svc := casefs.NewService(db, blobs, PolicyFromConfig(cfg), logger, casefs.RealClock{}, casefs.UUIDGenerator{})
	logger.Debug("app started", "database", cfg.Database.Type, "blob_store", cfg.Blob.Type)

	return &App{
		cfg:     cfg,
		db:      db,
		blobs:   blobs,
		scanner: fs.NewScanner(cfg.Import.Ignore),
		logger:  logger,
		service: svc,
		opID:    opID,
		logFile: logFile,
	}, nil
}

// PolicyFromConfig converts the upload and preview settings into a casefs.Policy.
func PolicyFromConfig(cfg *config.Config) casefs.Policy {
	return casefs.Policy{
		MaxUploadSize: cfg.Upload.MaxSize,
		AllowedTypes:  append([]string(nil), cfg.Upload.AllowedTypes...),
		DownloadTTL:   time.Duration(cfg.Preview.DownloadTTLSeconds) * time.Second,
		PreviewTTL:    time.Duration(cfg.Preview.PreviewTTLSeconds) * time.Second,
		ViewerURL:     cfg.Preview.ViewerURL,
	}
}

// ResolveIdentity turns the caller-supplied owner into an Identity.
// An empty owner is an authentication failure.
func ResolveIdentity(ownerID string) (casefs.Identity, error) {
	id := casefs.Identity{UserID: strings.TrimSpace(ownerID)}
	if err := id.Validate(); err != nil {
		return casefs.Identity{}, err
	}
	return id, nil
}

// Service returns the wired casefs service.
func (a *App) Service() *casefs.Service {
	return a.service
}

// OpID identifies this process run in the log.
func (a *App) OpID() string {
	return a.opID
}

// Close closes the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// MigrateDatabase applies pending schema migrations to the configured database.
func MigrateDatabase(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// CheckDatabase reports whether the configured database schema is current.
func CheckDatabase(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	return db.CheckMigrations()
}
