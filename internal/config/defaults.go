package config

import (
	"path/filepath"
	"strings"

	"casefs/internal/casefs"
)

// Defaults for settings left empty.
const (
	DefaultLogLevel      = "info"
	DefaultBaseURL       = "http://localhost:8080/blobs"
	DefaultSweepSchedule = "@every 1h"
	DefaultGracePeriod   = 3600 // seconds
	DefaultS3MaxRetries  = 3
)

// ApplyDefaults sets default values for any unspecified configuration fields.
// Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.LogDir == "" && cfg.BaseDir != "" {
		cfg.LogDir = filepath.Join(cfg.BaseDir, "log")
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.DataDir == "" && cfg.BaseDir != "" {
		cfg.Database.DataDir = filepath.Join(cfg.BaseDir, "db")
	}

	applyBlobDefaults(cfg)

	if cfg.Upload.MaxSize == 0 {
		cfg.Upload.MaxSize = casefs.DefaultMaxUploadSize
	}
	if len(cfg.Upload.AllowedTypes) == 0 {
		cfg.Upload.AllowedTypes = append([]string(nil), casefs.DefaultAllowedTypes...)
	}

	if cfg.Preview.ViewerURL == "" {
		cfg.Preview.ViewerURL = casefs.DefaultViewerURL
	}
	if cfg.Preview.DownloadTTLSeconds == 0 {
		cfg.Preview.DownloadTTLSeconds = int(casefs.DefaultDownloadTTL.Seconds())
	}
	if cfg.Preview.PreviewTTLSeconds == 0 {
		cfg.Preview.PreviewTTLSeconds = int(casefs.DefaultPreviewTTL.Seconds())
	}

	if cfg.Sweep.Schedule == "" {
		cfg.Sweep.Schedule = DefaultSweepSchedule
	}
	if cfg.Sweep.GracePeriodSeconds == 0 {
		cfg.Sweep.GracePeriodSeconds = DefaultGracePeriod
	}
}

func applyBlobDefaults(cfg *Config) {
	b := &cfg.Blob
	if b.Type == "" {
		b.Type = "filesystem"
	}
	if b.Name == "" {
		b.Name = b.Type
	}
	if b.Type == "filesystem" && b.FSRoot == "" && cfg.BaseDir != "" {
		b.FSRoot = filepath.Join(cfg.BaseDir, "blobs")
	}
	if b.Type != "s3" && b.BaseURL == "" {
		b.BaseURL = DefaultBaseURL
	}
	if b.Type == "s3" && b.S3MaxRetries == 0 {
		b.S3MaxRetries = DefaultS3MaxRetries
	}
}
