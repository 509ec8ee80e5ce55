package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config represents the main configuration for casefs.
type Config struct {
	BaseDir  string         `toml:"base_dir" mapstructure:"base_dir"`
	LogDir   string         `toml:"log_dir" mapstructure:"log_dir" validate:"required"`
	Logging  LoggingConfig  `toml:"logging" mapstructure:"logging"`
	Database DatabaseConfig `toml:"database" mapstructure:"database"`
	Blob     BlobConfig     `toml:"blob" mapstructure:"blob"`
	Upload   UploadConfig   `toml:"upload" mapstructure:"upload"`
	Preview  PreviewConfig  `toml:"preview" mapstructure:"preview"`
	Sweep    SweepConfig    `toml:"sweep" mapstructure:"sweep"`
	Import   ImportConfig   `toml:"import" mapstructure:"import"`
}

// LoggingConfig controls the application logger.
type LoggingConfig struct {
	Level   string `toml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Console bool   `toml:"console" mapstructure:"console"` // also log human-readable lines to stderr
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type        string `toml:"type" mapstructure:"type" validate:"required,oneof=sqlite memory postgres"`
	DataDir     string `toml:"data_dir,omitempty" mapstructure:"data_dir"` // only used for type=sqlite
	DSN         string `toml:"dsn,omitempty" mapstructure:"dsn"`           // only used for type=postgres
	AutoMigrate bool   `toml:"auto_migrate" mapstructure:"auto_migrate"`   // apply pending migrations on start
}

// BlobConfig represents configuration for the blob store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type string `toml:"type" mapstructure:"type" validate:"required,oneof=memory filesystem s3"`
	Name string `toml:"name" mapstructure:"name"`

	// Signed URL settings for the memory and filesystem stores, which have
	// no URL signing of their own.
	BaseURL       string `toml:"base_url,omitempty" mapstructure:"base_url" validate:"omitempty,url"`
	PublicBaseURL string `toml:"public_base_url,omitempty" mapstructure:"public_base_url" validate:"omitempty,url"`
	SigningSecret string `toml:"signing_secret,omitempty" mapstructure:"signing_secret"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" mapstructure:"fs_root"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3Prefix          string `toml:"s3_prefix,omitempty" mapstructure:"s3_prefix"`
	S3Region          string `toml:"s3_region,omitempty" mapstructure:"s3_region"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty" mapstructure:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty" mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" mapstructure:"s3_secret_access_key"`
	S3UsePathStyle    bool   `toml:"s3_use_path_style,omitempty" mapstructure:"s3_use_path_style"`
	S3MaxRetries      int    `toml:"s3_max_retries,omitempty" mapstructure:"s3_max_retries" validate:"gte=0"`
}

// UploadConfig bounds what may be uploaded.
type UploadConfig struct {
	MaxSize      int64    `toml:"max_size" mapstructure:"max_size" validate:"gt=0"`
	AllowedTypes []string `toml:"allowed_types" mapstructure:"allowed_types" validate:"min=1,dive,required"`
}

// PreviewConfig controls download and preview links.
type PreviewConfig struct {
	ViewerURL          string `toml:"viewer_url" mapstructure:"viewer_url" validate:"required,url"`
	DownloadTTLSeconds int    `toml:"download_ttl_seconds" mapstructure:"download_ttl_seconds" validate:"gt=0"`
	PreviewTTLSeconds  int    `toml:"preview_ttl_seconds" mapstructure:"preview_ttl_seconds" validate:"gt=0"`
}

// SweepConfig controls the periodic orphan sweep.
type SweepConfig struct {
	Schedule           string `toml:"schedule" mapstructure:"schedule" validate:"required"` // cron spec or @every <duration>
	GracePeriodSeconds int    `toml:"grace_period_seconds" mapstructure:"grace_period_seconds" validate:"gte=0"`
	DryRun             bool   `toml:"dry_run" mapstructure:"dry_run"`
}

// ImportConfig holds settings for importing local directories.
type ImportConfig struct {
	Ignore []string `toml:"ignore" mapstructure:"ignore"`
}

// NewConfig creates a new Config rooted at baseDir with local storage and defaults applied.
func NewConfig(baseDir, signingSecret string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:        "sqlite",
			DataDir:     filepath.Join(baseDir, "db"),
			AutoMigrate: true,
		},
		Blob: BlobConfig{
			Type:          "filesystem",
			Name:          "local",
			FSRoot:        filepath.Join(baseDir, "blobs"),
			SigningSecret: signingSecret,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path exactly as
// written, without environment overrides or defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// envKeys are the settings that CASEFS_* environment variables may override,
// e.g. CASEFS_DATABASE_DSN or CASEFS_BLOB_S3_SECRET_ACCESS_KEY.
var envKeys = []string{
	"base_dir", "log_dir",
	"logging.level", "logging.console",
	"database.type", "database.data_dir", "database.dsn", "database.auto_migrate",
	"blob.type", "blob.name", "blob.base_url", "blob.public_base_url", "blob.signing_secret", "blob.fs_root",
	"blob.s3_bucket", "blob.s3_prefix", "blob.s3_region", "blob.s3_endpoint",
	"blob.s3_access_key_id", "blob.s3_secret_access_key", "blob.s3_use_path_style", "blob.s3_max_retries",
	"upload.max_size", "upload.allowed_types",
	"preview.viewer_url", "preview.download_ttl_seconds", "preview.preview_ttl_seconds",
	"sweep.schedule", "sweep.grace_period_seconds", "sweep.dry_run",
	"import.ignore",
}

// Load reads the TOML file at path (a missing file is allowed), applies
// CASEFS_* environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("CASEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file can hold the signing secret and S3 credentials.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
