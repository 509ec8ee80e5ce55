package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New()

// Validate checks struct tags, then the cross-field rules of the tagged unions.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	switch cfg.Database.Type {
	case "sqlite":
		if cfg.Database.DataDir == "" {
			return fmt.Errorf("database: data_dir required for sqlite database")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database: dsn required for postgres database")
		}
	}

	switch cfg.Blob.Type {
	case "filesystem":
		if cfg.Blob.FSRoot == "" {
			return fmt.Errorf("blob: fs_root required for filesystem blob store")
		}
		if cfg.Blob.SigningSecret == "" {
			return fmt.Errorf("blob: signing_secret required for filesystem blob store")
		}
	case "s3":
		if cfg.Blob.S3Bucket == "" {
			return fmt.Errorf("blob: s3_bucket required for s3 blob store")
		}
		if cfg.Blob.S3Region == "" {
			return fmt.Errorf("blob: s3_region required for s3 blob store")
		}
		if (cfg.Blob.S3AccessKeyID == "") != (cfg.Blob.S3SecretAccessKey == "") {
			return fmt.Errorf("blob: s3_access_key_id and s3_secret_access_key must be set together")
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
