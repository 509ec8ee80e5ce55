package blobstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"casefs/internal/casefs"
	"casefs/internal/config"
)

// NewBlobStoreFromConfig creates a BlobStore implementation based on the blob config type.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobConfig) (casefs.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		secret := cfg.SigningSecret
		if secret == "" {
			// URLs only need to verify within this process.
			secret = uuid.NewString()
		}
		return NewMemoryStore(cfg.Name, NewURLSigner(secret, cfg.BaseURL), cfg.PublicBaseURL), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
		if cfg.SigningSecret == "" {
			return nil, fmt.Errorf("filesystem blob store requires signing_secret to be set")
		}
		store, err := NewFileSystemStore(cfg.Name, cfg.FSRoot, NewURLSigner(cfg.SigningSecret, cfg.BaseURL), cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := newS3StoreFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}

func newS3StoreFromConfig(ctx context.Context, cfg config.BlobConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 blob store requires s3_bucket to be set")
	}
	if cfg.S3Region == "" {
		return nil, fmt.Errorf("s3 blob store requires s3_region to be set")
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.S3Region),
	}

	// Static credentials when configured, otherwise the default chain.
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.S3MaxRetries
	if maxRetries == 0 {
		maxRetries = config.DefaultS3MaxRetries
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO, Localstack and similar endpoints
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle || cfg.S3Endpoint != ""
	})

	store, err := NewS3Store(ctx, S3StoreConfig{
		Client:        client,
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		KeyPrefix:     cfg.S3Prefix,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 blob store: %w", err)
	}
	return store, nil
}
