package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"casefs/internal/casefs"
)

// S3Store implements BlobStore using Amazon S3 or S3-compatible storage.
// Keys are stored under an optional prefix; downloads and previews are
// served through presigned GET requests.
type S3Store struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	uploader      *manager.Uploader
	bucket        string
	region        string
	keyPrefix     string
	publicBaseURL string
}

// S3StoreConfig contains configuration for the S3 blob store.
type S3StoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name; it must already exist
	Bucket string

	// Region is used to build public object URLs
	Region string

	// KeyPrefix is an optional prefix for all object keys
	KeyPrefix string

	// PublicBaseURL overrides the virtual-hosted bucket URL in PublicURL
	PublicBaseURL string
}

// NewS3Store creates a new S3-based blob store and verifies bucket access.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	store := &S3Store{
		client:        cfg.Client,
		presigner:     s3.NewPresignClient(cfg.Client),
		uploader:      manager.NewUploader(cfg.Client),
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		keyPrefix:     cfg.KeyPrefix,
		publicBaseURL: cfg.PublicBaseURL,
	}
	if err := store.ValidateSetup(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3Store) objectKey(key string) string {
	return s.keyPrefix + key
}

// isNotFound reports whether err is S3's missing-object response.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// Put streams r to S3, switching to a multipart upload for large objects.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	counter := &countingReader{r: io.LimitReader(r, size+1)}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        counter,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	if counter.n != size {
		// The object is already written; remove it so no short blob remains.
		_, _ = s.client.DeleteObject(context.WithoutCancel(ctx), &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

// Get downloads the object under key into w.
func (s *S3Store) Get(ctx context.Context, key string, w io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", key, casefs.ErrBlobNotFound)
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	return nil
}

// Delete removes the object under key. S3 deletes are idempotent, so the
// object is checked first to report missing keys.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", key, casefs.ErrBlobNotFound)
		}
		return fmt.Errorf("failed to stat %s: %w", key, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Copy duplicates srcKey to dstKey server side.
func (s *S3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + escapeKey(s.objectKey(srcKey))),
		Key:        aws.String(s.objectKey(dstKey)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", srcKey, casefs.ErrBlobNotFound)
		}
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// SignedURL presigns a GET request for key.
func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration, opts casefs.SignedURLOptions) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}
	if opts.Download {
		filename := opts.Filename
		if filename == "" {
			filename = key[strings.LastIndex(key, "/")+1:]
		}
		input.ResponseContentDisposition = aws.String(casefs.ContentDisposition(filename))
	}

	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}

// PublicURL returns the unsigned object URL of key.
func (s *S3Store) PublicURL(key string) string {
	if s.publicBaseURL != "" {
		return joinURL(s.publicBaseURL, s.objectKey(key))
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escapeKey(s.objectKey(key)))
}

// List pages through the objects whose key starts with prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]casefs.BlobInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})

	var infos []casefs.BlobInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			info := casefs.BlobInfo{Key: strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.ModifiedAt = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// ValidateSetup verifies the bucket is reachable with the configured credentials.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to access bucket %q: %w", s.bucket, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Compile-time check that S3Store implements casefs.BlobStore interface
var _ casefs.BlobStore = (*S3Store)(nil)
