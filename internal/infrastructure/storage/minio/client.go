// Package minio uploads search output to MinIO / S3-compatible object
// storage for out_file, sdf_out and smiles_out paths of the form
// s3://bucket/key.
package minio

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// URLScheme prefixes object-storage output paths.
const URLScheme = "s3://"

// ObjectAPI is the subset of *minio.Client used by Uploader.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ ObjectAPI = (*minio.Client)(nil)

// Uploader writes objects, creating buckets on first use.
type Uploader struct {
	client ObjectAPI
	region string
	logger logging.Logger

	mu      sync.Mutex
	buckets map[string]bool
}

// NewUploader builds an Uploader from configuration.  No request is made
// until the first upload.
func NewUploader(cfg config.MinIOConfig, log logging.Logger) (*Uploader, error) {
	if cfg.Endpoint == "" {
		return nil, errors.InvalidParam("minio.endpoint is required for s3:// output")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "failed to create minio client")
	}
	u := NewUploaderWithAPI(client, log)
	u.region = cfg.Region
	return u, nil
}

// NewUploaderWithAPI wraps an existing ObjectAPI.
func NewUploaderWithAPI(api ObjectAPI, log logging.Logger) *Uploader {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Uploader{client: api, logger: log, buckets: make(map[string]bool)}
}

// ParseObjectURL splits s3://bucket/key.  ok is false for anything else,
// including a missing bucket or key.
func ParseObjectURL(s string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(s, URLScheme) {
		return "", "", false
	}
	bucket, key, found := strings.Cut(strings.TrimPrefix(s, URLScheme), "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// IsObjectURL reports whether s names an object-storage location.
func IsObjectURL(s string) bool {
	return strings.HasPrefix(s, URLScheme)
}

func (u *Uploader) ensureBucket(ctx context.Context, bucket string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.buckets[bucket] {
		return nil
	}
	exists, err := u.client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to check bucket").WithDetail(bucket)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: u.region}); err != nil {
			return errors.Wrap(err, errors.CodeStorageError, "failed to create bucket").WithDetail(bucket)
		}
		u.logger.Info("bucket created", logging.String("bucket", bucket))
	}
	u.buckets[bucket] = true
	return nil
}

// Upload stores size bytes from r at bucket/key.  size -1 streams with
// multipart upload.
func (u *Uploader) Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if err := u.ensureBucket(ctx, bucket); err != nil {
		return err
	}
	info, err := u.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "failed to upload object").WithDetail(bucket + "/" + key)
	}
	u.logger.Debug("object uploaded",
		logging.String("bucket", bucket),
		logging.String("key", key),
		logging.Int64("size", info.Size),
	)
	return nil
}
