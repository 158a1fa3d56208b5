// Package storage uploads cropped question images to an S3-compatible
// object store (AWS S3, DigitalOcean Spaces, MinIO) and returns stable
// public URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Config holds object-store connection settings.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// CDNURL, when set, is used to build returned URLs instead of the
	// bucket endpoint.
	CDNURL string
	Logger *slog.Logger
}

// StoredObject is the result of a successful upload.
type StoredObject struct {
	URL string
	Key string
}

// UploadError wraps a storage failure with the underlying status. Uploads
// are not retried automatically; retry is a user-facing action at the
// orchestrator level.
type UploadError struct {
	Key    string
	Status string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed (%s): %v", e.Key, e.Status, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Uploader uploads images to the configured bucket.
type Uploader struct {
	client   s3iface.S3API
	bucket   string
	endpoint string
	cdnURL   string
	logger   *slog.Logger
}

// NewUploader creates an uploader from config.
func NewUploader(cfg Config) (*Uploader, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage session: %w", err)
	}

	return &Uploader{
		client:   s3.New(sess),
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		cdnURL:   cfg.CDNURL,
		logger:   logger,
	}, nil
}

// newUploaderWithClient is used by tests to inject a fake S3 API.
func newUploaderWithClient(client s3iface.S3API, bucket, endpoint, cdnURL string) *Uploader {
	return &Uploader{
		client:   client,
		bucket:   bucket,
		endpoint: endpoint,
		cdnURL:   cdnURL,
		logger:   slog.Default(),
	}
}

// Upload puts data at folder/filename. Uploading to an existing key
// overwrites the object, which the re-crop flow relies on: reusing the
// original filename replaces the image at the same URL.
func (u *Uploader) Upload(ctx context.Context, data []byte, folder, filename string) (*StoredObject, error) {
	key := path.Join(folder, filename)

	_, err := u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ACL:         aws.String("public-read"),
		ContentType: aws.String(contentType(filename)),
	})
	if err != nil {
		status := "unknown"
		if aerr, ok := err.(awserr.Error); ok {
			status = aerr.Code()
		}
		return nil, &UploadError{Key: key, Status: status, Err: err}
	}

	u.logger.Debug("uploaded object", "key", key, "bytes", len(data))
	return &StoredObject{URL: u.ObjectURL(key), Key: key}, nil
}

// ObjectURL returns the public URL for a key.
func (u *Uploader) ObjectURL(key string) string {
	if u.cdnURL != "" {
		return fmt.Sprintf("%s/%s", u.cdnURL, key)
	}
	return fmt.Sprintf("https://%s.%s/%s", u.bucket, u.endpoint, key)
}

func contentType(filename string) string {
	switch path.Ext(filename) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
