// Package exports publishes finished case exports to an S3-compatible
// bucket so that large downloads can be fetched out of band.
package exports

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config locates the export bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration
}

// BucketUploader streams export objects into a minio bucket and hands back
// presigned GET URLs.
type BucketUploader struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewBucketUploader creates the client and ensures the bucket exists.
func NewBucketUploader(cfg Config) (*BucketUploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("export bucket endpoint missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	u := &BucketUploader{client: mc, bucket: cfg.Bucket, expiry: expiry}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := mc.BucketExists(ctx, u.bucket)
		if checkErr != nil || !exists {
			return nil, fmt.Errorf("ensure export bucket: %w", err)
		}
	}
	return u, nil
}

// Upload streams the object into the bucket and returns a presigned URL for
// it. The reader is consumed fully; size is unknown up front because
// exports are produced lazily.
func (u *BucketUploader) Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	_, err := u.client.PutObject(ctx, u.bucket, key, r, -1, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}
