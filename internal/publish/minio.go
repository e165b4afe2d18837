// Package publish mirrors the rendered feed to an S3-compatible
// bucket so it can be subscribed to without running the daemon.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"untisfeed/internal/config"
	appLog "untisfeed/internal/log"
)

const contentType = "text/calendar"

// Uploader pushes feed documents to one bucket.
type Uploader struct {
	client *minio.Client
	bucket string
	object string
}

// NewUploader creates an Uploader from the upload config block.
func NewUploader(cfg *config.UploadConfig) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	object := cfg.Object
	if object == "" {
		object = "calendar.ics"
	}

	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		object: object,
	}, nil
}

// Upload writes the feed bytes to the configured object. name replaces
// the object's base name so the exams feed can live next to the main
// one.
func (u *Uploader) Upload(ctx context.Context, name string, data []byte) error {
	object := u.object
	if name != "" {
		object = path.Join(path.Dir(u.object), name)
	}

	_, err := u.client.PutObject(ctx, u.bucket, object,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", u.bucket, object, err)
	}

	appLog.Info("feed uploaded", "bucket", u.bucket, "object", object, "bytes", len(data))
	return nil
}
