package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioArchiver stores every accepted raw payload in an S3-compatible
// bucket under a content-addressed path, so the unmodified event stream can
// be replayed or audited later.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinioArchiver connects to the object store and ensures the bucket
// exists.
func NewMinioArchiver(ctx context.Context, endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*MinioArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &MinioArchiver{client: client, bucket: bucket}, nil
}

// ObjectKey builds the archive path for one payload:
// {event_type}/{YYYY}/{MM}/{DD}/{HHMMSS}_{uuid}.json
func ObjectKey(eventType string, now time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%s/%s_%s.json", eventType, now.UTC().Format("2006/01/02/150405"), id)
}

// Store archives one raw payload and returns its object key.
func (a *MinioArchiver) Store(ctx context.Context, eventType string, payload []byte) (string, error) {
	key := ObjectKey(eventType, time.Now(), uuid.New())
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to archive %s payload: %w", eventType, err)
	}
	return key, nil
}
