package materialize

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// PresignExpiry is how long materialized asset URLs stay valid. The UI
// refreshes URLs on draft load, so expiry only needs to outlive one
// editing session.
const PresignExpiry = 12 * time.Hour

// ObjectStore is the durable storage surface the materializer writes to.
type ObjectStore interface {
	// Upload writes an object and returns nothing; keys are
	// draft-scoped, e.g. drafts/{draftId}/scene-0002/req-abc.jpg.
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error

	// PresignGet returns a time-limited GET URL for an uploaded object.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// S3ObjectStore implements ObjectStore on a single S3 bucket.
type S3ObjectStore struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

var _ ObjectStore = (*S3ObjectStore)(nil)

func NewS3ObjectStore(client *s3.Client, bucket string) *S3ObjectStore {
	return &S3ObjectStore{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}
}

func (o *S3ObjectStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	log.Debug().Str("bucket", o.bucket).Str("key", key).Str("contentType", contentType).Msg("Uploading to S3")

	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &o.bucket,
		Key:         &key,
		Body:        body,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	return nil
}

func (o *S3ObjectStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	result, err := o.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &o.bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", key, err)
	}
	return result.URL, nil
}
