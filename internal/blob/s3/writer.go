package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Audit reports are small; one part in flight is enough.
const (
	partSize    = manager.MinUploadPartSize
	concurrency = 1
)

// Writer is the domain.BlobWriter over the bucket of a Client. Objects are
// written once and encrypted at rest.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

func NewWriter(c *Client) *Writer {
	up := manager.NewUploader(c.s3, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
	})
	return &Writer{uploader: up, bucket: c.bucket}
}

func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:               aws.String(w.bucket),
		Key:                  aws.String(key),
		Body:                 data,
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	}
	if _, err := w.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s/%s: %w", w.bucket, key, err)
	}
	return nil
}
