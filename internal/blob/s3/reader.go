package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Reader fetches archives and backtest CSVs from an S3-compatible backend.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader reads from c's bucket by default.
func NewReader(c *Client) *Reader {
	return &Reader{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Get returns the body of path in the configured bucket; the caller closes
// it.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return r.getObject(ctx, r.bucket, path)
}

// Open reads an object named by an s3:// URI, which may live in a bucket
// other than the configured one. Backtest sources are opened this way.
func (r *Reader) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return r.getObject(ctx, bucket, key)
}

func (r *Reader) getObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return out.Body, nil
	case isNotFound(err):
		return nil, fmt.Errorf("s3blob: get s3://%s/%s: %w", bucket, key, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("s3blob: get s3://%s/%s: %w", bucket, key, err)
	}
}

var _ domain.BlobReader = (*Reader)(nil)

// isNotFound matches NoSuchKey and bare 404 responses from S3-compatible
// stores that omit the error code.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == 404
}
