package httpstream

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Origin fetches byte ranges and full sizes of objects from the backing
// store. The server depends on this interface, not on S3 directly, so tests
// can fake it.
type Origin interface {
	// Size returns the total size in bytes of the object at key.
	Size(ctx context.Context, key string) (int64, error)

	// FetchRange returns the bytes of key in [start, start+length), along
	// with the object's content type as reported by the store. length may
	// exceed the object's remaining size; the store clamps it.
	FetchRange(ctx context.Context, key string, start, length int64) ([]byte, string, error)
}

// S3Origin is an Origin backed by an AWS S3 bucket.
type S3Origin struct {
	client *s3.Client
	bucket string
}

// NewS3Origin builds an S3Origin for bucket using the AWS SDK's default
// credential chain, scoped to region.
func NewS3Origin(ctx context.Context, bucket, region string) (*S3Origin, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("httpstream: loading AWS config: %w", err)
	}
	return &S3Origin{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// Size implements Origin.
func (o *S3Origin) Size(ctx context.Context, key string) (int64, error) {
	out, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("httpstream: head %s: %w", key, err)
	}
	if out.ContentLength == nil {
		return 0, fmt.Errorf("httpstream: head %s: no content-length", key)
	}
	return *out.ContentLength, nil
}

// FetchRange implements Origin.
func (o *S3Origin) FetchRange(ctx context.Context, key string, start, length int64) ([]byte, string, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, start+length-1)

	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, "", fmt.Errorf("httpstream: get %s range %s: %w", key, rangeHeader, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("httpstream: reading %s range %s: %w", key, rangeHeader, err)
	}

	contentType := "video/mp4"
	if out.ContentType != nil && *out.ContentType != "" {
		contentType = *out.ContentType
	}
	return data, contentType, nil
}
