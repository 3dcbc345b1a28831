package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3GetObjectAPI is the subset of the S3 client used by S3Source.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// S3Source reads the mirror document from an S3 object, for installs that
// mirror the registry document into a private bucket.
type S3Source struct {
	client S3GetObjectAPI
	bucket string
	key    string
}

// NewS3Source builds an S3Source from the default AWS credential chain. A
// non-empty endpoint targets an S3-compatible store with path-style addressing.
func NewS3Source(ctx context.Context, bucket, key, endpoint string) (*S3Source, error) {
	awscfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if endpoint != "" && awscfg.Region == "" {
		awscfg.Region = "us-east-1"
	}

	client := awss3.NewFromConfig(awscfg, func(o *awss3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SourceWithClient(client, bucket, key), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client S3GetObjectAPI, bucket, key string) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key}
}

func (s *S3Source) String() string {
	return "s3://" + s.bucket + "/" + s.key
}

// Fetch downloads the object. A missing bucket or key is a permanent failure.
func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noSuchKey *awss3types.NoSuchKey
		var noSuchBucket *awss3types.NoSuchBucket
		if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
			return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return nil, fmt.Errorf("error loading object contents: %w", err)
	}
	defer output.Body.Close()

	contents, err := readAllWithLimit(output.Body, maxDocumentSize)
	if err != nil {
		return nil, fmt.Errorf("error reading object contents: %w", err)
	}
	return contents, nil
}
