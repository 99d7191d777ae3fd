package aws

import (
	"context"
	"fmt"
	"io"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pdfchat/rolebroker/broker"
)

// defaultRegion needs no LocationConstraint on CreateBucket; S3 rejects one.
const defaultRegion = "us-east-1"

type s3API interface {
	s3.ListObjectsV2APIClient
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// ObjectStore performs bucket and object operations on behalf of one
// broker session, signing requests with that session's credentials.
type ObjectStore struct {
	client s3API
	region string
}

// NewObjectStore builds an S3 client from cached session credentials. No
// shared config or environment credentials are consulted.
func NewObjectStore(region string, creds broker.Credentials) *ObjectStore {
	cfg := awsv2.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
	}
	return newObjectStore(s3.NewFromConfig(cfg), region)
}

func newObjectStore(client s3API, region string) *ObjectStore {
	return &ObjectStore{client: client, region: region}
}

func (o *ObjectStore) CreateBucket(ctx context.Context, bucket string) error {
	in := &s3.CreateBucketInput{Bucket: awsv2.String(bucket)}
	if o.region != "" && o.region != defaultRegion {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(o.region),
		}
	}
	if _, err := o.client.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// ListObjects returns every object key in bucket, following continuation
// tokens.
func (o *ObjectStore) ListObjects(ctx context.Context, bucket string) ([]string, error) {
	keys := []string{}
	p := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{Bucket: awsv2.String(bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, awsv2.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (o *ObjectStore) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        awsv2.String(bucket),
		Key:           awsv2.String(key),
		Body:          body,
		ContentLength: awsv2.Int64(size),
	}
	if contentType != "" {
		in.ContentType = awsv2.String(contentType)
	}
	if _, err := o.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (o *ObjectStore) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awsv2.String(bucket),
		Key:    awsv2.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (o *ObjectStore) DeleteBucket(ctx context.Context, bucket string) error {
	if _, err := o.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: awsv2.String(bucket)}); err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	return nil
}
