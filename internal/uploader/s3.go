// Package uploader offloads job artifacts to S3-compatible object storage
// when a bucket endpoint is configured, instead of inlining them base64 in
// the response.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options for a bucket uploader. AccessKeyID/SecretAccessKey are optional;
// when empty the SDK's default credential chain applies.
type Options struct {
	EndpointURL     string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type BucketUploader struct {
	client   *s3.Client
	endpoint string
	bucket   string
}

func New(ctx context.Context, opts Options) (*BucketUploader, error) {
	if opts.EndpointURL == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("bucket uploader requires endpoint URL and bucket name")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.EndpointURL)
		o.UsePathStyle = true
	})

	return &BucketUploader{
		client:   client,
		endpoint: strings.TrimRight(opts.EndpointURL, "/"),
		bucket:   opts.Bucket,
	}, nil
}

// Upload stores one artifact under <job id>/<filename> and returns its URL.
func (u *BucketUploader) Upload(ctx context.Context, jobID, filename, contentType string, data []byte) (string, error) {
	key := path.Join(jobID, filename)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", u.endpoint, u.bucket, key), nil
}
