package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Client uploads whole objects to a single bucket under a key prefix.
type Client struct {
	api    ObjectAPI
	bucket string
	prefix string
}

func NewClient(ctx context.Context, cfg config.ArchiveConfig, logg *logger.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := NewClientFrom(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix)
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"bucket": cfg.Bucket,
			"region": cfg.Region,
			"prefix": client.prefix,
		}), "s3 archive client ready")
	}
	return client, nil
}

func NewClientFrom(api ObjectAPI, bucket, prefix string) *Client {
	return &Client{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key joins name onto the configured prefix.
func (c *Client) Key(name string) string {
	if c.prefix == "" {
		return strings.TrimPrefix(name, "/")
	}
	return path.Join(c.prefix, name)
}

// Put uploads body under Key(name).
func (c *Client) Put(ctx context.Context, name string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.Key(name)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", c.bucket, c.Key(name), err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", c.bucket, err)
	}
	return nil
}
