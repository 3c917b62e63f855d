package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cfg "github.com/markdave123-py/kbchat/internal/config"
	"github.com/markdave123-py/kbchat/internal/core"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
	manager.UploadAPIClient
}

// S3Client is the knowledge-base container: every object under prefix is a
// candidate for ingestion.
type S3Client struct {
	client S3API
	region string
	bucket string
	prefix string
}

func NewS3Client(ctx context.Context, c *cfg.Config) (*S3Client, error) {
	if c.AwsAccessKey == "" || c.AwsSecretKey == "" {
		return nil, core.ConfigError("AWS credentials not set")
	}
	if c.AwsRegion == "" {
		return nil, core.ConfigError("AWS_REGION not set")
	}
	if c.BucketName == "" {
		return nil, core.ConfigError("S3 bucket name not set")
	}

	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(c.AwsRegion),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AwsAccessKey, c.AwsSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	slog.Info("s3 blob source ready", "bucket", c.BucketName, "prefix", c.BlobPrefix)
	return NewS3ClientWithAPI(s3.NewFromConfig(awsCfg), c.AwsRegion, c.BucketName, c.BlobPrefix), nil
}

// NewS3ClientWithAPI wraps an existing client, e.g. one pointed at MinIO.
func NewS3ClientWithAPI(api S3API, region, bucket, prefix string) *S3Client {
	return &S3Client{client: api, region: region, bucket: bucket, prefix: prefix}
}

// List returns every object key under the prefix, skipping folder markers.
func (c *S3Client) List(ctx context.Context) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Download fetches one object into memory.
func (c *S3Client) Download(ctx context.Context, key string) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	buf := manager.NewWriteAtBuffer(nil)
	downloader := manager.NewDownloader(c.client)
	if _, err := downloader.Download(ctxGet, buf, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	return buf.Bytes(), nil
}

// UploadFile uploads a file into the container and returns its URL.
func (c *S3Client) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	uploader := manager.NewUploader(c.client)

	fullKey := c.prefix + key
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := uploader.Upload(ctxUpload, input); err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.bucket, c.region, fullKey)
	return url, nil
}

var (
	_ core.BlobSource   = (*S3Client)(nil)
	_ core.BlobUploader = (*S3Client)(nil)
)
