package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "coinflow/config"
	"coinflow/internal/models"
)

// S3Mirror copies snapshot artifacts to an S3 bucket using Hive-style
// partition keys, so mirrored data stays queryable by symbol and day.
type S3Mirror struct {
	client  *s3.Client
	bucket  string
	version string
}

// NewS3Mirror configures the S3 client from storage settings. It returns an
// error when S3 mirroring is disabled.
func NewS3Mirror(cfg *appconfig.Config) (*S3Mirror, error) {
	s3cfg := cfg.Storage.S3
	if !s3cfg.Enabled {
		return nil, fmt.Errorf("s3 mirroring disabled")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	return &S3Mirror{
		client:  client,
		bucket:  s3cfg.Bucket,
		version: cfg.Coinflow.Version,
	}, nil
}

// ObjectKey builds the partitioned key for a snapshot artifact. A uuid suffix
// keeps keys unique even if the same block is mirrored twice.
func ObjectKey(block *models.FetchBlock, name string) string {
	datePart := time.Unix(block.FetchedAt, 0).UTC().Format("2006-01-02")
	base := strings.TrimSuffix(name, ".json")
	return path.Join(
		"snapshots",
		fmt.Sprintf("symbol=%s", sanitizeSymbol(block.Symbol)),
		fmt.Sprintf("date=%s", datePart),
		fmt.Sprintf("%s_%s.json", base, uuid.NewString()),
	)
}

// Upload copies one snapshot artifact to the bucket.
func (m *S3Mirror) Upload(ctx context.Context, block *models.FetchBlock, name string, data []byte) error {
	key := ObjectKey(block, name)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"coinflow-version": m.version,
		},
	})
	if err != nil {
		return fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return nil
}
