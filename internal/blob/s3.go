package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// PutObjectAPI is the S3 call the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores attachments in a bucket and links them by their
// virtual-hosted URL.
type S3Uploader struct {
	client PutObjectAPI
	bucket string
	region string
	prefix string
	logger *events.Logger
}

// NewS3Uploader loads the default AWS configuration.
func NewS3Uploader(ctx context.Context, bucket, region, prefix string, logger *events.Logger) (*S3Uploader, error) {
	if bucket == "" {
		return nil, &models.ConfigurationError{Field: "blob.s3_bucket", Reason: "not configured"}
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewS3UploaderWithClient(s3.NewFromConfig(cfg), bucket, cfg.Region, prefix, logger), nil
}

// NewS3UploaderWithClient uses an existing client.
func NewS3UploaderWithClient(client PutObjectAPI, bucket, region, prefix string, logger *events.Logger) *S3Uploader {
	return &S3Uploader{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.WithField("component", "s3_uploader"),
	}
}

func (u *S3Uploader) buildKey(name string) string {
	base := uuid.NewString() + "-" + path.Base(strings.ReplaceAll(name, "\\", "/"))
	if u.prefix == "" {
		return base
	}
	return u.prefix + "/" + base
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, name string, r io.Reader) (*models.Attachment, error) {
	key := u.buildKey(name)

	// The SDK signs the payload, so it needs a seekable body.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(name)),
		Metadata: map[string]string{
			"name": name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put object: %w", err)
	}

	u.logger.WithFields(map[string]interface{}{
		"bucket": u.bucket,
		"key":    key,
		"size":   len(data),
	}).Info("Uploaded attachment to S3")

	resourceType, format := classify(name)
	return &models.Attachment{
		URL:  u.objectURL(key),
		Type: attachmentType(resourceType, format),
		Name: name,
	}, nil
}

func (u *S3Uploader) objectURL(key string) string {
	host := u.bucket + ".s3.amazonaws.com"
	if u.region != "" {
		host = fmt.Sprintf("%s.s3.%s.amazonaws.com", u.bucket, u.region)
	}
	return "https://" + host + "/" + key
}

var _ Uploader = (*S3Uploader)(nil)
