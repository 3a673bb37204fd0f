package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/TheMichaelB/clinicdesk/internal/config"
)

// Combined is the single credentials document an operator keeps outside
// the config file.
type Combined struct {
	Auth struct {
		UID   string `json:"uid"`
		Email string `json:"email"`
		Token string `json:"token"`
	} `json:"auth"`
	Completion struct {
		APIKey string `json:"api_key"`
	} `json:"completion"`
	Blob struct {
		CloudName    string `json:"cloud_name"`
		UploadPreset string `json:"upload_preset"`
	} `json:"blob"`
}

// ParseCombined parses JSON bytes into Combined.
func ParseCombined(data []byte) (*Combined, error) {
	var c Combined
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &c, nil
}

// LoadFromFile loads Combined from a local file path.
func LoadFromFile(path string) (*Combined, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCombined(b)
}

// GetObjectAPI is the part of the S3 client used here.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoadFromS3 loads Combined from an s3://bucket/key URI using the default
// AWS credential chain.
func LoadFromS3(ctx context.Context, uri string) (*Combined, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return LoadFromS3Client(ctx, s3.NewFromConfig(cfg), uri)
}

// LoadFromS3Client is LoadFromS3 with a caller-supplied client.
func LoadFromS3Client(ctx context.Context, client GetObjectAPI, uri string) (*Combined, error) {
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return ParseCombined(b)
}

// Load picks the source from ref: s3:// URIs are fetched from S3, anything
// else is a local path.
func Load(ctx context.Context, ref string) (*Combined, error) {
	if strings.HasPrefix(ref, "s3://") {
		return LoadFromS3(ctx, ref)
	}
	return LoadFromFile(ref)
}

func splitS3URI(uri string) (string, string, error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if rest == uri || !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	return bucket, key, nil
}

// Apply fills settings that cfg leaves empty. Values already set in cfg win.
func (c *Combined) Apply(cfg *config.Config) {
	setIfEmpty(&cfg.Auth.UID, c.Auth.UID)
	setIfEmpty(&cfg.Auth.Email, c.Auth.Email)
	setIfEmpty(&cfg.Auth.Token, c.Auth.Token)
	setIfEmpty(&cfg.Completion.APIKey, c.Completion.APIKey)
	setIfEmpty(&cfg.Blob.CloudName, c.Blob.CloudName)
	setIfEmpty(&cfg.Blob.UploadPreset, c.Blob.UploadPreset)
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
