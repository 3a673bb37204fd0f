package creds_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/config"
	"github.com/TheMichaelB/clinicdesk/internal/creds"
)

const doc = `{
  "auth": {"uid": "u1", "email": "dr@clinic.com", "token": "tok"},
  "completion": {"api_key": "key-123"},
  "blob": {"cloud_name": "demo", "upload_preset": "unsigned"}
}`

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(*in.Bucket, *in.Key)
	if out := args.Get(0); out != nil {
		return out.(*s3.GetObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestLoadFromFileAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	c, err := creds.Load(context.Background(), path)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Auth.Email = "other@clinic.com"
	c.Apply(cfg)

	assert.Equal(t, "u1", cfg.Auth.UID)
	assert.Equal(t, "other@clinic.com", cfg.Auth.Email, "configured value wins")
	assert.Equal(t, "tok", cfg.Auth.Token)
	assert.Equal(t, "key-123", cfg.Completion.APIKey)
	assert.Equal(t, "demo", cfg.Blob.CloudName)
	assert.Equal(t, "unsigned", cfg.Blob.UploadPreset)
}

func TestLoadFromS3Client(t *testing.T) {
	m := &mockS3{}
	m.On("GetObject", "secrets", "clinic/creds.json").
		Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(doc)))}, nil)

	c, err := creds.LoadFromS3Client(context.Background(), m, "s3://secrets/clinic/creds.json")
	require.NoError(t, err)
	assert.Equal(t, "dr@clinic.com", c.Auth.Email)
	m.AssertExpectations(t)
}

func TestLoadFromS3Errors(t *testing.T) {
	m := &mockS3{}
	m.On("GetObject", "secrets", "missing.json").Return(nil, errors.New("NoSuchKey"))

	_, err := creds.LoadFromS3Client(context.Background(), m, "s3://secrets/missing.json")
	assert.ErrorContains(t, err, "NoSuchKey")

	for _, uri := range []string{"s3://bucket", "s3:///key", "/local/path"} {
		_, err = creds.LoadFromS3Client(context.Background(), m, uri)
		assert.ErrorContains(t, err, "invalid s3 uri", uri)
	}
}

func TestParseCombinedInvalid(t *testing.T) {
	_, err := creds.ParseCombined([]byte("{"))
	assert.ErrorContains(t, err, "parse credentials")
}
