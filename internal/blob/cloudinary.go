package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/transport"
)

// UploadResult is the part of the upload response the console uses.
type UploadResult struct {
	SecureURL        string `json:"secure_url"`
	ResourceType     string `json:"resource_type"`
	Format           string `json:"format"`
	OriginalFilename string `json:"original_filename,omitempty"`
}

// Cloudinary uploads unsigned with an upload preset.
type Cloudinary struct {
	http      transport.Requester
	cloudName string
	preset    string
	folder    string
	logger    *events.Logger
}

// NewCloudinary creates an uploader posting to /v1_1/{cloudName}/upload.
func NewCloudinary(requester transport.Requester, cloudName, preset, folder string, logger *events.Logger) *Cloudinary {
	return &Cloudinary{
		http:      requester,
		cloudName: cloudName,
		preset:    preset,
		folder:    folder,
		logger:    logger.WithField("component", "cloudinary"),
	}
}

// Upload implements Uploader.
func (c *Cloudinary) Upload(ctx context.Context, name string, r io.Reader) (*models.Attachment, error) {
	if c.cloudName == "" {
		return nil, &models.ConfigurationError{Field: "blob.cloud_name", Reason: "not configured"}
	}
	if c.preset == "" {
		return nil, &models.ConfigurationError{Field: "blob.upload_preset", Reason: "not configured"}
	}

	fields := map[string]string{"upload_preset": c.preset}
	if c.folder != "" {
		fields["folder"] = c.folder
	}

	c.logger.WithFields(map[string]interface{}{
		"file":   name,
		"folder": c.folder,
	}).Info("Uploading attachment")

	data, err := c.http.PostMultipart(ctx, fmt.Sprintf("/v1_1/%s/upload", c.cloudName), fields, "file", name, r)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	var res UploadResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &models.BackendError{Message: fmt.Sprintf("malformed upload response: %v", err)}
	}
	if res.SecureURL == "" {
		return nil, &models.BackendError{Message: "upload response without secure_url"}
	}

	return &models.Attachment{
		URL:  res.SecureURL,
		Type: attachmentType(res.ResourceType, res.Format),
		Name: name,
	}, nil
}

var _ Uploader = (*Cloudinary)(nil)
