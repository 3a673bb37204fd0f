// Package blob uploads journal attachments to object storage.
package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/clinicdesk/internal/config"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/transport"
)

// Uploader stores one file and describes it for a journal message.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (*models.Attachment, error)
}

// DocumentType is the attachment type of every non-image upload.
const DocumentType = "application/pdf"

// attachmentType maps a storage resource type to the attachment type:
// images keep their format, everything else is a document.
func attachmentType(resourceType, format string) string {
	if resourceType == "image" && format != "" {
		return format
	}
	return DocumentType
}

// classify derives resource type and format from a file name.
func classify(name string) (resourceType, format string) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return "raw", ""
	}
	if strings.HasPrefix(mime.TypeByExtension("."+ext), "image/") {
		return "image", ext
	}
	return "raw", ext
}

// contentType returns the MIME type for a file name.
func contentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// New builds the uploader selected by cfg.Provider.
func New(ctx context.Context, cfg *config.BlobConfig, logger *events.Logger) (Uploader, error) {
	switch cfg.Provider {
	case "cloudinary":
		client := transport.NewHTTPClient(transport.Options{
			BaseURL:   cfg.BaseURL,
			Timeout:   60 * time.Second,
			UserAgent: "clinicdesk/1.0",
		}, logger)
		return NewCloudinary(client, cfg.CloudName, cfg.UploadPreset, cfg.Folder, logger), nil
	case "s3":
		return NewS3Uploader(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, logger)
	default:
		return nil, &models.ConfigurationError{
			Field:  "blob.provider",
			Reason: fmt.Sprintf("unknown provider %q", cfg.Provider),
		}
	}
}
