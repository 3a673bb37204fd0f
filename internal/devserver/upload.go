package devserver

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/TheMichaelB/clinicdesk/internal/blob"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

// handleUpload accepts an unsigned multipart upload and answers like the
// hosted media service.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodySize)
	if err := r.ParseMultipartForm(s.opts.MaxBodySize); err != nil {
		writeUploadError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}

	if r.FormValue("upload_preset") == "" {
		writeUploadError(w, http.StatusBadRequest, "Upload preset must be specified when using unsigned upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeUploadError(w, http.StatusBadRequest, "Missing required parameter - file")
		return
	}
	defer file.Close()

	name := path.Base(filepath.ToSlash(header.Filename))
	folder := strings.Trim(r.FormValue("folder"), "/")
	rel := path.Join(chi.URLParam(r, "cloud"), folder, store.NewKey()+"-"+name)

	stored, err := s.files.WriteStream(rel, file)
	if err != nil {
		events.FromContext(r.Context()).WithError(err).Warn("Upload rejected")
		writeUploadError(w, http.StatusBadRequest, err.Error())
		return
	}

	resourceType, format := uploadKind(name)

	events.FromContext(r.Context()).WithFields(map[string]interface{}{
		"file": stored.Path,
		"size": stored.Size,
	}).Info("Stored upload")

	writeJSON(w, http.StatusOK, blob.UploadResult{
		SecureURL:        s.publicURL(r) + "/files/" + stored.Path,
		ResourceType:     resourceType,
		Format:           format,
		OriginalFilename: strings.TrimSuffix(name, path.Ext(name)),
	})
}

func (s *Server) publicURL(r *http.Request) string {
	if s.opts.PublicURL != "" {
		return strings.TrimRight(s.opts.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func uploadKind(name string) (resourceType, format string) {
	format = strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	switch format {
	case "png", "jpg", "jpeg", "gif", "webp", "bmp", "svg":
		return "image", format
	default:
		return "raw", format
	}
}

// writeUploadError uses the media service's nested envelope.
func writeUploadError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}
