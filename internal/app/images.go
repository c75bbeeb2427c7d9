package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"formhub/api/internal/store"
)

// maxImageSize caps template image uploads at 5 MiB.
const maxImageSize = 5 << 20

var imageContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type ImageUploadView struct {
	URL string `json:"url"`
}

// UploadImage stores a template image and returns its public URL. The
// template references it by URL only, so uploads are decoupled from
// template writes.
func (s *Service) UploadImage(ctx context.Context, caller *store.User, contentType string, body io.Reader, size int64) (ImageUploadView, error) {
	if caller == nil {
		return ImageUploadView{}, errUnauthorized()
	}
	if s.images == nil {
		return ImageUploadView{}, domainError(http.StatusServiceUnavailable, "NOT_CONFIGURED", "Image storage is not configured", nil)
	}
	ext, ok := imageContentTypes[contentType]
	if !ok {
		return ImageUploadView{}, errValidation([]map[string]string{{
			"field":  "file",
			"rule":   "contentType",
			"reason": fmt.Sprintf("unsupported content type %q", contentType),
		}})
	}
	if size > maxImageSize {
		return ImageUploadView{}, errValidation([]map[string]string{{
			"field":  "file",
			"rule":   "maxSize",
			"reason": "image exceeds the 5 MiB limit",
		}})
	}

	// Client filenames are not trusted; the key is a fresh UUID plus the
	// extension implied by the content type.
	key := "templates/" + uuid.NewString() + ext
	url, err := s.images.Put(ctx, key, body, size, contentType)
	if err != nil {
		return ImageUploadView{}, fmt.Errorf("store image: %w", err)
	}
	return ImageUploadView{URL: url}, nil
}

func (srv *HTTPServer) handleImages(w http.ResponseWriter, r *http.Request, caller *store.User, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "missing file field", nil)
		return
	}
	defer file.Close()

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	view, err := srv.service.UploadImage(r.Context(), caller, contentType, file, header.Size)
	if err != nil {
		srv.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}
