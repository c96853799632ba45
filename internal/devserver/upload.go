package devserver

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// UploadHandler stores image attachments on local disk and serves them
// back by their opaque media_ref.
type UploadHandler struct {
	dir     string
	maxSize int64
}

func NewUploadHandler(dir string, maxSize int64) *UploadHandler {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Errorf("create upload dir %s: %v", dir, err)
	}
	return &UploadHandler{dir: dir, maxSize: maxSize}
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("http.Upload", time.Now())()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
	default:
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type")
		return
	}

	ref := uuid.New().String() + ext
	dst, err := os.Create(filepath.Join(h.dir, ref))
	if err != nil {
		logger.Errorf("create upload file: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		logger.Errorf("write upload file: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	writeJSON(w, http.StatusCreated, protocol.UploadResponse{MediaRef: ref})
}

func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	// filepath.Base strips any traversal attempt out of the ref.
	ref := filepath.Base(chi.URLParam(r, "mediaRef"))
	if ref == "." || ref == "/" {
		writeError(w, http.StatusBadRequest, "invalid media ref")
		return
	}
	http.ServeFile(w, r, filepath.Join(h.dir, ref))
}
