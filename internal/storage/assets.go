// internal/storage/assets.go
package storage

import (
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// MountUploads serves uploaded question images.
//
// GET /uploads/question_images/{filename}
func MountUploads(r chi.Router, bs BlobStore) {
	r.Get("/question_images/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" || strings.Contains(filename, "/") || strings.Contains(filename, "..") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		rc, err := bs.Get(path.Join("question_images", filename))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer rc.Close()
		ct := mime.TypeByExtension(filepath.Ext(filename))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		_, _ = io.Copy(w, rc)
	})
}
