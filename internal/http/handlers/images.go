package handlers

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Image serves a blob by ref. Refs are content addressed, so responses are
// cacheable forever.
func (a *App) Image(w http.ResponseWriter, r *http.Request) {
	key := path.Join("images", chi.URLParam(r, "*"))
	if !strings.HasPrefix(key, "images/") {
		a.error(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	data, err := a.Blobs.Read(r.Context(), key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
