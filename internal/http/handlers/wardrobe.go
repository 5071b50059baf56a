package handlers

import (
	"net/http"
	"strings"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/wardrobe"
)

func (a *App) WardrobeList(w http.ResponseWriter, r *http.Request) {
	items, err := a.Store.ClothingItems(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.ClothingItem{}
	}
	a.json(w, http.StatusOK, dto.WardrobeResponse{Items: items})
}

// WardrobeAdd imports by URL or inline image. Duplicates answer 200 with the
// existing item, new items 201.
func (a *App) WardrobeAdd(w http.ResponseWriter, r *http.Request) {
	var req dto.WardrobeAddRequest
	if !a.decode(w, r, &req) {
		return
	}

	var (
		res wardrobe.Result
		err error
	)
	if strings.TrimSpace(req.URL) != "" {
		res, err = a.Importer.AddFromURL(r.Context(), req.URL)
	} else {
		data, derr := dto.DecodeImage(req.Image)
		if derr != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "image must be base64")
			return
		}
		res, err = a.Importer.AddImage(r.Context(), data, &domain.SourceMetadata{MIMEType: http.DetectContentType(data)})
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Added {
		code = http.StatusCreated
	}
	a.json(w, code, dto.WardrobeAddResponse{Item: res.Item, Added: res.Added})
}

func (a *App) WardrobeRemove(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.URL.Query().Get("ref"))
	if ref == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "ref is required")
		return
	}
	if err := a.Importer.Remove(r.Context(), ref); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
