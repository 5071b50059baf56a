package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
	"github.com/andrewhuhh/closet-try-on-sub000/pkg/zip"
)

func (a *App) OutfitsList(w http.ResponseWriter, r *http.Request) {
	items, err := a.Store.Outfits(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.OutfitRecord{}
	}
	a.json(w, http.StatusOK, dto.OutfitsResponse{Items: items})
}

func (a *App) OutfitsRemove(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.RemoveOutfit(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) OutfitsClear(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.ClearOutfits(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OutfitsExport streams every outfit image as a zip with a manifest of the
// records. Outfits whose blob is gone are kept in the manifest as missing.
func (a *App) OutfitsExport(w http.ResponseWriter, r *http.Request) {
	items, err := a.Store.Outfits(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	manifest := dto.OutfitExportManifest{ExportedAt: time.Now().UTC(), Items: make([]dto.OutfitExportItem, 0, len(items))}
	entries := make([]zip.Entry, 0, len(items))
	for _, o := range items {
		item := dto.OutfitExportItem{OutfitRecord: o}
		data, err := a.Blobs.Read(r.Context(), o.GeneratedImageRef)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			item.Missing = true
		case err != nil:
			a.fail(w, r, err)
			return
		default:
			item.File = "outfits/" + o.ID + path.Ext(o.GeneratedImageRef)
			entries = append(entries, zip.Entry{Filename: item.File, Data: data, Modified: o.CreatedAt})
		}
		manifest.Items = append(manifest.Items, item)
	}

	archive, err := zip.Archive(entries, manifest)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="outfits-%s.zip"`, manifest.ExportedAt.Format("20060102-150405")))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
