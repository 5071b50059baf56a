package handlers

import (
	"net/http"
	"time"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/coordinator"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/middleware"
)

func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.Store.GenerationStatus(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, dto.StatusResponse{
		GenerationStatus: status,
		ElapsedMs:        status.Elapsed(time.Now()).Milliseconds(),
	})
}

// Snapshot returns the status together with the avatar, outfit and wardrobe
// galleries as one consistent read.
func (a *App) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Store.Snapshot(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if snap.Outfits == nil {
		snap.Outfits = []domain.OutfitRecord{}
	}
	if snap.ClothingItems == nil {
		snap.ClothingItems = []domain.ClothingItem{}
	}
	a.json(w, http.StatusOK, snap)
}

func (a *App) TryOn(w http.ResponseWriter, r *http.Request) {
	var req dto.TryOnRequest
	if !a.decode(w, r, &req) {
		return
	}
	garments := make([][]byte, 0, len(req.Garments))
	for _, g := range req.Garments {
		data, err := dto.DecodeImage(g)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "garments must be base64 images")
			return
		}
		garments = append(garments, data)
	}

	job, err := a.Coordinator.StartTryOn(r.Context(), coordinator.TryOnRequest{
		GarmentRefs:  req.GarmentRefs,
		Garments:     garments,
		AvatarIndex:  req.AvatarIndex,
		Instructions: req.Instructions,
		Locale:       middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, dto.JobResponse{Job: job.Snapshot()})
}

func (a *App) AvatarsGenerate(w http.ResponseWriter, r *http.Request) {
	var req dto.AvatarGenerateRequest
	if !a.decode(w, r, &req) {
		return
	}
	photos := make([][]byte, 0, len(req.Photos))
	for _, p := range req.Photos {
		data, err := dto.DecodeImage(p)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "photos must be base64 images")
			return
		}
		photos = append(photos, data)
	}

	job, err := a.Coordinator.StartAvatarBatch(r.Context(), coordinator.AvatarRequest{
		Photos: photos,
		Locale: middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, dto.JobResponse{Job: job.Snapshot()})
}

func (a *App) AvatarsRetry(w http.ResponseWriter, r *http.Request) {
	var req dto.AvatarRetryRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	job, err := a.Coordinator.RetryAvatars(r.Context(), coordinator.RetryRequest{
		PoseIDs: req.PoseIDs,
		Locale:  middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, dto.JobResponse{Job: job.Snapshot()})
}
