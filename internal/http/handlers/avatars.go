package handlers

import (
	"net/http"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
)

func (a *App) AvatarsList(w http.ResponseWriter, r *http.Request) {
	view, err := a.Store.AvatarView(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) AvatarsSelect(w http.ResponseWriter, r *http.Request) {
	var req dto.SelectAvatarRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Store.SelectAvatar(r.Context(), *req.Index); err != nil {
		a.fail(w, r, err)
		return
	}
	view, err := a.Store.AvatarView(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) AvatarsClear(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.ClearAvatars(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
