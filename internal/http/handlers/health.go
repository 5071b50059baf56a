package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	status, err := a.Store.GenerationStatus(r.Context())
	if err != nil {
		a.json(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "store": err.Error()})
		return
	}
	a.json(w, http.StatusOK, map[string]any{"status": "ok", "generationInProgress": status.InProgress})
}
