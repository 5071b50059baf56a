package handlers

import (
	"errors"
	"net/http"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
)

func (a *App) APIKeyStatus(w http.ResponseWriter, r *http.Request) {
	key, err := a.Credentials.GeminiAPIKey(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := dto.APIKeyStatusResponse{Configured: key != ""}
	if key != "" {
		resp.Masked = dto.MaskKey(key)
	}
	a.json(w, http.StatusOK, resp)
}

// APIKeySet stores the key only after the generation service accepts it.
func (a *App) APIKeySet(w http.ResponseWriter, r *http.Request) {
	var req dto.APIKeyRequest
	if !a.decode(w, r, &req) {
		return
	}
	if a.KeyValidator != nil {
		if err := a.KeyValidator.ValidateKey(r.Context(), req.Key); err != nil {
			var gerr *domain.GenerationError
			if errors.As(err, &gerr) && gerr.Kind != domain.KindNetwork && gerr.Kind != domain.KindTimeout {
				msg := domain.UserMessageOf(err)
				if msg == "" {
					msg = gerr.Message
				}
				a.error(w, http.StatusUnprocessableEntity, string(gerr.Kind), msg)
				return
			}
			a.error(w, http.StatusBadGateway, string(domain.KindOf(err)), "could not reach the generation service to validate the key")
			return
		}
	}
	if err := a.Credentials.SetGeminiAPIKey(r.Context(), req.Key); err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info().Msg("api key updated")
	a.json(w, http.StatusOK, dto.APIKeyStatusResponse{Configured: true, Masked: dto.MaskKey(req.Key)})
}

func (a *App) APIKeyClear(w http.ResponseWriter, r *http.Request) {
	if err := a.Credentials.ClearGeminiAPIKey(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
