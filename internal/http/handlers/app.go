package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/coordinator"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra/credentials"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/middleware"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/notify"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/storage"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/wardrobe"
)

const maxBodyBytes = 32 << 20

// KeyValidator checks a credential against the generation service.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) error
}

type Deps struct {
	Store        *store.Store
	Coordinator  *coordinator.Coordinator
	Credentials  *credentials.Store
	KeyValidator KeyValidator
	Blobs        *storage.FileStore
	Importer     *wardrobe.Importer
	Logger       infra.Logger
}

type App struct {
	Store        *store.Store
	Coordinator  *coordinator.Coordinator
	Credentials  *credentials.Store
	KeyValidator KeyValidator
	Blobs        *storage.FileStore
	Importer     *wardrobe.Importer

	logger   infra.Logger
	validate *validator.Validate
}

func NewApp(d Deps) *App {
	return &App{
		Store:        d.Store,
		Coordinator:  d.Coordinator,
		Credentials:  d.Credentials,
		KeyValidator: d.KeyValidator,
		Blobs:        d.Blobs,
		Importer:     d.Importer,
		logger:       infra.Component(d.Logger, "http"),
		validate:     validator.New(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, dto.ErrorResponse{Error: dto.ErrorDetail{Code: errCode, Message: message}})
}

// decode reads a JSON body into dst and runs its validate tags.
func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return false
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

// fail maps domain errors onto HTTP responses. Start rejections carry a
// message in the request locale.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	l := notify.NewLocalizer(middleware.LocaleFromContext(r.Context()))

	var pre *domain.PreconditionError
	var gerr *domain.GenerationError
	switch {
	case errors.Is(err, domain.ErrJobInProgress):
		a.error(w, http.StatusConflict, "generation_in_progress", l.PreconditionMessage("generation_in_progress"))
	case errors.As(err, &pre):
		a.error(w, http.StatusPreconditionFailed, string(pre.Reason), l.PreconditionMessage(string(pre.Reason)))
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrInvalidSelection):
		a.error(w, http.StatusUnprocessableEntity, "invalid_selection", err.Error())
	case errors.Is(err, wardrobe.ErrTooLarge):
		a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
	case errors.Is(err, wardrobe.ErrUnsupportedURL), errors.Is(err, wardrobe.ErrNoImageFound):
		a.error(w, http.StatusUnprocessableEntity, "invalid_source", err.Error())
	case errors.As(err, &gerr) && gerr.Kind == domain.KindCompression:
		a.error(w, http.StatusUnprocessableEntity, "invalid_image", gerr.Message)
	default:
		a.logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
