package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/handlers"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/middleware"
)

// Options wires the non-handler surfaces of the router.
type Options struct {
	Logger         infra.Logger
	AllowedOrigins []string
	DefaultLocale  string
	CountryLookup  middleware.CountryLookup
	// Events serves the websocket push channel.
	Events http.Handler
	// Metrics serves the prometheus scrape endpoint.
	Metrics http.Handler
	// StartLimit caps generation starts and wardrobe imports per client IP
	// per minute. Zero disables the limit.
	StartLimit int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	limiter := func(h http.Handler) http.Handler { return h }
	if opts.StartLimit > 0 {
		limiter = middleware.RateLimit(opts.StartLimit, time.Minute)
	}
	limited := func(h http.HandlerFunc) http.Handler { return limiter(h) }

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)

		r.Get("/generation/status", app.GenerationStatus)
		r.Get("/snapshot", app.Snapshot)
		if opts.Events != nil {
			r.Handle("/events", opts.Events)
		}
		r.Method(http.MethodPost, "/tryon", limited(app.TryOn))

		r.Route("/avatars", func(r chi.Router) {
			r.Get("/", app.AvatarsList)
			r.Delete("/", app.AvatarsClear)
			r.Put("/selected", app.AvatarsSelect)
			r.Method(http.MethodPost, "/generate", limited(app.AvatarsGenerate))
			r.Method(http.MethodPost, "/retry", limited(app.AvatarsRetry))
		})

		r.Route("/outfits", func(r chi.Router) {
			r.Get("/", app.OutfitsList)
			r.Delete("/", app.OutfitsClear)
			r.Get("/export", app.OutfitsExport)
			r.Delete("/{id}", app.OutfitsRemove)
		})

		r.Route("/wardrobe", func(r chi.Router) {
			r.Get("/", app.WardrobeList)
			r.Method(http.MethodPost, "/", limited(app.WardrobeAdd))
			r.Delete("/", app.WardrobeRemove)
		})

		r.Get("/images/*", app.Image)

		r.Route("/settings/api-key", func(r chi.Router) {
			r.Get("/", app.APIKeyStatus)
			r.Put("/", app.APIKeySet)
			r.Delete("/", app.APIKeyClear)
		})
	})

	return r
}
