package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/coordinator"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/handlers"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/httpapi"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra/credentials"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra/geoip"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/metrics"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/notify"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/providers/genai"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/storage"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/wardrobe"
)

const shutdownGrace = 20 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer closeStore()

	blobs, err := storage.NewFileStore(cfg.BlobPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}

	creds := credentials.NewStore(st.Backend())
	if seeded, err := creds.SeedGeminiAPIKey(ctx, cfg.GeminiAPIKey); err != nil {
		logger.Warn().Err(err).Msg("failed to seed api key from environment")
	} else if seeded {
		logger.Info().Msg("api key seeded from GEMINI_API_KEY")
	}

	gemini, err := genai.NewClient(genai.Options{
		Credentials:     creds,
		BaseURL:         cfg.GeminiBaseURL,
		Model:           cfg.GeminiModel,
		ValidationModel: cfg.GeminiValidationModel,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build gemini client")
	}

	m := metrics.New()
	hub := notify.NewHub(logger, cfg.CORSAllowedOrigins)

	coord, err := coordinator.New(coordinator.Options{
		Store:         st,
		Generator:     gemini,
		Blobs:         blobs,
		Credentials:   creds,
		Notifier:      hub,
		Metrics:       m,
		Logger:        logger,
		TryOnTimeout:  cfg.TryOnTimeout,
		AvatarTimeout: cfg.AvatarTimeout,
		Locale:        cfg.DefaultLocale,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build coordinator")
	}
	if job, err := coord.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to recover stale generation")
	} else if job != nil {
		logger.Warn().Str("job_id", job.ID).Str("error_kind", string(job.ErrorKind)).Msg("stale generation marked failed")
	}

	importer, err := wardrobe.NewImporter(wardrobe.Options{
		Store:    st,
		Blobs:    blobs,
		MaxBytes: cfg.WardrobeFetchMaxBytes,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build wardrobe importer")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer func() { _ = resolver.Close() }()

	app := handlers.NewApp(handlers.Deps{
		Store:        st,
		Coordinator:  coord,
		Credentials:  creds,
		KeyValidator: gemini,
		Blobs:        blobs,
		Importer:     importer,
		Logger:       logger,
	})
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
		CountryLookup:  resolver.Lookup(),
		Events:         hub,
		Metrics:        m.Handler(),
		StartLimit:     cfg.StartRateLimit,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("store", cfg.StoreDriver).
			Str("model", gemini.Model()).
			Msg("closetd listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("running generation did not finish cleanly")
	}
	logger.Info().Msg("closetd stopped")
}

// openStore builds the status store for STORE_DRIVER. The returned func
// releases the backend's connections.
func openStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*store.Store, func(), error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		backend, err := store.NewPostgresBackend(ctx, infra.NewSQLRunner(pool, logger))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store.New(backend), pool.Close, nil

	case infra.StoreDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		st := store.New(store.NewRedisBackend(client, cfg.RedisKey))
		return st, func() { _ = st.Close() }, nil

	case infra.StoreDriverMemory:
		logger.Warn().Msg("memory store: state is lost on restart")
		return store.New(store.NewMemoryBackend()), func() {}, nil

	default:
		backend, err := store.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		st := store.New(backend)
		return st, func() { _ = st.Close() }, nil
	}
}
