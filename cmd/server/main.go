package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/snapsell/api/docs"
	"github.com/snapsell/api/internal/admission"
	"github.com/snapsell/api/internal/auth"
	"github.com/snapsell/api/internal/backend"
	"github.com/snapsell/api/internal/catalog"
	"github.com/snapsell/api/internal/client"
	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/handler"
	"github.com/snapsell/api/internal/logging"
	"github.com/snapsell/api/internal/middleware"
	"github.com/snapsell/api/internal/provider"
	"github.com/snapsell/api/internal/server"
	"github.com/snapsell/api/internal/service"
	"github.com/snapsell/api/internal/sizeguard"
	ws "github.com/snapsell/api/internal/websocket"
	"github.com/snapsell/api/internal/worker"
)

// @title          SnapSell Photo API
// @version        1.0
// @description    Backend API for SnapSell, AI product photo processing for marketplace sellers.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Configure Swagger host/scheme based on environment
	if cfg.Server.ApiDomain != "" {
		docs.SwaggerInfo.Host = cfg.Server.ApiDomain
		docs.SwaggerInfo.Schemes = []string{"https"}
	} else {
		docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port
		docs.SwaggerInfo.Schemes = []string{"http"}
	}

	logger := logging.New(cfg.Server.Env, cfg.Server.LogLevel)
	ctx := context.Background()

	// Redis backs the queue and rate limits, and optionally the stores
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis not available")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	stores, err := backend.OpenStores(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open stores")
	}
	defer stores.Close()
	accounts, jobs := stores.Accounts, stores.Jobs

	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to open object storage")
	}

	cat, err := catalog.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load operation catalog")
	}

	validate := validator.New()

	hub := ws.NewHub(logger)
	go hub.Run()

	// Provider clients
	photoroomClient := client.NewPhotoroomClient(&cfg.Photoroom, logger)
	fashnClient := client.NewFashnClient(&cfg.Fashn, logger)
	fetcher := client.NewImageFetcher(cfg.Photoroom.Timeout, 4*cfg.SizeGuard.MaxBytes, logger)

	if !photoroomClient.IsConfigured() {
		logger.Warn().Msg("Photoroom API key not set, studio operations will fail")
	}
	if !fashnClient.IsConfigured() {
		logger.Warn().Msg("FASHN API key not set, model operations will fail")
	}

	dispatcher, err := provider.NewDispatcher(cat,
		provider.NewStudioAdapter(photoroomClient, fetcher, logger),
		provider.NewModelAdapter(fashnClient, fetcher, logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build provider dispatcher")
	}

	guard := sizeguard.New(fetcher, photoroomClient, storage, cfg.SizeGuard.MaxBytes, cfg.SizeGuard.Headroom, logger)
	controller := admission.NewController(accounts, accounts, accounts, logger)

	photoService := service.NewPhotoService(
		cat, validate, controller, accounts, accounts, jobs,
		dispatcher, guard, storage,
		service.PhotoServiceConfig{AllowedHosts: cfg.Images.AllowedHosts},
		logger,
	)
	photoService.SetEnqueuer(asynqClient)
	photoService.SetNotifier(hub)

	uploadService := service.NewUploadService(storage)

	// Zitadel JWKS verifier (optional, falls back to legacy JWT)
	var verifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer jwksVerifier.Close()
			verifier = jwksVerifier
		}
	}

	var apiAuth, streamAuth fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the gateway: ForwardAuth already verified the token
		logger.Info().Msg("Gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
		streamAuth = apiAuth
	} else {
		apiAuth = middleware.NewAuthMiddleware(verifier, cfg.JWT.Secret).Authenticate()
		streamAuth = middleware.NewAuthMiddleware(verifier, cfg.JWT.Secret).WithQueryToken().Authenticate()
	}

	app := server.New(server.Handlers{
		Photo:  handler.NewPhotoHandler(photoService, validate),
		Upload: handler.NewUploadHandler(uploadService, validate),
		Auth:   handler.NewAuthHandler(verifier, cfg.JWT.Secret),
		Stream: handler.NewJobStreamHandler(photoService, hub),
	}, server.Options{
		APIAuth:     apiAuth,
		StreamAuth:  streamAuth,
		RateLimiter: middleware.NewRateLimiter(redisClient, logger),
		RateLimit:   cfg.RateLimit,
		AccessLog:   true,
		Swagger:     true,
		DebugLog:    strings.EqualFold(cfg.Server.LogLevel, "debug"),
		Health: func() fiber.Map {
			return fiber.Map{
				"photoroom": photoroomClient.IsConfigured(),
				"fashn":     fashnClient.IsConfigured(),
				"store":     cfg.Store.Driver,
				"storage":   cfg.Storage.Driver,
				"auth":      verifier != nil || cfg.JWT.Secret != "",
			}
		},
	})

	workerServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{service.PhotoQueue: 1},
		Logger:      worker.NewAsynqLogger(logger),
		LogLevel:    worker.AsynqLevel(cfg.Server.LogLevel),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePhoto, worker.NewPhotoWorker(photoService, logger).ProcessTask)

	if err := workerServer.Start(mux); err != nil {
		logger.Error().Err(err).Msg("Asynq worker not started, queued jobs will wait")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info().Msg("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error().Err(err).Msg("Server shutdown error")
		}
		workerServer.Shutdown()
	}()

	addr := ":" + cfg.Server.Port
	logger.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Str("storage", cfg.Storage.Driver).Msg("Server starting")
	if err := app.Listen(addr); err != nil {
		logger.Fatal().Err(err).Msg("Server error")
	}
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (client.StorageClient, error) {
	switch cfg.Storage.Driver {
	case "r2", "":
		return client.NewR2Client(&cfg.R2)
	case "minio":
		return client.NewMinioClient(ctx, &cfg.Minio)
	case "memory":
		logger.Warn().Msg("Using in-memory object storage, results are not durable")
		return client.NewMemoryStorage(cfg.Storage.PublicBaseURL), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
