// main.go - The entry point and router setup.

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/configs"
	"github.com/bosocmputer/identity_ocr_gemini/internal/ai"
	"github.com/bosocmputer/identity_ocr_gemini/internal/api"
	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/extractor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/monitor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/ratelimit"
	"github.com/bosocmputer/identity_ocr_gemini/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Monitor samples older than this are dropped by the background sweep.
const sampleRetention = time.Hour

func main() {
	// Step 0: Load configuration from environment variables
	cfg := configs.LoadConfig()
	logger := common.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		logger.Error("config.invalid", "error", err)
		os.Exit(1)
	}
	redactor := common.NewRedactor(cfg.Provider.GeminiAPIKey, cfg.Provider.MistralAPIKey, cfg.Minio.SecretKey)

	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 1: Providers share one rate limiter
	limiter := ratelimit.NewRateLimiter(cfg.Provider.RateLimitTokens, cfg.Provider.RateLimitRefill)
	providers, err := ai.CreateProviders(ctx, cfg.Provider, ai.CallOptionsFromConfig(cfg.Provider, limiter, logger, redactor))
	if err != nil {
		logger.Error("providers.init_failed", "error", err)
		os.Exit(1)
	}
	defer ai.CloseProviders(providers)

	// Step 2: Cache, with Redis as the shared tier when configured
	var shared storage.SharedCache
	handlerOpts := []api.Option{api.WithLogger(logger), api.WithMaxUploadBytes(cfg.Pipeline.MaxUploadSizeBytes)}
	redisClient, err := storage.NewRedisClient(ctx, cfg.Cache.RedisURL)
	if err != nil {
		logger.Warn("redis.unavailable", "error", err)
	} else if redisClient != nil {
		defer redisClient.Close()
		redisCache := storage.NewRedisCache(redisClient)
		shared = redisCache
		handlerOpts = append(handlerOpts, api.WithHealthCheck("redis", redisCache.Health))
		logger.Info("redis.connected")
	}
	cache := storage.NewExtractionCache(cfg.Cache.Size, cfg.Cache.TTL, shared, logger)

	// Step 3: Monitor and Prometheus registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	perf := monitor.New(registry)

	opts := extractor.OptionsFromConfig(cfg)
	opts.Cache = cache
	opts.Monitor = perf
	opts.Logger = logger
	opts.Redactor = redactor
	service, err := extractor.NewService(providers, opts)
	if err != nil {
		logger.Error("service.init_failed", "error", err)
		os.Exit(1)
	}

	// Step 4: Optional persistence and image storage
	if cfg.Mongo.URI != "" {
		store, err := storage.ConnectRecordStore(ctx, cfg.Mongo.URI, cfg.Mongo.DBName, logger)
		if err != nil {
			logger.Error("mongo.connect_failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}()
		handlerOpts = append(handlerOpts, api.WithRecordStore(store))
	}
	if cfg.Minio.Endpoint != "" {
		images, err := storage.NewImageStore(cfg.Minio)
		if err != nil {
			logger.Error("minio.init_failed", "error", err)
			os.Exit(1)
		}
		if err := images.EnsureBucket(ctx); err != nil {
			logger.Warn("minio.bucket_unavailable", "bucket", cfg.Minio.Bucket, "error", err)
		}
		handlerOpts = append(handlerOpts, api.WithImageStore(images))
	}

	router := api.NewRouter(api.NewHandler(service, handlerOpts...), cfg.Server.AllowedOrigins, registry)

	go sweepSamples(ctx, perf, logger)

	// Step 5: Setup HTTP server with timeouts
	srv := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute, // batches run several provider calls
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("server.start", "port", cfg.Server.Port, "providers", service.ProviderNames())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.forced_shutdown", "error", err)
	}
	logger.Info("server.exited")
}

func sweepSamples(ctx context.Context, perf *monitor.Monitor, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := perf.Cleanup(sampleRetention); n > 0 {
				logger.Debug("monitor.cleanup", "removed", n)
			}
		}
	}
}
