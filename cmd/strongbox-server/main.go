// Package main is the entrypoint for the Strongbox server.
//
// @title           Strongbox API
// @version         1.0
// @description     On-demand backup coordination between the Strongbox server and its agents.
//
// @contact.name   Strongbox Support
// @contact.url    https://github.com/MacJediWizard/strongbox
//
// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT
//
// @BasePath  /api/v1
//
// @securityDefinitions.apikey AdminToken
// @in header
// @name Authorization
// @description Operator token. Use format: Bearer <ADMIN_TOKEN>
//
// @securityDefinitions.apikey AgentKey
// @in header
// @name Authorization
// @description Agent API key authentication. Use format: Bearer sbx_xxx
//
// @tag.name Triggers
// @tag.description On-demand backup triggers
// @tag.name Clients
// @tag.description Client registration and backup history
// @tag.name Agent
// @tag.description Endpoints called by agents
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/strongbox/internal/api"
	"github.com/MacJediWizard/strongbox/internal/api/handlers"
	"github.com/MacJediWizard/strongbox/internal/blobstore"
	"github.com/MacJediWizard/strongbox/internal/config"
	"github.com/MacJediWizard/strongbox/internal/coordinator"
	"github.com/MacJediWizard/strongbox/internal/db"
	"github.com/MacJediWizard/strongbox/internal/metrics"
	"github.com/MacJediWizard/strongbox/internal/uploads"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Strongbox server")

	cfg := config.LoadServerConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	database, err := db.New(ctx, db.Config{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if _, err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	// Optional redis for shared rate limiting
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to redis")
			return 1
		}
		defer rdb.Close()
		logger.Info().Msg("Rate limit counters stored in redis")
	}

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize blob store")
		return 1
	}

	uploadManager, err := uploads.NewManager(uploads.Config{
		Dir:           cfg.UploadDir,
		TTL:           cfg.UploadSessionTTL,
		MaxChunkBytes: cfg.MaxUploadChunkBytes,
		ChunkSize:     cfg.UploadChunkSize,
	}, m, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize upload manager")
		return 1
	}
	go uploadManager.Run(ctx)

	// Trigger coordination
	registry := coordinator.NewRegistry(m, logger)
	broadcaster := coordinator.NewBroadcaster(0, logger)
	coord := coordinator.New(coordinator.Config{TriggerTimeout: cfg.TriggerTimeout}, registry, coordinator.NewCorrelator(), broadcaster, m, logger)

	routerCfg := api.Config{
		AdminToken:        cfg.AdminToken,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		Socket: handlers.SocketConfig{
			PingInterval: cfg.WSPingInterval,
			PongTimeout:  cfg.WSPongTimeout,
		},
		DocsEnabled: cfg.DocsEnabled,
		Version:     Version,
		Commit:      Commit,
		BuildDate:   BuildDate,
	}
	router, err := api.NewRouter(routerCfg, api.Deps{
		Store:       database,
		Registry:    registry,
		Coordinator: coord,
		Broadcaster: broadcaster,
		Uploads:     uploadManager,
		Blobs:       blobs,
		Gatherer:    reg,
		Redis:       rdb,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	// POST /triggers holds the response open until the agent answers.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      cfg.TriggerTimeout + time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server error")
		return 1
	}

	// Waiting trigger callers get ErrClosed instead of hanging until shutdown times out.
	coord.Close()
	broadcaster.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func newBlobStore(ctx context.Context, cfg config.ServerConfig, logger zerolog.Logger) (blobstore.Store, error) {
	if !cfg.UseS3() {
		return blobstore.NewLocalStore(cfg.UploadDir+"/blobs", logger)
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Config{
		Bucket:          cfg.S3Bucket,
		Prefix:          cfg.S3Prefix,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	}, logger)
}
