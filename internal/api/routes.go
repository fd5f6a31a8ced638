// Package api provides the HTTP API for the Strongbox server.
package api

import (
	"errors"

	"github.com/MacJediWizard/strongbox/internal/api/handlers"
	"github.com/MacJediWizard/strongbox/internal/api/middleware"
	"github.com/MacJediWizard/strongbox/internal/auth"
	"github.com/MacJediWizard/strongbox/internal/blobstore"
	"github.com/MacJediWizard/strongbox/internal/coordinator"
	"github.com/MacJediWizard/strongbox/internal/uploads"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/MacJediWizard/strongbox/docs/api"
)

// Config holds configuration for the API router.
type Config struct {
	// AdminToken guards the admin routes under /api/v1.
	AdminToken string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// Socket tunes the keepalive of agent and observer websockets.
	Socket handlers.SocketConfig
	// DocsEnabled serves the swagger UI at /api/docs.
	DocsEnabled bool
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		Socket:            handlers.DefaultSocketConfig(),
		DocsEnabled:       true,
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Store is everything the API persists. *db.DB satisfies it.
type Store interface {
	auth.ClientStore
	handlers.ClientStore
	handlers.ClientToucher
	handlers.BackupRecordStore
	handlers.DatabaseHealthChecker
}

// Deps are the long-lived components the routes are wired to.
type Deps struct {
	Store       Store
	Registry    *coordinator.Registry
	Coordinator *coordinator.Coordinator
	Broadcaster *coordinator.Broadcaster
	Uploads     *uploads.Manager
	Blobs       blobstore.Store
	// Gatherer backs /metrics. Nil uses the default prometheus registry.
	Gatherer prometheus.Gatherer
	// Redis, when set, shares rate limit counters between server replicas.
	Redis *redis.Client
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("api: store is required")
	case d.Registry == nil || d.Coordinator == nil || d.Broadcaster == nil:
		return errors.New("api: coordinator components are required")
	case d.Uploads == nil || d.Blobs == nil:
		return errors.New("api: upload manager and blob store are required")
	}
	return nil
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.AdminToken == "" {
		return nil, errors.New("api: admin token is required")
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, deps.Redis)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health, metrics and version endpoints (no auth required)
	handlers.NewHealthHandler(deps.Store, deps.Registry, deps.Coordinator, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewMetricsHandler(deps.Gatherer, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, logger).RegisterPublicRoutes(r.Engine)

	if cfg.DocsEnabled {
		r.Engine.GET("/api/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
			ginSwagger.URL("/api/docs/doc.json"),
			ginSwagger.DefaultModelsExpandDepth(-1),
		))
	}

	// Admin routes (admin token required)
	admin := r.Engine.Group("/api/v1")
	admin.Use(middleware.AdminTokenMiddleware(cfg.AdminToken, logger))

	handlers.NewTriggerHandler(deps.Coordinator, logger).RegisterRoutes(admin)
	handlers.NewClientsHandler(deps.Store, deps.Registry, logger).RegisterRoutes(admin)
	handlers.NewStatusSocketHandler(deps.Broadcaster, deps.Coordinator, cfg.Socket, logger).RegisterRoutes(admin)

	// Agent routes (API key required)
	agent := r.Engine.Group("/api/v1/agent")
	agent.Use(middleware.APIKeyMiddleware(auth.NewAPIKeyValidator(deps.Store, logger), logger))

	handlers.NewAgentSocketHandler(deps.Registry, deps.Coordinator, deps.Store, cfg.Socket, logger).RegisterRoutes(agent)
	handlers.NewUploadHandler(deps.Store, deps.Uploads, deps.Blobs, logger).RegisterRoutes(agent)

	r.logger.Info().Bool("docs", cfg.DocsEnabled).Bool("shared_rate_limit", deps.Redis != nil).Msg("API router initialized")
	return r, nil
}
