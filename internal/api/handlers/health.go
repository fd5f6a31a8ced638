package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
	Error  string                        `json:"error,omitempty"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// CoordinatorStats exposes live coordination counters.
type CoordinatorStats interface {
	Count() int
}

// InFlightCounter reports how many triggers are waiting on agents.
type InFlightCounter interface {
	InFlight() int
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	db       DatabaseHealthChecker
	agents   CoordinatorStats
	triggers InFlightCounter
	logger   zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. agents and triggers may be nil.
func NewHealthHandler(db DatabaseHealthChecker, agents CoordinatorStats, triggers InFlightCounter, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		agents:   agents,
		triggers: triggers,
		logger:   logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/db", h.Database)
	}
}

// Overall returns the overall server health status.
// @Summary Server health
// @Tags Monitoring
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status: HealthStatusHealthy,
		Checks: map[string]*HealthCheckResult{
			"database":    h.checkDatabase(ctx),
			"coordinator": h.checkCoordinator(),
		},
	}

	if response.Checks["database"].Status == HealthStatusUnhealthy {
		response.Status = HealthStatusUnhealthy
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Database returns the database health status.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	result := h.checkDatabase(ctx)
	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{"database": result},
	}

	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// checkDatabase performs a database health check.
func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{Status: HealthStatusHealthy}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.db.Ping(ctx)
	result.Duration = time.Since(start).String()
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database ping failed"
		h.logger.Warn().Err(err).Msg("database health check failed")
		return result
	}

	result.Details = h.db.Health()
	return result
}

// checkCoordinator reports connection and trigger counts. It never fails.
func (h *HealthHandler) checkCoordinator() *HealthCheckResult {
	details := map[string]any{}
	if h.agents != nil {
		details["agents_connected"] = h.agents.Count()
	}
	if h.triggers != nil {
		details["triggers_in_flight"] = h.triggers.InFlight()
	}
	return &HealthCheckResult{Status: HealthStatusHealthy, Details: details}
}
