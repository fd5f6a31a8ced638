package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler struct {
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// NewMetricsHandler creates a new MetricsHandler. A nil gatherer serves the
// default registry.
func NewMetricsHandler(gatherer prometheus.Gatherer, logger zerolog.Logger) *MetricsHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &MetricsHandler{
		gatherer: gatherer,
		logger:   logger.With().Str("component", "metrics_handler").Logger(),
	}
}

// RegisterPublicRoutes registers metrics routes that don't require authentication.
func (h *MetricsHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/metrics", h.Metrics())
}

// Metrics returns metrics in Prometheus exposition format.
// @Summary Prometheus metrics endpoint
// @Description Returns metrics in Prometheus exposition format for scraping
// @Tags Monitoring
// @Produce text/plain
// @Success 200 {string} string "Prometheus metrics"
// @Router /metrics [get]
func (h *MetricsHandler) Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{
		ErrorLog:      promLogger{h.logger},
		ErrorHandling: promhttp.ContinueOnError,
	}))
}

// promLogger adapts zerolog to promhttp.Logger.
type promLogger struct {
	logger zerolog.Logger
}

func (l promLogger) Println(v ...any) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}
