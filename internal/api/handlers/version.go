package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// VersionInfo contains server version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// VersionHandler handles version-related HTTP endpoints.
type VersionHandler struct {
	info      VersionInfo
	startedAt time.Time
	logger    zerolog.Logger
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(version, commit, buildDate string, logger zerolog.Logger) *VersionHandler {
	return &VersionHandler{
		info: VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
			GoVersion: runtime.Version(),
		},
		startedAt: time.Now(),
		logger:    logger.With().Str("component", "version_handler").Logger(),
	}
}

// RegisterRoutes registers version routes on the given router group.
func (h *VersionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/version", h.Get)
}

// RegisterPublicRoutes registers version routes that don't require authentication.
func (h *VersionHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/version", h.Get)
}

// Get returns the server version information.
// @Summary Server version
// @Tags Monitoring
// @Produce json
// @Success 200 {object} VersionInfo
// @Router /version [get]
func (h *VersionHandler) Get(c *gin.Context) {
	info := h.info
	info.Uptime = time.Since(h.startedAt).Truncate(time.Second).String()
	c.JSON(http.StatusOK, info)
}
