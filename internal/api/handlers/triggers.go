package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/MacJediWizard/strongbox/internal/coordinator"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Triggerer runs on-demand backups on connected agents.
type Triggerer interface {
	Trigger(ctx context.Context, agentID, backupName string) (*models.TriggerResult, error)
	Running(agentID string) []string
}

// TriggerHandler handles on-demand backup HTTP endpoints.
type TriggerHandler struct {
	coord  Triggerer
	logger zerolog.Logger
}

// NewTriggerHandler creates a new TriggerHandler.
func NewTriggerHandler(coord Triggerer, logger zerolog.Logger) *TriggerHandler {
	return &TriggerHandler{
		coord:  coord,
		logger: logger.With().Str("component", "trigger_handler").Logger(),
	}
}

// RegisterRoutes registers trigger routes on an admin group.
func (h *TriggerHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/triggers", h.Trigger)
	r.GET("/clients/:id/running", h.Running)
}

// Trigger runs a named backup on a client now and waits for the outcome.
// @Summary Trigger a backup
// @Description Asks the connected agent to run the named backup and blocks until it reports a result
// @Tags Triggers
// @Accept json
// @Produce json
// @Param request body models.TriggerRequest true "Client and backup name"
// @Success 200 {object} models.TriggerResponse
// @Failure 400 {object} models.APIError
// @Failure 502 {object} models.APIError
// @Failure 503 {object} models.APIError
// @Failure 504 {object} models.APIError
// @Security AdminToken
// @Router /triggers [post]
func (h *TriggerHandler) Trigger(c *gin.Context) {
	var req models.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ClientID == "" || req.BackupName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId and backupName are required"})
		return
	}

	result, err := h.coord.Trigger(c.Request.Context(), req.ClientID, req.BackupName)
	if err != nil {
		status := triggerErrorStatus(err)
		h.logger.Warn().
			Err(err).
			Str("client_id", req.ClientID).
			Str("backup_name", req.BackupName).
			Int("status", status).
			Msg("triggered backup did not complete")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.TriggerResponse{Success: true, RequestID: result.RequestID})
}

func triggerErrorStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrInvalidTrigger):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotConnected), errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, coordinator.ErrRequestTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, coordinator.ErrRemoteBackupFailure),
		errors.Is(err, coordinator.ErrAgentDisconnected),
		errors.Is(err, coordinator.ErrSendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Running lists the backups with a trigger in flight for a client.
// @Summary List running triggers
// @Tags Triggers
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} models.RunningResponse
// @Security AdminToken
// @Router /clients/{id}/running [get]
func (h *TriggerHandler) Running(c *gin.Context) {
	clientID := c.Param("id")
	running := h.coord.Running(clientID)
	if running == nil {
		running = []string{}
	}
	c.JSON(http.StatusOK, models.RunningResponse{ClientID: clientID, Running: running})
}
