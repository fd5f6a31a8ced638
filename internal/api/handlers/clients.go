package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MacJediWizard/strongbox/internal/auth"
	"github.com/MacJediWizard/strongbox/internal/db"
	"github.com/MacJediWizard/strongbox/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ClientStore defines the persistence operations for client administration.
type ClientStore interface {
	CreateClient(ctx context.Context, c *models.Client) error
	GetClientByID(ctx context.Context, id uuid.UUID) (*models.Client, error)
	ListBackupRecords(ctx context.Context, clientID uuid.UUID, backupName string) ([]*models.Backup, error)
	GetBackupRecord(ctx context.Context, clientID uuid.UUID, backupName string, version int) (*models.Backup, error)
	ListBackupFiles(ctx context.Context, backupID uuid.UUID) ([]*models.BackupFile, error)
}

// ConnectionChecker reports whether an agent holds a live socket.
type ConnectionChecker interface {
	IsLive(agentID string) bool
}

// CreateClientRequest is the request body for registering a client.
type CreateClientRequest struct {
	Name string `json:"name" binding:"required,min=1,max=255"`
}

// CreateClientResponse carries the client's API key. The key is not stored
// and cannot be retrieved again.
type CreateClientResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`
}

// ClientResponse is a client with its connection state.
type ClientResponse struct {
	*models.Client
	Connected bool `json:"connected"`
}

// BackupVersionResponse is one backup version with its files.
type BackupVersionResponse struct {
	*models.Backup
	Files []*models.BackupFile `json:"files"`
}

// ClientsHandler handles client administration endpoints.
type ClientsHandler struct {
	store  ClientStore
	conns  ConnectionChecker
	logger zerolog.Logger
}

// NewClientsHandler creates a new ClientsHandler.
func NewClientsHandler(store ClientStore, conns ConnectionChecker, logger zerolog.Logger) *ClientsHandler {
	return &ClientsHandler{
		store:  store,
		conns:  conns,
		logger: logger.With().Str("component", "clients_handler").Logger(),
	}
}

// RegisterRoutes registers client routes on an admin group.
func (h *ClientsHandler) RegisterRoutes(r *gin.RouterGroup) {
	clients := r.Group("/clients")
	{
		clients.POST("", h.Create)
		clients.GET("/:id", h.Get)
		clients.GET("/:id/backups/:name", h.ListVersions)
		clients.GET("/:id/backups/:name/versions/:version", h.GetVersion)
	}
}

// Create registers a client and returns its API key once.
// @Summary Register a client
// @Tags Clients
// @Accept json
// @Produce json
// @Param request body CreateClientRequest true "Client details"
// @Success 201 {object} CreateClientResponse
// @Failure 400 {object} models.APIError
// @Security AdminToken
// @Router /clients [post]
func (h *ClientsHandler) Create(c *gin.Context) {
	var req CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to generate API key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate API key"})
		return
	}

	client := models.NewClient(name, hash)
	if err := h.store.CreateClient(c.Request.Context(), client); err != nil {
		h.logger.Error().Err(err).Str("name", name).Msg("failed to create client")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create client"})
		return
	}

	h.logger.Info().Str("client_id", client.ID.String()).Str("name", name).Msg("client registered")
	c.JSON(http.StatusCreated, CreateClientResponse{ID: client.ID.String(), Name: client.Name, APIKey: key})
}

// Get returns a client and whether its agent is connected.
// @Summary Get a client
// @Tags Clients
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} ClientResponse
// @Failure 404 {object} models.APIError
// @Security AdminToken
// @Router /clients/{id} [get]
func (h *ClientsHandler) Get(c *gin.Context) {
	id, ok := parseClientID(c)
	if !ok {
		return
	}
	client, err := h.store.GetClientByID(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, err, "client not found")
		return
	}
	c.JSON(http.StatusOK, ClientResponse{Client: client, Connected: h.conns.IsLive(id.String())})
}

// ListVersions lists the stored versions of one named backup, newest first.
// @Summary List backup versions
// @Tags Clients
// @Produce json
// @Param id path string true "Client ID"
// @Param name path string true "Backup name"
// @Success 200 {array} models.Backup
// @Security AdminToken
// @Router /clients/{id}/backups/{name} [get]
func (h *ClientsHandler) ListVersions(c *gin.Context) {
	id, ok := parseClientID(c)
	if !ok {
		return
	}
	records, err := h.store.ListBackupRecords(c.Request.Context(), id, c.Param("name"))
	if err != nil {
		h.storeError(c, err, "backup not found")
		return
	}
	if records == nil {
		records = []*models.Backup{}
	}
	c.JSON(http.StatusOK, gin.H{"backups": records})
}

// GetVersion returns one backup version and its files.
// @Summary Get a backup version
// @Tags Clients
// @Produce json
// @Param id path string true "Client ID"
// @Param name path string true "Backup name"
// @Param version path int true "Version"
// @Success 200 {object} BackupVersionResponse
// @Failure 404 {object} models.APIError
// @Security AdminToken
// @Router /clients/{id}/backups/{name}/versions/{version} [get]
func (h *ClientsHandler) GetVersion(c *gin.Context) {
	id, ok := parseClientID(c)
	if !ok {
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return
	}

	ctx := c.Request.Context()
	record, err := h.store.GetBackupRecord(ctx, id, c.Param("name"), version)
	if err != nil {
		h.storeError(c, err, "backup version not found")
		return
	}
	files, err := h.store.ListBackupFiles(ctx, record.ID)
	if err != nil {
		h.storeError(c, err, "backup version not found")
		return
	}
	if files == nil {
		files = []*models.BackupFile{}
	}
	c.JSON(http.StatusOK, BackupVersionResponse{Backup: record, Files: files})
}

func parseClientID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *ClientsHandler) storeError(c *gin.Context, err error, notFoundMsg string) {
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
		return
	}
	h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("store query failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
