package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/strongbox/internal/api/middleware"
	"github.com/MacJediWizard/strongbox/internal/blobstore"
	"github.com/MacJediWizard/strongbox/internal/db"
	"github.com/MacJediWizard/strongbox/internal/models"
	"github.com/MacJediWizard/strongbox/internal/uploads"
	pkgmodels "github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultStoreTimeout = 5 * time.Second

// BackupRecordStore persists backup versions and their files.
type BackupRecordStore interface {
	CreateOrUpdateBackupRecord(ctx context.Context, clientID uuid.UUID, backupName string, version int) (*models.Backup, error)
	AppendBackupFile(ctx context.Context, backupID uuid.UUID, info pkgmodels.BackupFileInfo) error
	MarkBackupStatus(ctx context.Context, backupID uuid.UUID, status models.BackupStatus, errMsg string) error
}

// UploadHandler receives backup data from agents.
type UploadHandler struct {
	store    BackupRecordStore
	sessions *uploads.Manager
	blobs    blobstore.Store
	logger   zerolog.Logger
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(store BackupRecordStore, sessions *uploads.Manager, blobs blobstore.Store, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		store:    store,
		sessions: sessions,
		blobs:    blobs,
		logger:   logger.With().Str("component", "upload_handler").Logger(),
	}
}

// RegisterRoutes registers upload routes on an API-key authenticated group.
func (h *UploadHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.Me)

	up := r.Group("/uploads")
	{
		up.POST("", h.CreateUpload)
		up.PUT("/:id/chunks/:index", h.UploadChunk)
		up.POST("/:id/complete", h.CompleteUpload)
		up.DELETE("/:id", h.AbortUpload)
	}

	r.POST("/backups", h.UploadArchive)
	r.POST("/backups/finalize", h.FinalizeBackup)
}

// Me identifies the client behind the API key.
// @Summary Identify the calling client
// @Tags Agent
// @Produce json
// @Success 200 {object} map[string]string
// @Security ApiKeyAuth
// @Router /agent/me [get]
func (h *UploadHandler) Me(c *gin.Context) {
	client := middleware.RequireClient(c)
	if client == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": client.ID.String(), "name": client.Name})
}

// CreateUpload opens a chunked upload session for one file.
// @Summary Open an upload session
// @Tags Agent
// @Accept json
// @Produce json
// @Param request body models.CreateUploadRequest true "File to upload"
// @Success 201 {object} models.CreateUploadResponse
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Security ApiKeyAuth
// @Router /agent/uploads [post]
func (h *UploadHandler) CreateUpload(c *gin.Context) {
	client := middleware.RequireClient(c)
	if client == nil {
		return
	}

	var req pkgmodels.CreateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Version < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version must not be negative"})
		return
	}
	req.Checksum = strings.ToLower(req.Checksum)

	record, err := h.store.CreateOrUpdateBackupRecord(c.Request.Context(), client.ID, req.BackupName, req.Version)
	if err != nil {
		h.recordError(c, err, "failed to open backup version")
		return
	}
	if record.Status != models.BackupStatusRunning {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("backup version %d is %s", record.Version, record.Status)})
		return
	}

	sess, err := h.sessions.Create(client.ID.String(), req, record.Version)
	if err != nil {
		h.uploadError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pkgmodels.CreateUploadResponse{
		SessionID:   sess.ID,
		Version:     record.Version,
		ChunkSize:   sess.ChunkSize,
		TotalChunks: sess.TotalChunks,
	})
}

// UploadChunk appends one chunk to a session.
// @Summary Upload a chunk
// @Tags Agent
// @Accept octet-stream
// @Produce json
// @Param id path string true "Session ID"
// @Param index path int true "Chunk index"
// @Success 200 {object} models.ChunkAck
// @Failure 404 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Failure 413 {object} models.APIError
// @Security ApiKeyAuth
// @Router /agent/uploads/{id}/chunks/{index} [put]
func (h *UploadHandler) UploadChunk(c *gin.Context) {
	client := middleware.RequireClient(c)
	if client == nil {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chunk index"})
		return
	}

	ack, err := h.sessions.WriteChunk(c.Param("id"), client.ID.String(), index, c.Request.Body)
	if err != nil {
		h.uploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// CompleteUpload verifies a session and stores the assembled file.
// @Summary Complete an upload session
// @Tags Agent
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.UploadResult
// @Failure 404 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Failure 422 {object} models.APIError
// @Security ApiKeyAuth
// @Router /agent/uploads/{id}/complete [post]
func (h *UploadHandler) CompleteUpload(c *gin.Context) {
	client := middleware.RequireClient(c)
	if client == nil {
		return
	}

	file, err := h.sessions.Complete(c.Param("id"), client.ID.String())
	if err != nil {
		h.uploadError(c, err)
		return
	}

	info, err := h.storeFile(c.Request.Context(), client.ID, file.BackupName, file.Version, file.FileName, file.Path, file.SizeBytes, file.Checksum)
	if err != nil {
		h.recordError(c, err, "failed to store uploaded file")
		return
	}

	c.JSON(http.StatusOK, pkgmodels.UploadResult{Version: file.Version, File: *info})
}

// AbortUpload discards a session.
// @Summary Abort an upload session
// @Tags Agent
// @Param id path string true "Session ID"
// @Success 204
// @Failure 404 {object} models.APIError
// @Security ApiKeyAuth
// @Router /agent/uploads/{id} [delete]
func (h *UploadHandler) AbortUpload(c *gin.Context) {
	client := middleware.RequireClient(c)
	if client == nil {
		return
	}
	if err := h.sessions.Abort(c.Param("id"), client.ID.String()); err != nil {
		h.uploadError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadArchive stores a whole backup archive sent in one multipart request
// and completes a new backup version with it.
// @Summary Upload a backup archive
// @Tags Agent
// @Accept multipart/form-data
// @Produce json
// @Param backupName formData string true "Backup name"
// @Param checksum formData string true "SHA-256 of the archive"
// @Param fileCount formData int false "Files inside the archive"
// @Param archive formData file true "Archive"
// @Success 201 {object} models.UploadResult
// @Failure 400 {object} models.APIError
// @Failure 422 {object} models.APIError
// @Security ApiKeyAuth
// @Router /agent/backups [post]
func (h *UploadHandler) UploadArchive(c *gin.Context) {
	client := middleware.RequireClient(c)
	if client == nil {
		return
	}

	backupName := c.PostForm("backupName")
	checksum := strings.ToLower(c.PostForm("checksum"))
	if backupName == "" || checksum == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "backupName and checksum are required"})
		return
	}
	header, err := c.FormFile("archive")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive file is required"})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable archive file"})
		return
	}
	tmpPath, size, sum, err := h.spool(src)
	src.Close()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to receive archive")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to receive archive"})
		return
	}
	if sum != checksum {
		os.Remove(tmpPath)
		h.logger.Warn().
			Str("client_id", client.ID.String()).
			Str("backup_name", backupName).
			Str("checksum", sum).
			Str("declared", checksum).
			Msg("archive rejected")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": uploads.ErrIntegrity.Error()})
		return
	}

	ctx := c.Request.Context()
	record, err := h.store.CreateOrUpdateBackupRecord(ctx, client.ID, backupName, 0)
	if err != nil {
		os.Remove(tmpPath)
		h.recordError(c, err, "failed to open backup version")
		return
	}

	info, err := h.storeFile(ctx, client.ID, backupName, record.Version, filepath.Base(header.Filename), tmpPath, size, sum)
	if err != nil {
		h.markFailed(record, err)
		h.recordError(c, err, "failed to store archive")
		return
	}
	if err := h.store.MarkBackupStatus(ctx, record.ID, models.BackupStatusCompleted, ""); err != nil {
		h.recordError(c, err, "failed to complete backup")
		return
	}

	fileCount, _ := strconv.Atoi(c.PostForm("fileCount"))
	h.logger.Info().
		Str("client_id", client.ID.String()).
		Str("backup_name", backupName).
		Int("version", record.Version).
		Int("file_count", fileCount).
		Int64("size_bytes", size).
		Msg("backup archive stored")

	c.JSON(http.StatusCreated, pkgmodels.UploadResult{Version: record.Version, File: *info})
}

// FinalizeBackup completes a chunked backup version once every file is stored.
// @Summary Finalize a backup version
// @Tags Agent
// @Accept json
// @Produce json
// @Param request body models.FinalizeBackupRequest true "Version summary"
// @Success 200 {object} map[string]any
// @Failure 404 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Security ApiKeyAuth
// @Router /agent/backups/finalize [post]
func (h *UploadHandler) FinalizeBackup(c *gin.Context) {
	client := middleware.RequireClient(c)
	if client == nil {
		return
	}

	var req pkgmodels.FinalizeBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	record, err := h.store.CreateOrUpdateBackupRecord(ctx, client.ID, req.BackupName, req.Version)
	if err != nil {
		h.recordError(c, err, "failed to load backup version")
		return
	}
	if record.Status != models.BackupStatusRunning {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("backup version %d is %s", record.Version, record.Status)})
		return
	}

	if record.FileCount != req.FileCount || record.TotalBytes != req.TotalBytes {
		msg := fmt.Sprintf("server holds %d files (%d bytes), agent sent %d files (%d bytes)",
			record.FileCount, record.TotalBytes, req.FileCount, req.TotalBytes)
		h.markFailed(record, errors.New(msg))
		c.JSON(http.StatusConflict, gin.H{"error": msg})
		return
	}

	if err := h.store.MarkBackupStatus(ctx, record.ID, models.BackupStatusCompleted, ""); err != nil {
		h.recordError(c, err, "failed to complete backup")
		return
	}

	h.logger.Info().
		Str("client_id", client.ID.String()).
		Str("backup_name", req.BackupName).
		Int("version", req.Version).
		Int("file_count", req.FileCount).
		Msg("backup finalized")

	c.JSON(http.StatusOK, gin.H{"version": record.Version, "fileCount": record.FileCount, "totalBytes": record.TotalBytes})
}

// spool copies an uploaded part into the session directory while hashing it.
func (h *UploadHandler) spool(src io.Reader) (string, int64, string, error) {
	dst, err := os.CreateTemp(h.sessions.Dir(), "archive-*.part")
	if err != nil {
		return "", 0, "", err
	}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hash), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.Name())
		return "", 0, "", err
	}
	return dst.Name(), n, hex.EncodeToString(hash.Sum(nil)), nil
}

// storeFile moves a verified file into the blob store and records it.
// The file at path is consumed.
func (h *UploadHandler) storeFile(ctx context.Context, clientID uuid.UUID, backupName string, version int, fileName, path string, size int64, checksum string) (*pkgmodels.BackupFileInfo, error) {
	key := blobstore.Key(clientID.String(), backupName, version, fileName)
	location, err := h.blobs.Put(ctx, key, path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("store blob: %w", err)
	}

	record, err := h.store.CreateOrUpdateBackupRecord(ctx, clientID, backupName, version)
	if err != nil {
		return nil, err
	}

	info := pkgmodels.BackupFileInfo{
		Name:      fileName,
		SizeBytes: size,
		Checksum:  checksum,
		Location:  location,
	}
	if err := h.store.AppendBackupFile(ctx, record.ID, info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (h *UploadHandler) markFailed(record *models.Backup, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultStoreTimeout)
	defer cancel()
	if err := h.store.MarkBackupStatus(ctx, record.ID, models.BackupStatusFailed, cause.Error()); err != nil {
		h.logger.Error().Err(err).Str("backup_id", record.ID.String()).Msg("failed to mark backup failed")
	}
}

func (h *UploadHandler) uploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, uploads.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, uploads.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, uploads.ErrChunkOutOfOrder), errors.Is(err, uploads.ErrIncomplete):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, uploads.ErrChunkTooLarge), errors.Is(err, uploads.ErrSizeExceeded):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, uploads.ErrIntegrity):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error().Err(err).Msg("upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
	}
}

func (h *UploadHandler) recordError(c *gin.Context, err error, msg string) {
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "backup version not found"})
		return
	}
	h.logger.Error().Err(err).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
