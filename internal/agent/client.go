// Package agent provides the agent's server client, persistent websocket
// link and local item store.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// ClientInfo identifies the registered client behind an API key.
type ClientInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is an HTTP client for communicating with the Strongbox server.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new agent API client.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// ServerURL returns the base URL the client talks to.
func (c *Client) ServerURL() string {
	return c.serverURL
}

// WhoAmI returns the client registered for the API key.
func (c *Client) WhoAmI(ctx context.Context) (*ClientInfo, error) {
	var info ClientInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/agent/me", nil, "", &info); err != nil {
		return nil, fmt.Errorf("get client info: %w", err)
	}
	return &info, nil
}

// CreateUpload opens a chunked upload session for one file.
func (c *Client) CreateUpload(ctx context.Context, req *models.CreateUploadRequest) (*models.CreateUploadResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var resp models.CreateUploadResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/agent/uploads", bytes.NewReader(body), "application/json", &resp); err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	return &resp, nil
}

// UploadChunk sends chunk index of a session.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, index int, data []byte) (*models.ChunkAck, error) {
	path := "/api/v1/agent/uploads/" + sessionID + "/chunks/" + strconv.Itoa(index)
	var ack models.ChunkAck
	if err := c.do(ctx, http.MethodPut, path, bytes.NewReader(data), "application/octet-stream", &ack); err != nil {
		return nil, fmt.Errorf("upload chunk %d: %w", index, err)
	}
	return &ack, nil
}

// CompleteUpload asks the server to verify and store an assembled file.
func (c *Client) CompleteUpload(ctx context.Context, sessionID string) (*models.UploadResult, error) {
	var result models.UploadResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/agent/uploads/"+sessionID+"/complete", nil, "", &result); err != nil {
		return nil, fmt.Errorf("complete upload: %w", err)
	}
	return &result, nil
}

// AbortUpload discards a session and its partial data.
func (c *Client) AbortUpload(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/agent/uploads/"+sessionID, nil, "", nil); err != nil {
		return fmt.Errorf("abort upload: %w", err)
	}
	return nil
}

// FinalizeBackup marks a chunked backup version complete.
func (c *Client) FinalizeBackup(ctx context.Context, req *models.FinalizeBackupRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/agent/backups/finalize", bytes.NewReader(body), "application/json", nil); err != nil {
		return fmt.Errorf("finalize backup: %w", err)
	}
	return nil
}

// UploadArchive sends a whole archive in one multipart request.
func (c *Client) UploadArchive(ctx context.Context, backupName, archivePath, checksum string, fileCount int) (*models.UploadResult, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeArchiveForm(mw, f, filepath.Base(archivePath), backupName, checksum, fileCount)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var result models.UploadResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/agent/backups", pr, mw.FormDataContentType(), &result); err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("upload archive: %w", err)
	}
	return &result, nil
}

func writeArchiveForm(mw *multipart.Writer, archive io.Reader, fileName, backupName, checksum string, fileCount int) error {
	fields := [][2]string{
		{"backupName", backupName},
		{"checksum", checksum},
		{"fileCount", strconv.Itoa(fileCount)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("archive", fileName)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, archive)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr models.APIError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(data) > 0 {
		return json.Unmarshal(data, result)
	}
	return nil
}
