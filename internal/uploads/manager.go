// Package uploads assembles chunked file uploads and verifies their integrity.
package uploads

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MacJediWizard/strongbox/internal/metrics"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionNotFound is returned for unknown, expired, or foreign sessions.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrChunkOutOfOrder is returned when a chunk index is not the next expected one.
	ErrChunkOutOfOrder = errors.New("chunk out of order")
	// ErrChunkTooLarge is returned when a chunk exceeds the configured limit.
	ErrChunkTooLarge = errors.New("chunk too large")
	// ErrSizeExceeded is returned when chunks add up to more than the declared size.
	ErrSizeExceeded = errors.New("upload exceeds declared size")
	// ErrIncomplete is returned when completing a session that is missing chunks.
	ErrIncomplete = errors.New("upload incomplete")
	// ErrInvalidRequest is returned for a session request that can never succeed.
	ErrInvalidRequest = errors.New("invalid upload request")
	// ErrIntegrity is returned when the assembled file does not match its declared checksum or size.
	ErrIntegrity = errors.New("upload integrity check failed")
)

// Config holds session manager tunables.
type Config struct {
	Dir           string
	TTL           time.Duration
	MaxChunkBytes int64
	ChunkSize     int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:           filepath.Join(os.TempDir(), "strongbox-uploads"),
		TTL:           time.Hour,
		MaxChunkBytes: 16 * 1024 * 1024,
		ChunkSize:     8 * 1024 * 1024,
	}
}

// Session is one in-progress chunked upload of a single file.
type Session struct {
	ID          string
	ClientID    string
	BackupName  string
	FileName    string
	Version     int
	ChunkSize   int64
	TotalChunks int
	TotalSize   int64
	Checksum    string
	CreatedAt   time.Time

	mu        sync.Mutex
	path      string
	next      int
	lastSize  int64
	received  int64
	updatedAt time.Time
	closed    bool
}

// CompletedFile is a verified, fully assembled upload. Path is a temporary
// file owned by the caller.
type CompletedFile struct {
	SessionID  string
	ClientID   string
	BackupName string
	FileName   string
	Version    int
	Path       string
	SizeBytes  int64
	Checksum   string
}

// Manager tracks upload sessions.
type Manager struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager and its working directory.
func NewManager(cfg Config, m *metrics.Metrics, logger zerolog.Logger) (*Manager, error) {
	defaults := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = defaults.Dir
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = defaults.MaxChunkBytes
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	// Handed-out chunks must always pass WriteChunk.
	if cfg.ChunkSize > cfg.MaxChunkBytes {
		cfg.ChunkSize = cfg.MaxChunkBytes
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "upload_manager").Logger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}, nil
}

// ChunkSize is the chunk size clients are told to use.
func (m *Manager) ChunkSize() int64 {
	return m.cfg.ChunkSize
}

// plan returns the chunk size and count for a file of totalSize bytes.
// A zero requested count splits by the configured chunk size; a requested
// count is kept as long as its chunks fit under MaxChunkBytes.
func (m *Manager) plan(totalSize int64, requested int) (int64, int, error) {
	if requested == 0 {
		chunks := int((totalSize + m.cfg.ChunkSize - 1) / m.cfg.ChunkSize)
		if chunks == 0 {
			chunks = 1
		}
		return m.cfg.ChunkSize, chunks, nil
	}
	size := (totalSize + int64(requested) - 1) / int64(requested)
	if size > m.cfg.MaxChunkBytes {
		return 0, 0, fmt.Errorf("%w: %d chunks of %d bytes exceed the %d byte limit", ErrChunkTooLarge, requested, size, m.cfg.MaxChunkBytes)
	}
	return size, requested, nil
}

// Dir returns the working directory holding partial uploads.
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Create opens a session for clientID. version is the backup version the file belongs to.
func (m *Manager) Create(clientID string, req models.CreateUploadRequest, version int) (*Session, error) {
	if req.TotalChunks < 0 {
		return nil, fmt.Errorf("%w: total chunks must not be negative", ErrInvalidRequest)
	}
	if req.TotalSize < 0 {
		return nil, fmt.Errorf("%w: total size must not be negative", ErrInvalidRequest)
	}
	chunkSize, chunks, err := m.plan(req.TotalSize, req.TotalChunks)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	path := filepath.Join(m.cfg.Dir, id+".part")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	f.Close()

	now := m.now()
	s := &Session{
		ID:          id,
		ClientID:    clientID,
		BackupName:  req.BackupName,
		FileName:    req.FileName,
		Version:     version,
		ChunkSize:   chunkSize,
		TotalChunks: chunks,
		TotalSize:   req.TotalSize,
		Checksum:    req.Checksum,
		CreatedAt:   now,
		path:        path,
		updatedAt:   now,
	}

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetUploadSessions(count)

	m.logger.Info().
		Str("session_id", id).
		Str("client_id", clientID).
		Str("backup_name", req.BackupName).
		Str("file_name", req.FileName).
		Int("total_chunks", chunks).
		Int64("chunk_size", chunkSize).
		Int64("total_size", req.TotalSize).
		Msg("upload session created")
	return s, nil
}

func (m *Manager) lookup(sessionID, clientID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.ClientID != clientID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	count := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetUploadSessions(count)
}

// WriteChunk appends chunk index to the session. Chunks must arrive in
// order; resending the last accepted chunk with the same size is acknowledged
// without being written again.
func (m *Manager) WriteChunk(sessionID, clientID string, index int, r io.Reader) (*models.ChunkAck, error) {
	s, err := m.lookup(sessionID, clientID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, m.cfg.MaxChunkBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	if n > m.cfg.MaxChunkBytes {
		return nil, ErrChunkTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}

	if index == s.next-1 && n == s.lastSize {
		return &models.ChunkAck{SessionID: s.ID, Index: index, ReceivedBytes: s.received, Duplicate: true}, nil
	}
	if index != s.next || index >= s.TotalChunks {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrChunkOutOfOrder, index, s.next)
	}
	if s.received+n > s.TotalSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrSizeExceeded, s.received+n, s.TotalSize)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return nil, fmt.Errorf("write chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close upload file: %w", err)
	}

	s.next++
	s.lastSize = n
	s.received += n
	s.updatedAt = m.now()
	m.metrics.AddUploadBytes(n)

	return &models.ChunkAck{SessionID: s.ID, Index: index, ReceivedBytes: s.received}, nil
}

// Complete verifies chunk count, size, and SHA-256 and hands the assembled
// file to the caller. On an integrity failure the data is discarded.
func (m *Manager) Complete(sessionID, clientID string) (*CompletedFile, error) {
	s, err := m.lookup(sessionID, clientID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	if s.next != s.TotalChunks {
		return nil, fmt.Errorf("%w: %d of %d chunks received", ErrIncomplete, s.next, s.TotalChunks)
	}

	log := m.logger.With().Str("session_id", s.ID).Str("backup_name", s.BackupName).Logger()

	checksum, err := fileSHA256(s.path)
	if err != nil {
		return nil, fmt.Errorf("checksum upload: %w", err)
	}

	var integrityErr error
	switch {
	case s.received != s.TotalSize:
		integrityErr = fmt.Errorf("%w: size %d, declared %d", ErrIntegrity, s.received, s.TotalSize)
	case checksum != s.Checksum:
		integrityErr = fmt.Errorf("%w: checksum %s, declared %s", ErrIntegrity, checksum, s.Checksum)
	}
	if integrityErr != nil {
		s.closed = true
		os.Remove(s.path)
		m.remove(s)
		log.Warn().Err(integrityErr).Msg("upload rejected")
		return nil, integrityErr
	}

	s.closed = true
	m.remove(s)
	log.Info().Int64("size_bytes", s.received).Msg("upload verified")

	return &CompletedFile{
		SessionID:  s.ID,
		ClientID:   s.ClientID,
		BackupName: s.BackupName,
		FileName:   s.FileName,
		Version:    s.Version,
		Path:       s.path,
		SizeBytes:  s.received,
		Checksum:   checksum,
	}, nil
}

// Abort discards a session and its data.
func (m *Manager) Abort(sessionID, clientID string) error {
	s, err := m.lookup(sessionID, clientID)
	if err != nil {
		return err
	}
	m.discard(s)
	m.logger.Info().Str("session_id", s.ID).Msg("upload aborted")
	return nil
}

func (m *Manager) discard(s *Session) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		os.Remove(s.path)
	}
	s.mu.Unlock()
	m.remove(s)
}

// Sweep discards sessions idle for longer than the TTL and returns how many were removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.TTL)

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	var stale []*Session
	for _, s := range all {
		s.mu.Lock()
		if s.updatedAt.Before(cutoff) {
			stale = append(stale, s)
		}
		s.mu.Unlock()
	}

	for _, s := range stale {
		m.discard(s)
		m.logger.Info().Str("session_id", s.ID).Str("backup_name", s.BackupName).Msg("stale upload session removed")
	}
	return len(stale)
}

// Run sweeps stale sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.TTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
