package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MacJediWizard/strongbox/internal/api/middleware"
	"github.com/MacJediWizard/strongbox/internal/db"
	"github.com/MacJediWizard/strongbox/internal/models"
	pkgmodels "github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// fakeStore is an in-memory stand-in for the postgres store.
type fakeStore struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*models.Client
	backups []*models.Backup
	files   map[uuid.UUID][]*models.BackupFile
	touched map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients: make(map[uuid.UUID]*models.Client),
		files:   make(map[uuid.UUID][]*models.BackupFile),
		touched: make(map[uuid.UUID]int),
	}
}

func (s *fakeStore) CreateClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
	return nil
}

func (s *fakeStore) GetClientByID(_ context.Context, id uuid.UUID) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("get client: %w", db.ErrNotFound)
	}
	return c, nil
}

func (s *fakeStore) TouchClient(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[id]++
	return nil
}

func (s *fakeStore) touchCount(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched[id]
}

func (s *fakeStore) CreateOrUpdateBackupRecord(_ context.Context, clientID uuid.UUID, backupName string, version int) (*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version > 0 {
		b := s.find(clientID, backupName, version)
		if b == nil {
			return nil, fmt.Errorf("touch backup: %w", db.ErrNotFound)
		}
		b.UpdatedAt = time.Now()
		return b, nil
	}

	next := 1
	for _, b := range s.backups {
		if b.ClientID == clientID && b.BackupName == backupName && b.Version >= next {
			next = b.Version + 1
		}
	}
	now := time.Now()
	b := &models.Backup{
		ID:         uuid.New(),
		ClientID:   clientID,
		BackupName: backupName,
		Version:    next,
		Status:     models.BackupStatusRunning,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	s.backups = append(s.backups, b)
	return b, nil
}

func (s *fakeStore) find(clientID uuid.UUID, backupName string, version int) *models.Backup {
	for _, b := range s.backups {
		if b.ClientID == clientID && b.BackupName == backupName && b.Version == version {
			return b
		}
	}
	return nil
}

func (s *fakeStore) byID(id uuid.UUID) *models.Backup {
	for _, b := range s.backups {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (s *fakeStore) GetBackupRecord(_ context.Context, clientID uuid.UUID, backupName string, version int) (*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.find(clientID, backupName, version)
	if b == nil {
		return nil, fmt.Errorf("get backup: %w", db.ErrNotFound)
	}
	return b, nil
}

func (s *fakeStore) ListBackupRecords(_ context.Context, clientID uuid.UUID, backupName string) ([]*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Backup
	for _, b := range s.backups {
		if b.ClientID == clientID && b.BackupName == backupName {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *fakeStore) AppendBackupFile(_ context.Context, backupID uuid.UUID, info pkgmodels.BackupFileInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.byID(backupID)
	if b == nil {
		return fmt.Errorf("append file: %w", db.ErrNotFound)
	}
	for _, f := range s.files[backupID] {
		if f.Name == info.Name {
			return fmt.Errorf("file %s already recorded", info.Name)
		}
	}
	s.files[backupID] = append(s.files[backupID], models.NewBackupFile(backupID, info))
	b.FileCount++
	b.TotalBytes += info.SizeBytes
	return nil
}

func (s *fakeStore) ListBackupFiles(_ context.Context, backupID uuid.UUID) ([]*models.BackupFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[backupID], nil
}

func (s *fakeStore) MarkBackupStatus(_ context.Context, backupID uuid.UUID, status models.BackupStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.byID(backupID)
	if b == nil {
		return fmt.Errorf("mark backup: %w", db.ErrNotFound)
	}
	if status == models.BackupStatusCompleted {
		b.Complete()
	} else {
		b.Fail(errMsg)
	}
	return nil
}

func (s *fakeStore) backup(clientID uuid.UUID, backupName string, version int) *models.Backup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(clientID, backupName, version)
}

// injectClient stands in for APIKeyMiddleware.
func injectClient(client *models.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(middleware.ClientContextKey), client)
		c.Next()
	}
}
