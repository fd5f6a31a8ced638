package models

import (
	"time"

	pkgmodels "github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/google/uuid"
)

// BackupStatus is a type alias for the shared BackupStatus type in pkg/models.
type BackupStatus = pkgmodels.BackupStatus

const (
	BackupStatusRunning   = pkgmodels.BackupStatusRunning
	BackupStatusCompleted = pkgmodels.BackupStatusCompleted
	BackupStatusFailed    = pkgmodels.BackupStatusFailed
)

// Backup is one version of a client's named backup.
// Versions count up from 1 per (client, backup name).
type Backup struct {
	ID           uuid.UUID    `json:"id"`
	ClientID     uuid.UUID    `json:"client_id"`
	BackupName   string       `json:"backup_name"`
	Version      int          `json:"version"`
	Status       BackupStatus `json:"status"`
	FileCount    int          `json:"file_count"`
	TotalBytes   int64        `json:"total_bytes"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Complete marks the backup as completed.
func (b *Backup) Complete() {
	now := time.Now()
	b.CompletedAt = &now
	b.Status = BackupStatusCompleted
}

// Fail marks the backup as failed with the given error message.
func (b *Backup) Fail(errMsg string) {
	now := time.Now()
	b.CompletedAt = &now
	b.Status = BackupStatusFailed
	b.ErrorMessage = errMsg
}

// BackupFile is one stored file of a backup version.
type BackupFile struct {
	ID        uuid.UUID `json:"id"`
	BackupID  uuid.UUID `json:"backup_id"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBackupFile creates a BackupFile for backupID.
func NewBackupFile(backupID uuid.UUID, info pkgmodels.BackupFileInfo) *BackupFile {
	return &BackupFile{
		ID:        uuid.New(),
		BackupID:  backupID,
		Name:      info.Name,
		SizeBytes: info.SizeBytes,
		Checksum:  info.Checksum,
		Location:  info.Location,
		CreatedAt: time.Now(),
	}
}

// Info converts the file to its wire form.
func (f *BackupFile) Info() pkgmodels.BackupFileInfo {
	return pkgmodels.BackupFileInfo{
		Name:      f.Name,
		SizeBytes: f.SizeBytes,
		Checksum:  f.Checksum,
		Location:  f.Location,
	}
}
