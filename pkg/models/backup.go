package models

import "time"

// BackupStatus represents the current status of a server-side backup record.
type BackupStatus string

const (
	// BackupStatusRunning indicates files are still being received.
	BackupStatusRunning BackupStatus = "running"
	// BackupStatusCompleted indicates every file was received and verified.
	BackupStatusCompleted BackupStatus = "completed"
	// BackupStatusFailed indicates the attempt was abandoned.
	BackupStatusFailed BackupStatus = "failed"
)

// CreateUploadRequest opens a chunked upload session for one file.
// TotalChunks may be left zero for the server to split TotalSize by its
// own chunk size.
type CreateUploadRequest struct {
	BackupName  string `json:"backupName" binding:"required"`
	FileName    string `json:"fileName" binding:"required"`
	TotalChunks int    `json:"totalChunks,omitempty" binding:"min=0"`
	TotalSize   int64  `json:"totalSize" binding:"min=0"`
	Checksum    string `json:"checksum" binding:"required,len=64,hexadecimal"`
	// Version pins the file to an existing backup version; zero starts a new one.
	Version int `json:"version,omitempty"`
}

// CreateUploadResponse is returned when an upload session is opened. The
// client must send TotalChunks chunks of ChunkSize bytes, the last one
// possibly shorter.
type CreateUploadResponse struct {
	SessionID   string `json:"sessionId"`
	Version     int    `json:"version"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

// ChunkAck acknowledges one received chunk.
type ChunkAck struct {
	SessionID     string `json:"sessionId"`
	Index         int    `json:"index"`
	ReceivedBytes int64  `json:"receivedBytes"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// BackupFileInfo describes one stored file of a backup version.
type BackupFileInfo struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
	Checksum  string `json:"checksum"`
	Location  string `json:"location"`
}

// UploadResult is returned once a file (chunked or simple) is stored.
type UploadResult struct {
	Version int            `json:"version"`
	File    BackupFileInfo `json:"file"`
}

// FinalizeBackupRequest closes a backup version after all its files were uploaded.
type FinalizeBackupRequest struct {
	BackupName string `json:"backupName" binding:"required"`
	Version    int    `json:"version" binding:"required,min=1"`
	FileCount  int    `json:"fileCount" binding:"min=0"`
	TotalBytes int64  `json:"totalBytes" binding:"min=0"`
}

// BackupSummary is the agent-side record of one successful backup attempt.
type BackupSummary struct {
	Version     int           `json:"version"`
	Chunked     bool          `json:"chunked"`
	FileCount   int           `json:"file_count"`
	TotalBytes  int64         `json:"total_bytes"`
	Checksum    string        `json:"checksum,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}
