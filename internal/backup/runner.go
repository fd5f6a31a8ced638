package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MacJediWizard/strongbox/internal/tasks"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	// DefaultChunkThreshold is the file size above which a backup is sent in chunks.
	DefaultChunkThreshold int64 = 100 * 1024 * 1024
)

var (
	// ErrNoFiles is returned when an item selects nothing to back up.
	ErrNoFiles = errors.New("no files to back up")
	// ErrInsufficientSpace is returned when the temp directory cannot hold the archive.
	ErrInsufficientSpace = errors.New("insufficient free space for archive")
	// ErrBadUploadPlan is returned when the server opens a session without a usable chunk layout.
	ErrBadUploadPlan = errors.New("server returned an unusable upload plan")
)

// Uploader is the server API used to store backups.
type Uploader interface {
	CreateUpload(ctx context.Context, req *models.CreateUploadRequest) (*models.CreateUploadResponse, error)
	UploadChunk(ctx context.Context, sessionID string, index int, data []byte) (*models.ChunkAck, error)
	CompleteUpload(ctx context.Context, sessionID string) (*models.UploadResult, error)
	AbortUpload(ctx context.Context, sessionID string) error
	FinalizeBackup(ctx context.Context, req *models.FinalizeBackupRequest) error
	UploadArchive(ctx context.Context, backupName, archivePath, checksum string, fileCount int) (*models.UploadResult, error)
}

// RunnerConfig holds runner tunables.
type RunnerConfig struct {
	TempDir        string
	ChunkThreshold int64
}

// Runner performs one backup attempt for an item. It implements tasks.Runner.
type Runner struct {
	cfg       RunnerConfig
	uploader  Uploader
	collector *Collector
	logger    zerolog.Logger
	freeSpace func(ctx context.Context, path string) (uint64, error)
	now       func() time.Time
}

var _ tasks.Runner = (*Runner)(nil)

// NewRunner creates a Runner. Zero config fields use the defaults.
func NewRunner(cfg RunnerConfig, uploader Uploader, logger zerolog.Logger) *Runner {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = DefaultChunkThreshold
	}
	return &Runner{
		cfg:       cfg,
		uploader:  uploader,
		collector: NewCollector(logger),
		logger:    logger.With().Str("component", "backup_runner").Logger(),
		freeSpace: diskFree,
		now:       time.Now,
	}
}

func diskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Run backs up item. Any file above the chunk threshold switches the whole
// attempt to chunked uploads; otherwise one tar.gz archive is uploaded.
// progress receives a percentage from 0 to 100.
func (r *Runner) Run(ctx context.Context, ctl tasks.Control, item models.Item, progress func(float64)) (*models.BackupSummary, error) {
	report := func(float64) {}
	if progress != nil {
		report = func(fraction float64) { progress(fraction * 100) }
	}
	started := r.now()
	log := r.logger.With().Str("item_id", item.ID).Str("backup_name", item.Name).Logger()

	files, cleanup, err := r.sources(ctx, item)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	var summary *models.BackupSummary
	if largest, _ := LargestFile(files); largest.SizeBytes > r.cfg.ChunkThreshold {
		log.Info().
			Str("largest_file", largest.Name).
			Int64("size_bytes", largest.SizeBytes).
			Int("files", len(files)).
			Msg("using chunked upload")
		summary, err = r.runChunked(ctx, ctl, item, files, report)
	} else {
		summary, err = r.runArchive(ctx, ctl, item, files, report)
	}
	if err != nil {
		return nil, err
	}

	summary.StartedAt = started
	summary.CompletedAt = r.now()
	summary.Duration = summary.CompletedAt.Sub(started)
	report(1)

	log.Info().
		Int("version", summary.Version).
		Int("files", summary.FileCount).
		Int64("total_bytes", summary.TotalBytes).
		Dur("duration", summary.Duration).
		Msg("backup completed")
	return summary, nil
}

func (r *Runner) sources(ctx context.Context, item models.Item) ([]SourceFile, func(), error) {
	if item.Kind == models.ItemKindDatabase {
		f, cleanup, err := r.databaseSource(ctx, item, r.cfg.TempDir)
		if err != nil {
			return nil, cleanup, err
		}
		return []SourceFile{f}, cleanup, nil
	}
	files, err := r.collector.Collect(ctx, item.Paths, item.Excludes)
	if err != nil {
		return nil, func() {}, fmt.Errorf("collect files: %w", err)
	}
	return files, func() {}, nil
}

// runArchive and runChunked report progress as a fraction of the attempt.
func (r *Runner) runArchive(ctx context.Context, ctl tasks.Control, item models.Item, files []SourceFile, progress func(float64)) (*models.BackupSummary, error) {
	total := TotalSize(files)
	free, err := r.freeSpace(ctx, r.cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("check free space: %w", err)
	}
	if uint64(total) > free {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrInsufficientSpace, total, free)
	}

	archive, err := os.CreateTemp(r.cfg.TempDir, "strongbox-"+sanitizeName(item.Name)+"-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("create temp archive: %w", err)
	}
	archivePath := archive.Name()
	archive.Close()
	defer os.Remove(archivePath)

	// Archiving is the first 90% of the attempt, the upload the rest.
	checksum, err := writeArchive(ctx, ctl, archivePath, files, func(p float64) { progress(p * 0.9) })
	if err != nil {
		return nil, err
	}
	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}

	result, err := r.uploader.UploadArchive(ctx, item.Name, archivePath, checksum, len(files))
	if err != nil {
		return nil, err
	}

	return &models.BackupSummary{
		Version:    result.Version,
		FileCount:  len(files),
		TotalBytes: total,
		Checksum:   checksum,
	}, nil
}

func (r *Runner) runChunked(ctx context.Context, ctl tasks.Control, item models.Item, files []SourceFile, progress func(float64)) (*models.BackupSummary, error) {
	total := TotalSize(files)
	version := 0
	var sent int64

	for _, f := range files {
		if err := ctl.Checkpoint(ctx); err != nil {
			return nil, err
		}
		result, err := r.uploadFile(ctx, ctl, item.Name, version, f, func(n int64) {
			sent += n
			if total > 0 {
				progress(float64(sent) / float64(total))
			}
		})
		if err != nil {
			return nil, err
		}
		version = result.Version
	}

	if err := r.uploader.FinalizeBackup(ctx, &models.FinalizeBackupRequest{
		BackupName: item.Name,
		Version:    version,
		FileCount:  len(files),
		TotalBytes: total,
	}); err != nil {
		return nil, err
	}

	return &models.BackupSummary{
		Version:    version,
		Chunked:    true,
		FileCount:  len(files),
		TotalBytes: total,
	}, nil
}

func (r *Runner) uploadFile(ctx context.Context, ctl tasks.Control, backupName string, version int, f SourceFile, sent func(int64)) (*models.UploadResult, error) {
	checksum, err := fileChecksum(f.Path)
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", f.Name, err)
	}

	// The server picks the chunk size and count.
	session, err := r.uploader.CreateUpload(ctx, &models.CreateUploadRequest{
		BackupName: backupName,
		FileName:   f.Name,
		TotalSize:  f.SizeBytes,
		Checksum:   checksum,
		Version:    version,
	})
	if err != nil {
		return nil, err
	}

	var result *models.UploadResult
	if session.ChunkSize <= 0 || session.TotalChunks < 1 {
		err = fmt.Errorf("%w: chunk size %d, %d chunks", ErrBadUploadPlan, session.ChunkSize, session.TotalChunks)
	} else {
		result, err = r.sendChunks(ctx, ctl, session, f, sent)
	}
	if err != nil {
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if abortErr := r.uploader.AbortUpload(abortCtx, session.SessionID); abortErr != nil {
			r.logger.Warn().Err(abortErr).Str("session_id", session.SessionID).Msg("failed to abort upload session")
		}
		return nil, err
	}
	return result, nil
}

func (r *Runner) sendChunks(ctx context.Context, ctl tasks.Control, session *models.CreateUploadResponse, f SourceFile, sent func(int64)) (*models.UploadResult, error) {
	sessionID := session.SessionID
	src, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer src.Close()

	buf := make([]byte, session.ChunkSize)
	for i := 0; i < session.TotalChunks; i++ {
		if err := ctl.Checkpoint(ctx); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(src, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if _, err := r.uploader.UploadChunk(ctx, sessionID, i, buf[:n]); err != nil {
			return nil, err
		}
		sent(int64(n))
	}

	return r.uploader.CompleteUpload(ctx, sessionID)
}

