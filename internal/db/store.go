package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/strongbox/internal/models"
	pkgmodels "github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Client methods

// CreateClient creates a new client.
func (db *DB) CreateClient(ctx context.Context, c *models.Client) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO clients (id, name, api_key_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, c.APIKeyHash, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// FindClientByKeyHash returns the client owning the API key hash.
func (db *DB) FindClientByKeyHash(ctx context.Context, hash string) (*models.Client, error) {
	var c models.Client
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, api_key_hash, last_seen, created_at, updated_at
		FROM clients
		WHERE api_key_hash = $1
	`, hash).Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.LastSeen, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get client by API key: %w", notFound(err))
	}
	return &c, nil
}

// GetClientByID returns a client by ID.
func (db *DB) GetClientByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	var c models.Client
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, api_key_hash, last_seen, created_at, updated_at
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.LastSeen, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", notFound(err))
	}
	return &c, nil
}

// TouchClient records that the client was just seen.
func (db *DB) TouchClient(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE clients SET last_seen = NOW(), updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("touch client: %w", err)
	}
	return nil
}

// Backup methods

const backupColumns = `id, client_id, backup_name, version, status, file_count, total_bytes,
	       COALESCE(error_message, ''), started_at, completed_at, updated_at`

func scanBackup(row pgx.Row) (*models.Backup, error) {
	var b models.Backup
	var status string
	err := row.Scan(&b.ID, &b.ClientID, &b.BackupName, &b.Version, &status, &b.FileCount,
		&b.TotalBytes, &b.ErrorMessage, &b.StartedAt, &b.CompletedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = models.BackupStatus(status)
	return &b, nil
}

// CreateOrUpdateBackupRecord returns the running record for a backup version.
// Version zero allocates the next version for (clientID, backupName); any
// other version must already exist and is touched.
func (db *DB) CreateOrUpdateBackupRecord(ctx context.Context, clientID uuid.UUID, backupName string, version int) (*models.Backup, error) {
	var record *models.Backup
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		if version > 0 {
			b, err := scanBackup(tx.QueryRow(ctx, `
				UPDATE backups SET updated_at = NOW()
				WHERE client_id = $1 AND backup_name = $2 AND version = $3
				RETURNING `+backupColumns,
				clientID, backupName, version))
			if err != nil {
				return notFound(err)
			}
			record = b
			return nil
		}

		// Serialize version allocation per (client, backup name).
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || '/' || $2::text))`, clientID.String(), backupName); err != nil {
			return fmt.Errorf("lock backup versions: %w", err)
		}
		b, err := scanBackup(tx.QueryRow(ctx, `
			INSERT INTO backups (id, client_id, backup_name, version, status, started_at, updated_at)
			SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, $4, NOW(), NOW()
			FROM backups WHERE client_id = $2 AND backup_name = $3
			RETURNING `+backupColumns,
			uuid.New(), clientID, backupName, string(models.BackupStatusRunning)))
		if err != nil {
			return err
		}
		record = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create or update backup record: %w", err)
	}
	return record, nil
}

// GetBackupRecord returns one backup version.
func (db *DB) GetBackupRecord(ctx context.Context, clientID uuid.UUID, backupName string, version int) (*models.Backup, error) {
	b, err := scanBackup(db.Pool.QueryRow(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE client_id = $1 AND backup_name = $2 AND version = $3
	`, clientID, backupName, version))
	if err != nil {
		return nil, fmt.Errorf("get backup record: %w", notFound(err))
	}
	return b, nil
}

// ListBackupRecords returns every version of a client's backup, newest first.
func (db *DB) ListBackupRecords(ctx context.Context, clientID uuid.UUID, backupName string) ([]*models.Backup, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE client_id = $1 AND backup_name = $2
		ORDER BY version DESC
	`, clientID, backupName)
	if err != nil {
		return nil, fmt.Errorf("list backup records: %w", err)
	}
	defer rows.Close()

	var backups []*models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup record: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup records: %w", err)
	}
	return backups, nil
}

// AppendBackupFile records a stored file and adds it to the backup's totals.
func (db *DB) AppendBackupFile(ctx context.Context, backupID uuid.UUID, info pkgmodels.BackupFileInfo) error {
	f := models.NewBackupFile(backupID, info)
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO backup_files (id, backup_id, name, size_bytes, checksum, location, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (backup_id, name) DO NOTHING
		`, f.ID, f.BackupID, f.Name, f.SizeBytes, f.Checksum, f.Location, f.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("file %s already recorded", f.Name)
		}
		_, err = tx.Exec(ctx, `
			UPDATE backups
			SET file_count = file_count + 1, total_bytes = total_bytes + $2, updated_at = NOW()
			WHERE id = $1
		`, backupID, f.SizeBytes)
		return err
	})
	if err != nil {
		return fmt.Errorf("append backup file: %w", err)
	}
	return nil
}

// ListBackupFiles returns the files of a backup version by name.
func (db *DB) ListBackupFiles(ctx context.Context, backupID uuid.UUID) ([]*models.BackupFile, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, backup_id, name, size_bytes, checksum, location, created_at
		FROM backup_files
		WHERE backup_id = $1
		ORDER BY name
	`, backupID)
	if err != nil {
		return nil, fmt.Errorf("list backup files: %w", err)
	}
	defer rows.Close()

	var files []*models.BackupFile
	for rows.Next() {
		var f models.BackupFile
		if err := rows.Scan(&f.ID, &f.BackupID, &f.Name, &f.SizeBytes, &f.Checksum, &f.Location, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backup file: %w", err)
		}
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup files: %w", err)
	}
	return files, nil
}

// MarkBackupStatus sets a backup's status. Terminal statuses stamp completed_at.
func (db *DB) MarkBackupStatus(ctx context.Context, backupID uuid.UUID, status models.BackupStatus, errMsg string) error {
	var completedAt *time.Time
	if status != models.BackupStatusRunning {
		now := time.Now()
		completedAt = &now
	}
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE backups
		SET status = $2, error_message = $3, completed_at = $4, updated_at = NOW()
		WHERE id = $1
	`, backupID, string(status), errPtr, completedAt)
	if err != nil {
		return fmt.Errorf("mark backup status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark backup status: %w", ErrNotFound)
	}
	return nil
}
