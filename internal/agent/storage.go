package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key or item does not exist.
var ErrNotFound = errors.New("not found")

const (
	itemKeyPrefix    = "item:"
	summaryKeyPrefix = "summary:"
)

// SQLiteStore is the agent's local key-value store backed by SQLite.
// Items and their last backup summaries are stored as JSON values.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) items.db in configDir.
func NewSQLiteStore(configDir string, logger zerolog.Logger) (*SQLiteStore, error) {
	dbPath := filepath.Join(configDir, "items.db")

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
		now:    time.Now,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Debug().Str("path", dbPath).Msg("item database initialized")
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the raw value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(value), nil
}

// Set stores value under key, replacing any previous value.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, string(value), s.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key returns ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every key with the given prefix and its value.
func (s *SQLiteStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[key] = []byte(value)
	}
	return out, rows.Err()
}

// GetItem returns the item with the given ID.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*models.Item, error) {
	data, err := s.Get(ctx, itemKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	var item models.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", id, err)
	}
	return &item, nil
}

// SaveItem inserts or replaces an item.
func (s *SQLiteStore) SaveItem(ctx context.Context, item *models.Item) error {
	if item.ID == "" {
		return errors.New("item id is required")
	}
	item.UpdatedAt = s.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = item.UpdatedAt
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	return s.Set(ctx, itemKeyPrefix+item.ID, data)
}

// DeleteItem removes an item and its last summary.
func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) error {
	if err := s.Delete(ctx, itemKeyPrefix+id); err != nil {
		return err
	}
	if err := s.Delete(ctx, summaryKeyPrefix+id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ListItems returns all items sorted by name.
func (s *SQLiteStore) ListItems(ctx context.Context) ([]*models.Item, error) {
	values, err := s.List(ctx, itemKeyPrefix)
	if err != nil {
		return nil, err
	}

	items := make([]*models.Item, 0, len(values))
	for key, data := range values {
		var item models.Item
		if err := json.Unmarshal(data, &item); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skipping unreadable item")
			continue
		}
		items = append(items, &item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// FindItemByName returns the item with the given name, ignoring case.
func (s *SQLiteStore) FindItemByName(ctx context.Context, name string) (*models.Item, error) {
	items, err := s.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if strings.EqualFold(item.Name, name) {
			return item, nil
		}
	}
	return nil, ErrNotFound
}

// SaveSummary records the last successful backup of an item.
func (s *SQLiteStore) SaveSummary(ctx context.Context, itemID string, summary *models.BackupSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return s.Set(ctx, summaryKeyPrefix+itemID, data)
}

// GetSummary returns the last successful backup of an item.
func (s *SQLiteStore) GetSummary(ctx context.Context, itemID string) (*models.BackupSummary, error) {
	data, err := s.Get(ctx, summaryKeyPrefix+itemID)
	if err != nil {
		return nil, err
	}
	var summary models.BackupSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}
