// Package db is the Strongbox server's PostgreSQL store, built on pgx.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serializes Migrate across servers sharing a database.
const migrationLockID int64 = 5216683401

// undefinedTable is the PostgreSQL error code for a missing relation.
const undefinedTable = "42P01"

// Config holds the pool settings. The server fills it from DB_* variables.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns the pool settings used when nothing is configured.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

func (c Config) validate() error {
	if c.URL == "" {
		return errors.New("database URL is empty")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("max conns %d must be at least 1", c.MaxConns)
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("min conns %d must be between 0 and max conns %d", c.MinConns, c.MaxConns)
	}
	return nil
}

// DB is the server's connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New opens the pool and checks the database answers.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	db := &DB{
		Pool:   pool,
		logger: logger.With().Str("component", "database").Logger(),
	}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.logger.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("connected to strongbox database")
	return db, nil
}

// Ping checks a connection can be acquired and used.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *DB) Close() {
	db.Pool.Close()
	db.logger.Info().Msg("database pool closed")
}

// Health reports pool usage for the /health database check.
func (db *DB) Health() map[string]any {
	stats := db.Pool.Stat()
	return map[string]any{
		"conns_in_use": stats.AcquiredConns(),
		"conns_idle":   stats.IdleConns(),
		"conns_max":    stats.MaxConns(),
	}
}

// ExecTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) ExecTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Migration is one embedded schema change, named NNN_description.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() ([]Migration, error) {
	return loadMigrations(migrationsFS, "migrations")
}

func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[m.Version]; ok {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, m.Name, m.Version)
		}
		seen[m.Version] = m.Name

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		m.SQL = string(content)
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigrationName(file string) (Migration, error) {
	name := strings.TrimSuffix(file, ".sql")
	prefix, desc, ok := strings.Cut(name, "_")
	if !ok || desc == "" {
		return Migration{}, fmt.Errorf("migration %s: want NNN_description.sql", file)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version < 1 {
		return Migration{}, fmt.Errorf("migration %s: version %q is not a positive number", file, prefix)
	}
	return Migration{Version: version, Name: name}, nil
}

// Migrate applies every embedded migration the database has not seen and
// returns how many it applied. Each migration runs in its own transaction.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	migrations, err := GetMigrations()
	if err != nil {
		return 0, err
	}

	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return 0, fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		log := db.logger.With().Int("version", m.Version).Str("migration", m.Name).Logger()
		log.Info().Msg("applying migration")

		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		count++
	}

	if count > 0 {
		db.logger.Info().Int("applied", count).Msg("schema up to date")
	} else {
		db.logger.Debug().Msg("no pending migrations")
	}
	return count, nil
}

func appliedVersions(ctx context.Context, conn *pgxpool.Conn) (map[int]bool, error) {
	rows, err := conn.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// CurrentVersion returns the newest applied migration, or 0 on a fresh database.
func (db *DB) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := db.Pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
