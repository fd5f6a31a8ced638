package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
)

const defaultDumpTimeout = 2 * time.Hour

// databaseSource returns the file to back up for a database item. When the
// item names a dump tool, the tool's stdout is written to a file in tempDir
// and the returned cleanup removes it.
func (r *Runner) databaseSource(ctx context.Context, item models.Item, tempDir string) (SourceFile, func(), error) {
	noop := func() {}
	db := item.Database
	if db == nil {
		return SourceFile{}, noop, fmt.Errorf("item %s has no database target", item.Name)
	}

	if db.ToolPath == "" {
		info, err := os.Stat(db.Path)
		if err != nil {
			return SourceFile{}, noop, fmt.Errorf("stat database: %w", err)
		}
		return SourceFile{Path: db.Path, Name: filepath.Base(db.Path), SizeBytes: info.Size()}, noop, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultDumpTimeout)
	defer cancel()

	out, err := os.CreateTemp(tempDir, "strongbox-dump-*")
	if err != nil {
		return SourceFile{}, noop, fmt.Errorf("create dump file: %w", err)
	}
	cleanup := func() { os.Remove(out.Name()) }

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, db.ToolPath, db.Args...)
	cmd.Stdout = out
	cmd.Stderr = &stderr

	r.logger.Debug().
		Str("binary", db.ToolPath).
		Strs("args", db.Args).
		Str("backup_name", item.Name).
		Msg("running database dump")

	runErr := cmd.Run()
	closeErr := out.Close()
	if runErr != nil {
		cleanup()
		return SourceFile{}, noop, fmt.Errorf("dump database: %w: %s", runErr, strings.TrimSpace(stderr.String()))
	}
	if closeErr != nil {
		cleanup()
		return SourceFile{}, noop, fmt.Errorf("close dump file: %w", closeErr)
	}

	info, err := os.Stat(out.Name())
	if err != nil {
		cleanup()
		return SourceFile{}, noop, fmt.Errorf("stat dump file: %w", err)
	}

	name := dumpName(item)
	r.logger.Info().
		Str("backup_name", item.Name).
		Int64("size_bytes", info.Size()).
		Msg("database dump completed")

	return SourceFile{Path: out.Name(), Name: name, SizeBytes: info.Size()}, cleanup, nil
}

func dumpName(item models.Item) string {
	ext := ".dump"
	switch strings.ToLower(item.Database.Engine) {
	case "postgres", "postgresql", "mysql", "mariadb":
		ext = ".sql"
	case "sqlite", "sqlite3":
		ext = ".db"
	}
	return sanitizeName(item.Name) + ext
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}
