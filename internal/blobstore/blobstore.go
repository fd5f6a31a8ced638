// Package blobstore stores finalized backup files.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInvalidKey is returned for keys that escape the store.
var ErrInvalidKey = errors.New("invalid blob key")

// Store moves a finished local file to durable storage.
type Store interface {
	// Put stores the file at srcPath under key and returns its location.
	// srcPath is consumed: it no longer exists after a successful Put.
	Put(ctx context.Context, key, srcPath string) (string, error)
}

// Key builds the blob key for one file of a backup version.
func Key(clientID, backupName string, version int, fileName string) string {
	return path.Join(clientID, safeSegment(backupName), fmt.Sprintf("v%d", version), cleanName(fileName))
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." || s == "" {
		return "_"
	}
	return s
}

// cleanName keeps a file's relative directories but drops any leading or
// parent components.
func cleanName(name string) string {
	name = path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimPrefix(name, "/")
}

// LocalStore keeps blobs under a directory.
type LocalStore struct {
	root   string
	logger zerolog.Logger
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string, logger zerolog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve blob directory: %w", err)
	}
	return &LocalStore{
		root:   abs,
		logger: logger.With().Str("component", "local_blobstore").Logger(),
	}, nil
}

// Put moves srcPath into the store, copying when a rename is not possible.
func (s *LocalStore) Put(ctx context.Context, key, srcPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := filepath.Join(s.root, filepath.FromSlash(cleanName(key)))
	if !strings.HasPrefix(dest, s.root+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}

	if err := os.Rename(srcPath, dest); err != nil {
		if err := copyFile(srcPath, dest); err != nil {
			return "", err
		}
		os.Remove(srcPath)
	}

	s.logger.Debug().Str("key", key).Str("path", dest).Msg("blob stored")
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("copy blob: %w", err)
	}
	return out.Close()
}
