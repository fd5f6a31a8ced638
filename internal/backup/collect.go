// Package backup performs backup attempts for agent items and schedules them.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// SourceFile is one regular file selected for a backup.
type SourceFile struct {
	// Path is the file's location on disk.
	Path string `json:"path"`
	// Name is the slash-separated name the file gets inside the backup.
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// Collector walks an item's paths and selects the files to back up.
type Collector struct {
	logger zerolog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger.With().Str("component", "collector").Logger(),
	}
}

// Collect returns every regular file under paths whose base name matches none
// of the exclude patterns, sorted by Name. Unreadable entries are skipped.
func (c *Collector) Collect(ctx context.Context, paths []string, excludes []string) ([]SourceFile, error) {
	var files []SourceFile
	seen := make(map[string]bool)

	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}

		// Names are relative to the parent of each root so the root's own
		// name is kept inside the backup.
		base := filepath.Dir(root)
		if !info.IsDir() {
			if !excluded(filepath.Base(root), excludes) && !seen[root] {
				seen[root] = true
				files = append(files, SourceFile{Path: root, Name: filepath.Base(root), SizeBytes: info.Size()})
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				c.logger.Debug().Err(err).Str("path", path).Msg("error accessing path")
				return nil
			}
			if excluded(d.Name(), excludes) {
				if d.IsDir() && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			fi, err := d.Info()
			if err != nil {
				c.logger.Debug().Err(err).Str("path", path).Msg("error getting file info")
				return nil
			}
			if seen[path] {
				return nil
			}
			seen[path] = true

			rel, err := filepath.Rel(base, path)
			if err != nil {
				return err
			}
			files = append(files, SourceFile{Path: path, Name: filepath.ToSlash(rel), SizeBytes: fi.Size()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	c.logger.Debug().Int("files", len(files)).Int64("total_bytes", TotalSize(files)).Msg("collected files")
	return files, nil
}

func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// TotalSize sums the sizes of files.
func TotalSize(files []SourceFile) int64 {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return total
}

// LargestFile returns the biggest file, or false for an empty list.
func LargestFile(files []SourceFile) (SourceFile, bool) {
	if len(files) == 0 {
		return SourceFile{}, false
	}
	largest := files[0]
	for _, f := range files[1:] {
		if f.SizeBytes > largest.SizeBytes {
			largest = f
		}
	}
	return largest, true
}

// FormatFiles lists file names for logging, truncated to maxFiles entries.
func FormatFiles(files []SourceFile, maxFiles int) string {
	names := make([]string, 0, min(len(files), maxFiles))
	for i, f := range files {
		if i >= maxFiles {
			names = append(names, fmt.Sprintf("... and %d more", len(files)-maxFiles))
			break
		}
		names = append(names, f.Name)
	}
	return strings.Join(names, ", ")
}
