package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/MacJediWizard/strongbox/internal/tasks"
)

// writeArchive writes files into a gzip-compressed tar at dest and returns
// the hex SHA-256 of the archive bytes. ctl.Checkpoint is called before each
// file; progress receives the fraction of source bytes written.
func writeArchive(ctx context.Context, ctl tasks.Control, dest string, files []SourceFile, progress func(float64)) (string, error) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	hash := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(out, hash))
	tw := tar.NewWriter(gz)

	total := TotalSize(files)
	var written int64
	for _, f := range files {
		if err := ctl.Checkpoint(ctx); err != nil {
			return "", err
		}
		n, err := addFile(tw, f)
		if err != nil {
			return "", err
		}
		written += n
		if total > 0 {
			progress(float64(written) / float64(total))
		}
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("close gzip writer: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func addFile(tw *tar.Writer, f SourceFile) (int64, error) {
	src, err := os.Open(f.Path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.Path, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, fmt.Errorf("tar header %s: %w", f.Path, err)
	}
	hdr.Name = f.Name
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("write header %s: %w", f.Name, err)
	}
	// The header size is fixed; a file that grew meanwhile is truncated.
	n, err := io.CopyN(tw, src, hdr.Size)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", f.Name, err)
	}
	return n, nil
}

// fileChecksum returns the hex SHA-256 of the file at path.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
