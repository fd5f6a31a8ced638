package backup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestCollector_Collect(t *testing.T) {
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	writeFile(t, filepath.Join(docs, "b.txt"), "bb")
	writeFile(t, filepath.Join(docs, "a.txt"), "a")
	writeFile(t, filepath.Join(docs, "node_modules", "x.js"), "x")
	writeFile(t, filepath.Join(docs, "tmp.swp"), "s")
	single := filepath.Join(root, "notes.md")
	writeFile(t, single, "notes")

	c := NewCollector(zerolog.Nop())
	files, err := c.Collect(context.Background(), []string{docs, single, docs}, []string{"node_modules", "*.swp"})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	want := []string{"docs/a.txt", "docs/b.txt", "notes.md"}
	if len(files) != len(want) {
		t.Fatalf("got %d files (%s), want %d", len(files), FormatFiles(files, 10), len(want))
	}
	for i, name := range want {
		if files[i].Name != name {
			t.Errorf("files[%d].Name = %s, want %s", i, files[i].Name, name)
		}
	}
	if got := TotalSize(files); got != 8 {
		t.Errorf("TotalSize() = %d, want 8", got)
	}
	if largest, ok := LargestFile(files); !ok || largest.Name != "notes.md" {
		t.Errorf("LargestFile() = %v, %v", largest, ok)
	}
}

func TestCollector_MissingPath(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	if _, err := c.Collect(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, nil); err == nil {
		t.Error("Collect() error = nil, want missing path error")
	}
}

func TestCollector_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewCollector(zerolog.Nop()).Collect(ctx, []string{root}, nil); err == nil {
		t.Error("Collect() error = nil, want context error")
	}
}

func TestFormatFiles(t *testing.T) {
	files := []SourceFile{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	if got := FormatFiles(files, 2); got != "a, b, ... and 1 more" {
		t.Errorf("FormatFiles() = %q", got)
	}
	if got := FormatFiles(files, 5); got != "a, b, c" {
		t.Errorf("FormatFiles() = %q", got)
	}
}
