package agent

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	store, err := NewSQLiteStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_KeyValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, "a:1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "a:1", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := store.Set(ctx, "b:1", []byte(`{}`)); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.Get(ctx, "a:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("value = %s, want overwritten value", got)
	}

	listed, err := store.List(ctx, "a:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("expected 1 key with prefix a:, got %d", len(listed))
	}

	if err := store.Delete(ctx, "a:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "a:1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestSQLiteStore_Items(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	next := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	docs := &models.Item{
		ID:       "item-1",
		Name:     "Daily-Docs",
		Kind:     models.ItemKindFiles,
		Paths:    []string{"/home/user/docs"},
		Schedule: models.ScheduleSpec{Interval: models.IntervalDaily, DailyTime: "09:00"},
		Enabled:  true,
		NextRun:  &next,
	}
	photos := &models.Item{ID: "item-2", Name: "photos", Kind: models.ItemKindFiles, Paths: []string{"/pics"}}

	for _, item := range []*models.Item{photos, docs} {
		if err := store.SaveItem(ctx, item); err != nil {
			t.Fatalf("save item: %v", err)
		}
	}

	got, err := store.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Name != "Daily-Docs" || got.Schedule.DailyTime != "09:00" || got.NextRun == nil || !got.NextRun.Equal(next) {
		t.Errorf("unexpected item %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	items, err := store.ListItems(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 || items[0].Name != "Daily-Docs" || items[1].Name != "photos" {
		t.Errorf("expected items sorted by name, got %v", items)
	}

	found, err := store.FindItemByName(ctx, "daily-docs")
	if err != nil || found.ID != "item-1" {
		t.Errorf("FindItemByName() = %v, %v", found, err)
	}
	if _, err := store.FindItemByName(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.SaveSummary(ctx, "item-1", &models.BackupSummary{Version: 3, FileCount: 2}); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	summary, err := store.GetSummary(ctx, "item-1")
	if err != nil || summary.Version != 3 {
		t.Errorf("GetSummary() = %+v, %v", summary, err)
	}

	if err := store.DeleteItem(ctx, "item-1"); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if _, err := store.GetItem(ctx, "item-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := store.GetSummary(ctx, "item-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected summary removed with item, got %v", err)
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()
	ctx := context.Background()

	store, err := NewSQLiteStore(dir, logger)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if err := store.SaveItem(ctx, &models.Item{ID: "item-1", Name: "docs"}); err != nil {
		t.Fatalf("save item: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(dir, logger)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetItem(ctx, "item-1"); err != nil {
		t.Errorf("item lost across reopen: %v", err)
	}
}
