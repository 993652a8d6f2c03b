package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"studynotes-server/core"
)

func TestNewDocumentStore_CreatesDirectory(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "path", "test")
	store := NewDocumentStore(tempDir)

	if store == nil {
		t.Fatal("NewDocumentStore() returned nil")
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("NewDocumentStore() did not create nested directory structure")
	}
}

func TestSave_WritesFile(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDocumentStore(tempDir)

	if err := store.Save(context.Background(), "r1", &core.Document{Content: "notes"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tempDir, "r1.txt"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "notes" {
		t.Errorf("file content = %q, want %q", data, "notes")
	}

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (temp file left behind?)", len(entries))
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := NewDocumentStore(t.TempDir())
	ctx := context.Background()

	content := "Hello 👋 ünïcødé\nsecond line"
	if err := store.Save(ctx, "r1", &core.Document{Content: content}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	doc, err := store.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if doc.Content != content {
		t.Errorf("Content mismatch: got %q, want %q", doc.Content, content)
	}
	if doc.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set from file mtime")
	}
}

func TestSave_EmptyDocument(t *testing.T) {
	store := NewDocumentStore(t.TempDir())
	ctx := context.Background()

	if err := store.Save(ctx, "empty", &core.Document{}); err != nil {
		t.Fatalf("Save() failed for empty document: %v", err)
	}
	doc, err := store.Load(ctx, "empty")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if doc.Content != "" {
		t.Errorf("Content = %q, want empty", doc.Content)
	}
}

func TestLoad_NotFound(t *testing.T) {
	store := NewDocumentStore(t.TempDir())

	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, core.ErrDocumentNotFound) {
		t.Errorf("Load() error = %v, want ErrDocumentNotFound", err)
	}
}

func TestOpaqueRoomIDsStayInsideBasePath(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDocumentStore(tempDir)
	ctx := context.Background()

	ids := []string{"Study Room 1", "physics#3", "räume", "../escape", "a/b", "..", ".notes"}
	for _, id := range ids {
		if err := store.Save(ctx, id, &core.Document{Content: "notes for " + id}); err != nil {
			t.Fatalf("Save(%q) failed: %v", id, err)
		}
		doc, err := store.Load(ctx, id)
		if err != nil {
			t.Fatalf("Load(%q) failed: %v", id, err)
		}
		if doc.Content != "notes for "+id {
			t.Errorf("Load(%q) = %q", id, doc.Content)
		}
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != len(ids) {
		t.Errorf("base path holds %d entries, want %d", len(entries), len(ids))
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(tempDir), "escape.txt")); err == nil {
		t.Error("room id escaped the base path")
	}

	rooms, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms() failed: %v", err)
	}
	seen := map[string]bool{}
	for _, r := range rooms {
		seen[r.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("ListRooms() is missing %q: %+v", id, rooms)
		}
	}
}

func TestEmptyRoomIDRejected(t *testing.T) {
	store := NewDocumentStore(t.TempDir())
	ctx := context.Background()

	if err := store.Save(ctx, "", &core.Document{Content: "x"}); !errors.Is(err, core.ErrInvalidRoomID) {
		t.Errorf("Save() error = %v, want ErrInvalidRoomID", err)
	}
	if _, err := store.Load(ctx, ""); !errors.Is(err, core.ErrInvalidRoomID) {
		t.Errorf("Load() error = %v, want ErrInvalidRoomID", err)
	}
}

func TestSave_ConcurrentSameRoom(t *testing.T) {
	store := NewDocumentStore(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := strings.Repeat(string(rune('a'+i)), 1000)
			if err := store.Save(ctx, "shared", &core.Document{Content: content}); err != nil {
				t.Errorf("Save() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	doc, err := store.Load(ctx, "shared")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(doc.Content) != 1000 || strings.Count(doc.Content, doc.Content[:1]) != 1000 {
		t.Error("concurrent saves produced a torn document")
	}
}

func TestListRooms(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDocumentStore(tempDir)
	ctx := context.Background()

	store.Save(ctx, "alpha", &core.Document{Content: "a"})
	store.Save(ctx, "beta", &core.Document{Content: "b"})
	os.WriteFile(filepath.Join(tempDir, "ignored.bin"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(tempDir, "save-123.tmp"), []byte("x"), 0o644)

	rooms, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms() failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("ListRooms() returned %d rooms, want 2: %+v", len(rooms), rooms)
	}
	seen := map[string]bool{}
	for _, r := range rooms {
		seen[r.ID] = true
	}
	if !seen["alpha"] || !seen["beta"] {
		t.Errorf("ListRooms() = %+v, want alpha and beta", rooms)
	}
}
