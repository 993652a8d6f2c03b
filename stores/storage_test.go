package stores

import (
	"context"
	"testing"

	"studynotes-server/core"
)

func TestGetStore_DefaultIsMemory(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "")

	store := GetStore(context.Background())

	if _, ok := store.(core.SnapshotStore); !ok {
		t.Errorf("default store %T does not keep snapshots", store)
	}
}

func TestGetStore_Filesystem(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "filesystem")
	t.Setenv("LOCAL_STORAGE_PATH", t.TempDir())
	ctx := context.Background()

	store := GetStore(ctx)
	if err := store.Save(ctx, "r1", &core.Document{Content: "on disk"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	doc, err := store.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if doc.Content != "on disk" {
		t.Errorf("Content = %q, want %q", doc.Content, "on disk")
	}
	if _, ok := store.(core.RoomIndex); !ok {
		t.Errorf("filesystem store %T does not index rooms", store)
	}
}
