package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testStore(t *testing.T, keep int) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "apps.json"), keep)
}

func TestLoadNotFound(t *testing.T) {
	store := testStore(t, 0)
	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	store := testStore(t, 0)
	if err := os.WriteFile(store.Path, []byte(`{"not":"a list"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestWriteAtomicRoundTrip(t *testing.T) {
	store := testStore(t, 0)
	records := []AppRecord{
		{Name: "App A", UID: 123, AppID: "app-a", Version: "1.2.3", UpdatedTime: "2025-11-10T00:00:00+00:00"},
	}
	if err := store.Write(records); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].UID != 123 || loaded[0].Version != "1.2.3" {
		t.Fatalf("unexpected round trip: %+v", loaded)
	}

	// No temp file may survive in the manifest directory.
	entries, err := os.ReadDir(filepath.Dir(store.Path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".manifest-") {
			t.Fatalf("leftover temp file: %s", entry.Name())
		}
	}
}

func TestWriteCanonicalKeyOrder(t *testing.T) {
	store := testStore(t, 0)
	records := []AppRecord{{Name: "App A", UID: 123, AppID: "app-a", Version: "1.2.3", UpdatedTime: "2025-11-10T00:00:00+00:00"}}
	if err := store.Write(records); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(store.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	order := []string{`"name"`, `"uid"`, `"appid"`, `"updated_time"`, `"version"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(text, key)
		if idx < 0 {
			t.Fatalf("key %s missing in %s", key, text)
		}
		if idx < last {
			t.Fatalf("key %s out of order in %s", key, text)
		}
		last = idx
	}
}

func TestExtraFieldsPreserved(t *testing.T) {
	store := testStore(t, 0)
	payload := `[{"name":"A","uid":1,"version":"1.0","updated_time":"2025-01-01T00:00:00+00:00","custom_note":"keep me"}]`
	if err := os.WriteFile(store.Path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := store.Write(records); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	data, err := os.ReadFile(store.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"custom_note": "keep me"`) {
		t.Fatalf("extra field lost: %s", data)
	}
}

func TestBackupRotation(t *testing.T) {
	const keep = 3
	store := testStore(t, keep)
	records := []AppRecord{{UID: 1, Version: "1.0", UpdatedTime: "2025-01-01T00:00:00+00:00"}}

	// keep+2 writes after the initial one produce keep+2 backups before
	// rotation; only the newest keep may remain.
	if err := store.Write(records); err != nil {
		t.Fatalf("initial write: %v", err)
	}
	for i := 0; i < keep+2; i++ {
		records = Upsert(records, 1, "1.0", "2025-01-01T00:00:00+00:00")
		if err := store.Write(records); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups, err := store.Backups()
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	if len(backups) != keep {
		t.Fatalf("expected %d backups, got %d: %v", keep, len(backups), backups)
	}
}

func TestBackupDisabled(t *testing.T) {
	store := testStore(t, 0)
	records := []AppRecord{{UID: 1, Version: "1.0", UpdatedTime: "2025-01-01T00:00:00+00:00"}}
	for i := 0; i < 3; i++ {
		if err := store.Write(records); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	backups, err := store.Backups()
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	if len(backups) != 0 {
		t.Fatalf("expected no backups, got %v", backups)
	}
}

func TestUpsert(t *testing.T) {
	records := []AppRecord{{UID: 1, Version: "1.0", UpdatedTime: "old"}}

	records = Upsert(records, 1, "1.1", "new")
	if len(records) != 1 || records[0].Version != "1.1" || records[0].UpdatedTime != "new" {
		t.Fatalf("existing record not updated: %+v", records)
	}

	records = Upsert(records, 2, "2.0", "now")
	if len(records) != 2 || records[1].UID != 2 || records[1].Version != "2.0" {
		t.Fatalf("new record not appended: %+v", records)
	}
}
