package mapping

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/tagbox-core/internal/media"
)

// setupTestDB creates an in-memory SQLite database with the tag_mappings table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE tag_mappings (
			tag_id TEXT PRIMARY KEY,
			track TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// failingRepo accepts reads and fails every write.
type failingRepo struct {
	records []Record
}

func (f *failingRepo) List(context.Context) ([]Record, error) { return f.records, nil }
func (f *failingRepo) ReplaceAll(context.Context, []Entry) error {
	return errors.New("disk is read-only")
}

func newLoadedStore(t *testing.T, db *sql.DB) *Store {
	t.Helper()
	store := NewStore(NewSQLiteRepository(db))
	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return store
}

func TestStore_RegisterPersistsAndReloads(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := newLoadedStore(t, db)

	snap, err := store.Register(ctx, "584190", "lullaby.mp3")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if track, ok := snap.Resolve("584190"); !ok || track != "lullaby.mp3" {
		t.Errorf("Resolve() = %q, %v; want lullaby.mp3, true", track, ok)
	}

	// Re-registering the same tag replaces its track.
	if _, err := store.Register(ctx, "584190", "rain.wav"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	reloaded := newLoadedStore(t, db)
	want := map[string]string{"584190": "rain.wav"}
	if got := reloaded.Snapshot().Map(); !reflect.DeepEqual(got, want) {
		t.Errorf("reloaded mapping = %v, want %v", got, want)
	}
}

func TestStore_RegisterRejectsInvalid(t *testing.T) {
	store := newLoadedStore(t, setupTestDB(t))

	tests := []struct {
		name  string
		tagID string
		track string
	}{
		{"empty tag", "", "a.mp3"},
		{"tag with spaces", "12 34", "a.mp3"},
		{"bad extension", "1234", "a.exe"},
		{"path in track", "1234", "../a.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Register(context.Background(), tt.tagID, tt.track); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Register() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
	if store.Snapshot().Len() != 0 {
		t.Error("invalid registrations must not change the mapping")
	}
}

func TestStore_Unregister(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore(t, setupTestDB(t))

	if _, err := store.Register(ctx, "1", "a.mp3"); err != nil {
		t.Fatal(err)
	}

	snap, err := store.Unregister(ctx, "1")
	if err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if snap.Len() != 0 {
		t.Errorf("Len() = %d, want 0", snap.Len())
	}

	if _, err := store.Unregister(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Unregister() error = %v, want ErrNotFound", err)
	}
}

func TestStore_RemoveTrackDropsEveryReference(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore(t, setupTestDB(t))

	for id, track := range map[string]string{"1": "a.mp3", "2": "a.mp3", "3": "b.mp3"} {
		if _, err := store.Register(ctx, id, track); err != nil {
			t.Fatal(err)
		}
	}

	snap, removed, err := store.RemoveTrack(ctx, media.Track("a.mp3"))
	if err != nil {
		t.Fatalf("RemoveTrack() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	for _, e := range snap.Entries() {
		if e.Track == "a.mp3" {
			t.Errorf("entry %s still references deleted track", e.TagID)
		}
	}

	_, removed, err = store.RemoveTrack(ctx, media.Track("missing.mp3"))
	if err != nil || removed != 0 {
		t.Errorf("RemoveTrack(missing) = %d, %v; want 0, nil", removed, err)
	}
}

func TestStore_PersistFailureKeepsCommittedState(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&failingRepo{records: []Record{{TagID: "1", Track: "a.mp3"}}})
	if _, err := store.Load(ctx); err != nil {
		t.Fatal(err)
	}
	before := store.Snapshot()

	if _, err := store.Register(ctx, "2", "b.mp3"); !errors.Is(err, ErrPersist) {
		t.Errorf("Register() error = %v, want ErrPersist", err)
	}
	if _, err := store.Unregister(ctx, "1"); !errors.Is(err, ErrPersist) {
		t.Errorf("Unregister() error = %v, want ErrPersist", err)
	}
	if _, _, err := store.RemoveTrack(ctx, "a.mp3"); !errors.Is(err, ErrPersist) {
		t.Errorf("RemoveTrack() error = %v, want ErrPersist", err)
	}

	if got := store.Snapshot().Map(); !reflect.DeepEqual(got, before.Map()) {
		t.Errorf("mapping after failed writes = %v, want %v", got, before.Map())
	}
}

func TestStore_LoadSkipsMalformedRows(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Exec(`INSERT INTO tag_mappings (tag_id, track) VALUES
		('100', 'good.mp3'),
		('', 'empty-id.mp3'),
		('200', 'script.sh'),
		('300', '../escape.mp3')`)
	if err != nil {
		t.Fatal(err)
	}

	store := NewStore(NewSQLiteRepository(db))
	rejected, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rejected != 3 {
		t.Errorf("rejected = %d, want 3", rejected)
	}
	if got := store.Snapshot().Map(); !reflect.DeepEqual(got, map[string]string{"100": "good.mp3"}) {
		t.Errorf("mapping = %v", got)
	}
}

func TestStore_ImportLegacy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "tag_mappings.json")
	content := `{"584190": "lullaby.mp3", "777": "rain.wav", "bad id": "x.mp3"}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	db := setupTestDB(t)
	store := newLoadedStore(t, db)

	n, err := store.ImportLegacy(ctx, path)
	if err != nil {
		t.Fatalf("ImportLegacy() error = %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}

	// Second import is a no-op because the store is no longer empty.
	n, err = store.ImportLegacy(ctx, path)
	if err != nil || n != 0 {
		t.Errorf("second ImportLegacy() = %d, %v; want 0, nil", n, err)
	}

	if n, err := store.ImportLegacy(ctx, filepath.Join(dir, "absent.json")); err != nil || n != 0 {
		t.Errorf("ImportLegacy(absent) = %d, %v; want 0, nil", n, err)
	}

	if got := newLoadedStore(t, db).Snapshot().Len(); got != 2 {
		t.Errorf("persisted entries = %d, want 2", got)
	}
}

func TestSnapshot_IsolatedFromLaterMutations(t *testing.T) {
	ctx := context.Background()
	store := newLoadedStore(t, setupTestDB(t))
	if _, err := store.Register(ctx, "1", "a.mp3"); err != nil {
		t.Fatal(err)
	}

	held := store.Snapshot()

	if _, err := store.Register(ctx, "1", "b.mp3"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Register(ctx, "2", "c.mp3"); err != nil {
		t.Fatal(err)
	}

	if track, _ := held.Resolve("1"); track != "a.mp3" {
		t.Errorf("held snapshot resolved %q, want a.mp3", track)
	}
	if _, ok := held.Resolve("2"); ok {
		t.Error("held snapshot should not see tags registered later")
	}

	held.Map()["1"] = "tampered.mp3"
	if track, _ := held.Resolve("1"); track != "a.mp3" {
		t.Error("Map() must return a copy")
	}
}

func TestSnapshot_ZeroValue(t *testing.T) {
	var s Snapshot
	if _, ok := s.Resolve("anything"); ok {
		t.Error("zero snapshot should resolve nothing")
	}
	if s.Len() != 0 || len(s.Entries()) != 0 {
		t.Error("zero snapshot should be empty")
	}
}

func TestParseTagID(t *testing.T) {
	tests := []struct {
		input   string
		want    TagID
		wantErr bool
	}{
		{"584190784357", "584190784357", false},
		{"  42 \n", "42", false},
		{"04:A3:2B:FF", "04:A3:2B:FF", false},
		{"", "", true},
		{"a b", "", true},
		{"id;drop", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTagID(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTagID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTagID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
