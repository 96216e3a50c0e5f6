package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/sentiprep/pkg/sentiprep/store"
)

// TestSchemaCreationIdempotent tests that running initSchema multiple times is safe
func TestSchemaCreationIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Open database: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := initSchema(ctx, db); err != nil {
			t.Fatalf("initSchema iteration %d: %v", i, err)
		}
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&count)
	if err != nil {
		t.Fatalf("Count tables: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 table, got %d", count)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	created := time.Date(2024, 1, 18, 10, 0, 0, 0, time.UTC)
	entry := store.Entry{
		Key:       "translate:abc",
		Op:        "translate",
		Value:     []byte(`"Excellent customer service."`),
		CreatedAt: created,
	}
	if err := st.Save(ctx, entry); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := st.Load(ctx, "translate:abc")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if string(got.Value) != string(entry.Value) || got.Op != "translate" {
		t.Errorf("unexpected entry %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created)
	}

	// Upsert replaces the value
	entry.Value = []byte(`"Excellent service."`)
	if err := st.Save(ctx, entry); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	got, _, _ = st.Load(ctx, "translate:abc")
	if string(got.Value) != `"Excellent service."` {
		t.Errorf("upsert did not replace value: %s", got.Value)
	}

	if n, _ := st.Count(ctx, "translate"); n != 1 {
		t.Errorf("Count(translate) = %d", n)
	}

	if err := st.Delete(ctx, "translate:abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := st.Load(ctx, "translate:abc"); ok {
		t.Error("entry survived delete")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	st, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := st.Save(ctx, store.Entry{Key: "infer:1", Op: "infer", Value: []byte("{}")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	st.Close()

	st2, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer st2.Close()
	if _, ok, err := st2.Load(ctx, "infer:1"); err != nil || !ok {
		t.Fatalf("entry lost after reopen: ok=%v err=%v", ok, err)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	now := time.Now()
	old := store.Entry{Key: "infer:old", Op: "infer", Value: []byte("1"), CreatedAt: now.Add(-48 * time.Hour)}
	fresh := store.Entry{Key: "infer:new", Op: "infer", Value: []byte("2"), CreatedAt: now}
	for _, e := range []store.Entry{old, fresh} {
		if err := st.Save(ctx, e); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	n, err := st.PurgeOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	if total, _ := st.Count(ctx, ""); total != 1 {
		t.Errorf("remaining = %d", total)
	}
}
