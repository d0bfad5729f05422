package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSaveAndGetReport(t *testing.T) {
	store := newTestSQLiteStore(t)

	if _, err := store.GetReport("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing report, got %v", err)
	}

	payload := []byte(`{"summary":{"dominant_emotion":"energised"}}`)
	if err := store.SaveReport("s1", payload); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	got, err := store.GetReport("s1")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: %s", got)
	}

	// Re-saving replaces the payload.
	updated := []byte(`{"summary":{"dominant_emotion":"thoughtful"}}`)
	if err := store.SaveReport("s1", updated); err != nil {
		t.Fatalf("second SaveReport failed: %v", err)
	}
	got, err = store.GetReport("s1")
	if err != nil {
		t.Fatalf("GetReport after update failed: %v", err)
	}
	if string(got) != string(updated) {
		t.Fatalf("expected updated payload, got %s", got)
	}

	ids, err := store.ListReportIDs()
	if err != nil {
		t.Fatalf("ListReportIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("expected [s1], got %#v", ids)
	}
}

func TestSaveReportRequiresID(t *testing.T) {
	store := newTestSQLiteStore(t)
	if err := store.SaveReport("  ", []byte("{}")); err == nil {
		t.Fatal("expected error for blank session id")
	}
}

func TestInsightClaimIsIdempotent(t *testing.T) {
	store := newTestSQLiteStore(t)

	claimed, err := store.ClaimInsightRequest("s1", "hash-1")
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to be accepted")
	}

	claimed, err = store.ClaimInsightRequest("s1", "hash-1")
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to be ignored")
	}

	// A different prompt for the same session is a fresh claim.
	claimed, err = store.ClaimInsightRequest("s1", "hash-2")
	if err != nil {
		t.Fatalf("third claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected distinct prompt hash to claim")
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", idx)
			_ = store.SaveReport(id, []byte(`{"n":`+fmt.Sprint(idx)+`}`))
			_, _ = store.GetReport(id)
		}(i)
	}
	wg.Wait()

	ids, err := store.ListReportIDs()
	if err != nil {
		t.Fatalf("ListReportIDs failed: %v", err)
	}
	if len(ids) != 20 {
		t.Fatalf("expected 20 reports, got %d", len(ids))
	}
}
