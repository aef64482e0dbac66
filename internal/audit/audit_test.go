package audit_test

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zenith-fleet/zenith/internal/audit"
)

func TestAppendRead_RoundTripsInChronologicalOrder(t *testing.T) {
	dir := t.TempDir()
	l, err := audit.Open(filepath.Join(dir, "audit.db"), 30)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 3; i++ {
		if err := l.Append(audit.Entry{
			Kind:      audit.KindJobTransition,
			JobID:     "job-1",
			StateFrom: "Pending",
			StateTo:   "Queued",
			NodeID:    "node-a",
		}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := l.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("entries not in chronological order at index %d", i)
		}
	}
}

func TestOpen_RejectsSchemaVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	l, err := audit.Open(path, 30)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Close()

	// Re-opening the same file with a matching schema version should still
	// succeed; this is the happy path the mismatch case below is
	// contrasted against.
	l2, err := audit.Open(path, 30)
	if err != nil {
		t.Fatalf("re-Open should succeed with matching schema: %v", err)
	}
	l2.Close()

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("meta")).Put([]byte("schema_version"), []byte("999"))
	}); err != nil {
		t.Fatalf("overwrite schema_version: %v", err)
	}
	db.Close()

	if _, err := audit.Open(path, 30); err == nil {
		t.Fatal("expected Open to reject a mismatched schema version")
	}
}

func TestPruneOld_RemovesOnlyEntriesPastRetention(t *testing.T) {
	dir := t.TempDir()
	l, err := audit.Open(filepath.Join(dir, "audit.db"), 30)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	old := audit.Entry{
		Timestamp: time.Now().AddDate(0, 0, -60),
		Kind:      audit.KindJobTransition,
		JobID:     "old-job",
		NodeID:    "node-a",
	}
	fresh := audit.Entry{
		Kind:   audit.KindJobTransition,
		JobID:  "fresh-job",
		NodeID: "node-a",
	}
	if err := l.Append(old); err != nil {
		t.Fatalf("Append old: %v", err)
	}
	if err := l.Append(fresh); err != nil {
		t.Fatalf("Append fresh: %v", err)
	}

	deleted, err := l.PruneOld()
	if err != nil {
		t.Fatalf("PruneOld: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	entries, err := l.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != "fresh-job" {
		t.Fatalf("expected only fresh-job to remain, got %+v", entries)
	}
}

func TestAppend_PluginVerdictEntry(t *testing.T) {
	dir := t.TempDir()
	l, err := audit.Open(filepath.Join(dir, "audit.db"), 30)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Append(audit.Entry{
		Kind:        audit.KindPluginVerdict,
		SourceID:    7,
		SeqNo:       42,
		PluginIndex: 0,
		Allowed:     false,
		NodeID:      "node-a",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := l.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != audit.KindPluginVerdict || entries[0].Allowed {
		t.Fatalf("unexpected entry: %+v", entries)
	}
}
