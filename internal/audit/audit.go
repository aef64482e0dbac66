// Package audit — audit.go
//
// BoltDB-backed append-only audit ledger for Zenith.
//
// Schema (BoltDB bucket layout):
//
//	/ledger
//	    key:   fixed-width RFC3339 nanosecond timestamp + "_" + sequence  [sortable]
//	    value: JSON-encoded Entry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// This is NOT the system of record for scheduler state — package persist's
// jobs.json/nodes.json is. The ledger exists purely for forensics: a
// durable, queryable trail of job state transitions and plugin verdicts
// that survives scheduler restarts and can be inspected independently of
// current in-memory state.
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent
//     writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Entries older than RetentionDays are removed by PruneOld, which the
//     agent calls once at startup.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// SchemaVersion is the current ledger schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default ledger retention period.
	DefaultRetentionDays = 30

	bucketLedger = "ledger"
	bucketMeta   = "meta"
)

// EntryKind distinguishes the two event kinds the ledger records.
type EntryKind string

const (
	// KindJobTransition records a job state machine transition.
	KindJobTransition EntryKind = "job_transition"

	// KindPluginVerdict records a single plugin on_event verdict.
	KindPluginVerdict EntryKind = "plugin_verdict"
)

// Entry is a single audit ledger record. Stored as JSON in the ledger
// bucket.
type Entry struct {
	// Timestamp is the event time (nanosecond precision).
	Timestamp time.Time `json:"timestamp"`

	// Kind distinguishes job transitions from plugin verdicts.
	Kind EntryKind `json:"kind"`

	// JobID is set for KindJobTransition entries.
	JobID string `json:"job_id,omitempty"`

	// StateFrom/StateTo are set for KindJobTransition entries.
	StateFrom string `json:"state_from,omitempty"`
	StateTo   string `json:"state_to,omitempty"`

	// SourceID/SeqNo identify the event for KindPluginVerdict entries.
	SourceID uint32 `json:"source_id,omitempty"`
	SeqNo    uint64 `json:"seq_no,omitempty"`

	// PluginIndex is the registration-order index of the plugin that
	// produced this verdict.
	PluginIndex int `json:"plugin_index,omitempty"`

	// Allowed is the plugin's verdict for KindPluginVerdict entries.
	Allowed bool `json:"allowed,omitempty"`

	// NodeID is the Zenith node that recorded this entry.
	NodeID string `json:"node_id"`
}

// Ledger wraps a BoltDB instance providing append-only audit storage.
type Ledger struct {
	db            *bolt.DB
	retentionDays int
	seq           uint64
}

// Open opens (or creates) the BoltDB ledger file at path. Initialises all
// required buckets and verifies the schema version. Returns an error if the
// database is corrupt or the schema is incompatible.
func Open(path string, retentionDays int) (*Ledger, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("audit.Open(%q): %w", path, err)
	}

	l := &Ledger{db: bdb, retentionDays: retentionDays}

	if err := l.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLedger, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("ledger initialisation failed: %w", err)
	}

	if err := l.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return l, nil
}

func (l *Ledger) checkSchemaVersion() error {
	return l.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"audit: schema version mismatch: ledger has %q, agent requires %q",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// ledgerKey constructs a sortable BoltDB key for an entry.
// Format: UTC RFC3339 with all nine nanosecond digits kept + "_" + sequence
// (zero-padded to 20 digits). Every key has the same width, so
// lexicographic sort = chronological sort, with the sequence breaking ties
// between entries recorded within the same nanosecond.
func ledgerKey(t time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), seq))
}

// Append writes a new ledger entry. Uses a single ACID write transaction.
func (l *Ledger) Append(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit.Append marshal: %w", err)
	}

	l.seq++
	key := ledgerKey(entry.Timestamp, l.seq)

	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("audit.Append bolt.Put: %w", err)
		}
		return nil
	})
}

// PruneOld deletes ledger entries older than the configured retention
// period. Returns the number of entries deleted.
func (l *Ledger) PruneOld() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.retentionDays)
	cutoffKey := ledgerKey(cutoff, 0)

	var deleted int
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOld bolt.Delete: %w", err)
			}
		}
		deleted = len(toDelete)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("audit.PruneOld: %w", err)
	}
	return deleted, nil
}

// Read returns all ledger entries in chronological order.
func (l *Ledger) Read() ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("Read unmarshal %q: %w", k, err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit.Read: %w", err)
	}
	return entries, nil
}
