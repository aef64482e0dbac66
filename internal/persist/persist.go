// Package persist provides whole-file JSON persistence for scheduler state.
//
// Zenith's scheduler state (jobs and nodes) is small enough, and read/written
// infrequently enough relative to the in-memory hot path, that a bbolt-style
// transactional key/value store would be pure overhead here: every mutation
// already holds the JobStore/NodeRegistry's own RWMutex, so there is no need
// for a second storage-level transaction to get atomicity. A single
// temp-file-then-rename whole-file write gives the same crash-safety
// guarantee (the rename is atomic on POSIX filesystems) with far less
// machinery, which is why this package is built on encoding/json and os
// rather than go.etcd.io/bbolt. The audit trail that does need append-only,
// queryable, ACID-transactional storage lives in package audit instead,
// where bbolt is put to direct use.
//
// File layout:
//
//	{data_dir}/jobs.json
//	{data_dir}/nodes.json
//
// Both files share the envelope shape {"schema_version": "1", "data": ...}.
// A mismatched schema_version makes Load return an error instead of decoding
// the data; the agent logs that error and starts without the persisted
// state rather than risk silently misinterpreting an incompatible layout.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SchemaVersion is the current on-disk schema version for persisted
// scheduler state.
const SchemaVersion = "1"

type envelope struct {
	SchemaVersion string          `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

// Save writes v as the JSON payload of path's envelope, using a
// temp-file-then-rename so a crash mid-write never leaves a truncated or
// corrupt file in place. If sync is true, the temp file is fsynced before
// the rename.
func Save(path string, v interface{}, sync bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persist.Save(%q): marshal: %w", path, err)
	}

	env := envelope{SchemaVersion: SchemaVersion, Data: payload}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("persist.Save(%q): marshal envelope: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("persist.Save(%q): create temp file: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist.Save(%q): write temp file: %w", path, err)
	}

	if sync {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("persist.Save(%q): fsync temp file: %w", path, err)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist.Save(%q): close temp file: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist.Save(%q): rename temp file: %w", path, err)
	}

	return nil
}

// Load reads path's envelope and unmarshals its data payload into v. If the
// file does not exist, Load returns os.ErrNotExist unwrapped so callers can
// detect first-run with errors.Is. A schema_version mismatch is returned as
// a plain error, never silently ignored.
func Load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return fmt.Errorf("persist.Load(%q): read: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("persist.Load(%q): unmarshal envelope: %w", path, err)
	}
	if env.SchemaVersion != SchemaVersion {
		return fmt.Errorf("persist.Load(%q): schema_version mismatch: file has %q, agent requires %q",
			path, env.SchemaVersion, SchemaVersion)
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("persist.Load(%q): unmarshal data: %w", path, err)
	}
	return nil
}

// JobsPath returns the canonical jobs.json path under dataDir.
func JobsPath(dataDir string) string {
	return filepath.Join(dataDir, "jobs.json")
}

// NodesPath returns the canonical nodes.json path under dataDir.
func NodesPath(dataDir string) string {
	return filepath.Join(dataDir, "nodes.json")
}
