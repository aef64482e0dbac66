package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zenith-fleet/zenith/internal/config"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := config.Defaults()
	if err := config.Validate(&cfg); err != nil {
		t.Fatalf("Defaults() should validate cleanly, got: %v", err)
	}
}

func TestLoad_MergesOverFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "schema_version: \"1\"\nnode_id: test-node\ndata_plane:\n  ring_capacity: 2048\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataPlane.RingCapacity != 2048 {
		t.Errorf("RingCapacity = %d, want 2048", cfg.DataPlane.RingCapacity)
	}
	if cfg.Scheduler.MaxScheduleBatch != 100 {
		t.Errorf("MaxScheduleBatch should retain default 100, got %d", cfg.Scheduler.MaxScheduleBatch)
	}
}

func TestValidate_AccumulatesAllViolations(t *testing.T) {
	cfg := config.Defaults()
	cfg.SchemaVersion = "2"
	cfg.NodeID = ""
	cfg.DataPlane.RingCapacity = 0

	err := config.Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"schema_version", "node_id", "ring_capacity"} {
		if !contains(msg, want) {
			t.Errorf("expected error to mention %q, got: %s", want, msg)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := config.Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error loading nonexistent config file")
	}
}
