// Package config provides configuration loading and validation for the
// Zenith agent.
//
// Configuration file: /etc/zenith/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only (URL allowlist, job and heartbeat
//     timeouts).
//   - Log level, ring capacity, listen addresses and the data directory
//     take effect only after a restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges are enforced (capacity must be positive, timeouts
//     non-negative).
//   - Invalid config on startup: agent refuses to start (fatal error).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the Zenith agent.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this agent instance. Used in log fields and, when
	// this agent also runs the node-agent role, in heartbeats it sends to a
	// remote scheduler. Default: hostname.
	NodeID string `yaml:"node_id"`

	DataPlane     DataPlaneConfig     `yaml:"data_plane"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Storage       StorageConfig       `yaml:"storage"`
	ControlPlane  ControlPlaneConfig  `yaml:"control_plane"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DataPlaneConfig configures the ring buffer, plugin host, and plugin
// hot-reload watcher.
type DataPlaneConfig struct {
	// RingCapacity is rounded up to the next power of two. Default: 1024.
	RingCapacity int `yaml:"ring_capacity"`

	// PluginDir is watched non-recursively for bytecode modules to
	// hot-reload. Empty disables the watcher. Default: "".
	PluginDir string `yaml:"plugin_dir"`

	// SandboxRoot is the filesystem root plugins are chrooted beneath.
	// Default: /var/lib/zenith/sandbox.
	SandboxRoot string `yaml:"sandbox_root"`

	// URLAllowlist is the set of URL prefixes plugin HTTP calls may target.
	// Default: empty (no HTTP access).
	URLAllowlist []string `yaml:"url_allowlist"`

	// ConsumerParkInterval is how long the consumer sleeps when the ring is
	// empty. Default: 10µs.
	ConsumerParkInterval time.Duration `yaml:"consumer_park_interval"`
}

// SchedulerConfig configures the gang scheduler and node registry.
type SchedulerConfig struct {
	// MaxScheduleBatch caps how many queued jobs a single schedule_cycle
	// attempts to place. Default: 100.
	MaxScheduleBatch int `yaml:"max_schedule_batch"`

	// JobTimeoutSecs marks a Running job Timeout if exceeded. 0 disables.
	// Default: 0.
	JobTimeoutSecs int `yaml:"job_timeout_secs"`

	// HeartbeatTimeoutSecs: a node is unhealthy if now-last_heartbeat
	// exceeds this. Default: 30.
	HeartbeatTimeoutSecs int `yaml:"heartbeat_timeout_secs"`

	// ReapInterval is how often cleanup_zombie_jobs runs automatically.
	// Default: 10s.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// StorageConfig configures scheduler persistence and the audit ledger.
type StorageConfig struct {
	// DataDir holds jobs.json and nodes.json. Default: /var/lib/zenith.
	DataDir string `yaml:"data_dir"`

	// CheckpointIntervalSecs is parsed but not read by the agent: scheduler
	// state is persisted on every job mutation only, and there is no
	// checkpoint timer. Default: 0.
	CheckpointIntervalSecs int `yaml:"checkpoint_interval_secs"`

	// SyncOnWrite calls fsync after each whole-file write. Default: false.
	SyncOnWrite bool `yaml:"sync_on_write"`

	// AuditLedgerPath is the bbolt file recording job transitions and
	// plugin verdicts. Empty disables the ledger. Default:
	// /var/lib/zenith/audit.db.
	AuditLedgerPath string `yaml:"audit_ledger_path"`

	// AuditRetentionDays prunes ledger entries older than this.
	// Default: 30.
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

// ControlPlaneConfig configures the gRPC admin/submission surface.
type ControlPlaneConfig struct {
	// ListenAddr, e.g. "127.0.0.1:7443". Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// MetricsAddr, e.g. "127.0.0.1:9091". Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns a fully populated Config.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		DataPlane: DataPlaneConfig{
			RingCapacity:         1024,
			SandboxRoot:          "/var/lib/zenith/sandbox",
			ConsumerParkInterval: 10 * time.Microsecond,
		},
		Scheduler: SchedulerConfig{
			MaxScheduleBatch:     100,
			JobTimeoutSecs:       0,
			HeartbeatTimeoutSecs: 30,
			ReapInterval:         10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:            "/var/lib/zenith",
			AuditLedgerPath:    "/var/lib/zenith/audit.db",
			AuditRetentionDays: 30,
		},
		ControlPlane: ControlPlaneConfig{
			ListenAddr: "127.0.0.1:7443",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: "127.0.0.1:9091",
		},
	}
}

// Load reads path, unmarshals it over Defaults(), and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, accumulating every
// violation into a single descriptive error rather than failing fast.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.DataPlane.RingCapacity < 1 {
		errs = append(errs, fmt.Sprintf("data_plane.ring_capacity must be >= 1, got %d", cfg.DataPlane.RingCapacity))
	}
	if cfg.DataPlane.SandboxRoot == "" {
		errs = append(errs, "data_plane.sandbox_root must not be empty")
	}
	if cfg.DataPlane.ConsumerParkInterval <= 0 {
		errs = append(errs, "data_plane.consumer_park_interval must be > 0")
	}
	if cfg.Scheduler.MaxScheduleBatch < 1 {
		errs = append(errs, fmt.Sprintf("scheduler.max_schedule_batch must be >= 1, got %d", cfg.Scheduler.MaxScheduleBatch))
	}
	if cfg.Scheduler.JobTimeoutSecs < 0 {
		errs = append(errs, "scheduler.job_timeout_secs must be >= 0")
	}
	if cfg.Scheduler.HeartbeatTimeoutSecs < 1 {
		errs = append(errs, fmt.Sprintf("scheduler.heartbeat_timeout_secs must be >= 1, got %d", cfg.Scheduler.HeartbeatTimeoutSecs))
	}
	if cfg.Storage.DataDir == "" {
		errs = append(errs, "storage.data_dir must not be empty")
	}
	if cfg.Storage.AuditRetentionDays < 0 {
		errs = append(errs, "storage.audit_retention_days must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
