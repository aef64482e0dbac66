// Package main — cmd/zenith-agent/main.go
//
// Zenith agent entrypoint.
//
// Startup sequence:
//  1. Parse flags; print version and exit if requested.
//  2. Load and validate config from /etc/zenith/config.yaml.
//  3. Initialise structured logger (zap).
//  4. Open the audit ledger (bbolt) and prune stale entries.
//  5. Load persisted node/job state, if present, from the data directory.
//  6. Construct the node registry.
//  7. Construct the plugin host and the data plane engine; start its
//     consumer goroutine.
//  8. Construct the gang scheduler, wired to the node registry, the
//     audit ledger, and the persistence directory.
//  9. Start the Prometheus metrics server, if configured.
//  10. Start the plugin hot-reload watcher, if a plugin directory is
//     configured.
//  11. Start the gRPC control plane server, if configured.
//  12. Start the cron-driven schedule-cycle and zombie-reap loops.
//  13. Register a SIGHUP handler for config hot-reload.
//  14. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (propagates to all goroutines).
//  2. Stop the cron scheduler and wait up to 5s for its in-flight pass.
//  3. Stop the data plane engine (waits, with no time bound, for the
//     consumer goroutine to finish its in-flight dispatch and exit).
//  4. Close the audit ledger.
//  5. Flush the logger.
//  6. Exit 0.
//
// On invalid startup config: exit 1 immediately (no partial state).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zenith-fleet/zenith/internal/audit"
	"github.com/zenith-fleet/zenith/internal/config"
	"github.com/zenith-fleet/zenith/internal/controlplane"
	"github.com/zenith-fleet/zenith/internal/dataplane"
	"github.com/zenith-fleet/zenith/internal/jobstate"
	"github.com/zenith-fleet/zenith/internal/noderegistry"
	"github.com/zenith-fleet/zenith/internal/observability"
	"github.com/zenith-fleet/zenith/internal/persist"
	"github.com/zenith-fleet/zenith/internal/pluginhost"
	"github.com/zenith-fleet/zenith/internal/scheduler"
	"github.com/zenith-fleet/zenith/internal/zenithlog"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/zenith/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("zenith-agent %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 2: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 3: Logger ────────────────────────────────────────────────────────
	log, err := zenithlog.Build(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("zenith-agent starting",
		zap.String("version", config.Version),
		zap.String("node_id", cfg.NodeID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 4: Audit ledger ──────────────────────────────────────────────────
	var ledger *audit.Ledger
	if cfg.Storage.AuditLedgerPath != "" {
		ledger, err = audit.Open(cfg.Storage.AuditLedgerPath, cfg.Storage.AuditRetentionDays)
		if err != nil {
			log.Fatal("audit ledger open failed", zap.Error(err))
		}
		defer ledger.Close()

		if cfg.Storage.AuditRetentionDays > 0 {
			pruned, err := ledger.PruneOld()
			if err != nil {
				log.Warn("audit ledger prune failed", zap.Error(err))
			} else if pruned > 0 {
				log.Info("audit ledger pruned stale entries", zap.Int("count", pruned))
			}
		}
	} else {
		log.Info("audit ledger disabled (storage.audit_ledger_path is empty)")
	}

	// ── Step 6: Node registry ─────────────────────────────────────────────────
	heartbeatTimeout := time.Duration(cfg.Scheduler.HeartbeatTimeoutSecs) * time.Second
	nodes := noderegistry.New(heartbeatTimeout)
	defer nodes.Close()

	// ── Step 5: Restore persisted node state, if any ─────────────────────────
	if cfg.Storage.DataDir != "" {
		var savedNodes []noderegistry.Node
		if err := persist.Load(persist.NodesPath(cfg.Storage.DataDir), &savedNodes); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn("node state restore failed", zap.Error(err))
			}
		} else {
			for _, n := range savedNodes {
				nodes.Register(n)
			}
			log.Info("node state restored", zap.Int("count", len(savedNodes)))
		}
	}

	// ── Step 7: Plugin host and data plane engine ────────────────────────────
	caps, err := pluginhost.NewHostCapabilities(cfg.DataPlane.SandboxRoot, cfg.DataPlane.URLAllowlist)
	if err != nil {
		log.Fatal("plugin host capabilities init failed", zap.Error(err))
	}
	host, err := pluginhost.New(caps, log)
	if err != nil {
		log.Fatal("plugin host init failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	engine := dataplane.New(dataplane.Config{
		RingCapacity: cfg.DataPlane.RingCapacity,
		ParkInterval: cfg.DataPlane.ConsumerParkInterval,
		Host:         host,
		Metrics:      metrics,
		Ledger:       ledger,
		Log:          log,
	})
	engine.Start(ctx)
	defer engine.Shutdown()

	// ── Step 8: Gang scheduler ────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Nodes:          nodes,
		Ledger:         ledger,
		DataDir:        cfg.Storage.DataDir,
		SyncOnWrite:    cfg.Storage.SyncOnWrite,
		JobTimeoutSecs: cfg.Scheduler.JobTimeoutSecs,
	})

	if cfg.Storage.DataDir != "" {
		restoreJobs(sched, cfg.Storage.DataDir, log)
	}

	// ── Step 9: Metrics server ────────────────────────────────────────────────
	if cfg.Observability.MetricsAddr != "" {
		go func() {
			if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
				log.Error("metrics server exited", zap.Error(err))
			}
		}()
		log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))
	}

	// ── Step 10: Plugin hot-reload watcher ────────────────────────────────────
	watcher := dataplane.NewPluginWatcher(cfg.DataPlane.PluginDir, engine, log)
	if watcher.Enabled() {
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("plugin watcher exited", zap.Error(err))
			}
		}()
		log.Info("plugin watcher started", zap.String("dir", cfg.DataPlane.PluginDir))
	}

	// ── Step 11: Control plane server ────────────────────────────────────────
	if cfg.ControlPlane.ListenAddr != "" {
		cpServer := controlplane.NewServer(sched, nodes, engine, metrics, log)
		go func() {
			if err := controlplane.ListenAndServe(ctx, cfg.ControlPlane.ListenAddr, cpServer, log); err != nil {
				log.Error("control plane server exited", zap.Error(err))
			}
		}()
		log.Info("control plane server started", zap.String("addr", cfg.ControlPlane.ListenAddr))
	}

	// ── Step 12: Cron-driven schedule cycle and zombie reaper ────────────────
	reaper := cron.New()
	reapSpec := fmt.Sprintf("@every %s", cfg.Scheduler.ReapInterval.String())
	if _, err := reaper.AddFunc(reapSpec, func() {
		reaped := sched.CleanupZombieJobs()
		if reaped > 0 {
			log.Info("zombie jobs reaped", zap.Int("count", reaped))
		}
		decisions := sched.ScheduleCycle(cfg.Scheduler.MaxScheduleBatch)
		if len(decisions) > 0 {
			log.Info("schedule cycle placed jobs", zap.Int("count", len(decisions)))
		}
	}); err != nil {
		log.Fatal("cron schedule registration failed", zap.Error(err))
	}
	reaper.Start()
	log.Info("schedule cycle and reaper cron started", zap.String("interval", reapSpec))

	// ── Step 13: SIGHUP hot-reload ────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			// Apply the documented non-destructive subset only: URL
			// allowlist, job and heartbeat timeouts. Log level, ring
			// capacity, listen addresses, and the data directory require a
			// restart.
			caps.URLs.Set(newCfg.DataPlane.URLAllowlist)
			sched.SetJobTimeout(time.Duration(newCfg.Scheduler.JobTimeoutSecs) * time.Second)
			nodes.SetHeartbeatTimeout(time.Duration(newCfg.Scheduler.HeartbeatTimeoutSecs) * time.Second)
			log.Info("config hot-reload applied",
				zap.Int("job_timeout_secs", newCfg.Scheduler.JobTimeoutSecs),
				zap.Int("heartbeat_timeout_secs", newCfg.Scheduler.HeartbeatTimeoutSecs),
			)
		}
	}()

	// ── Step 14: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	drainCtx := reaper.Stop()
	select {
	case <-drainCtx.Done():
	case <-time.After(5 * time.Second):
		log.Warn("cron drain timeout — forcing shutdown")
	}

	log.Info("zenith-agent shutdown complete")
}

// restoreJobs loads persisted job state from dataDir and re-submits every
// non-terminal job so the scheduler can resume placing it. Terminal jobs
// are skipped: they are neither re-queued nor kept in the scheduler.
func restoreJobs(sched *scheduler.GangScheduler, dataDir string, log *zap.Logger) {
	var saved []scheduler.Job
	if err := persist.Load(persist.JobsPath(dataDir), &saved); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("job state restore failed", zap.Error(err))
		}
		return
	}

	resumed := 0
	for _, j := range saved {
		if j.State() == jobstate.Completed || j.State() == jobstate.Failed ||
			j.State() == jobstate.Cancelled || j.State() == jobstate.Timeout {
			continue
		}
		if _, err := sched.Submit(j.Descriptor); err != nil {
			log.Warn("job restore resubmit failed", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		resumed++
	}
	log.Info("job state restored", zap.Int("total", len(saved)), zap.Int("resumed", resumed))
}
