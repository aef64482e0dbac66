// Package observability — metrics.go
//
// Prometheus metrics for the Zenith agent.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: the configured address; the default is loopback only.
//
// Metric naming convention: zenith_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for Zenith.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Ring buffer / data plane ──────────────────────────────────────────

	// EventsPublishedTotal counts events successfully pushed into the ring.
	EventsPublishedTotal prometheus.Counter

	// EventsDroppedTotal counts publish attempts that failed, by reason.
	// Labels: reason (buffer_full, the only reason recorded)
	EventsDroppedTotal *prometheus.CounterVec

	// RingDepth is the current number of queued events.
	RingDepth prometheus.Gauge

	// ─── Plugin host ────────────────────────────────────────────────────────

	// PluginInvocationsTotal counts on_event calls, by verdict (allow,
	// reject, error).
	PluginInvocationsTotal *prometheus.CounterVec

	// PluginLatencySeconds records on_event call latency.
	PluginLatencySeconds prometheus.Histogram

	// PluginsLoaded is the current number of registered plugins.
	PluginsLoaded prometheus.Gauge

	// ─── Scheduler ────────────────────────────────────────────────────────

	// QueueDepth is the current number of queued jobs.
	QueueDepth prometheus.Gauge

	// JobTransitionsTotal counts job state transitions, by from/to state.
	JobTransitionsTotal *prometheus.CounterVec

	// ScheduleCycleDuration records how long one schedule_cycle() call took.
	ScheduleCycleDuration prometheus.Histogram

	// ZombiesReapedTotal counts jobs reaped by cleanup_zombie_jobs, by cause.
	ZombiesReapedTotal *prometheus.CounterVec

	// ─── Node registry ──────────────────────────────────────────────────────

	// NodesHealthy is the current count of healthy nodes.
	NodesHealthy prometheus.Gauge

	// NodesTotal is the current count of registered nodes.
	NodesTotal prometheus.Gauge

	// GPUsAvailable is the current count of unallocated GPUs cluster-wide.
	GPUsAvailable prometheus.Gauge

	// ─── Control plane ──────────────────────────────────────────────────────

	// GRPCRequestsTotal counts control-plane RPCs, by method and status.
	GRPCRequestsTotal *prometheus.CounterVec

	// ─── Agent ────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all Zenith Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zenith",
			Subsystem: "dataplane",
			Name:      "events_published_total",
			Help:      "Total events successfully pushed into the ring buffer.",
		}),

		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenith",
			Subsystem: "dataplane",
			Name:      "events_dropped_total",
			Help:      "Total publish attempts that failed, by reason.",
		}, []string{"reason"}),

		RingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zenith",
			Subsystem: "dataplane",
			Name:      "ring_depth",
			Help:      "Current depth of the event ring buffer.",
		}),

		PluginInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenith",
			Subsystem: "plugin",
			Name:      "invocations_total",
			Help:      "Total on_event invocations, by verdict.",
		}, []string{"verdict"}),

		PluginLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zenith",
			Subsystem: "plugin",
			Name:      "invocation_latency_seconds",
			Help:      "Latency of a single plugin on_event call.",
			Buckets:   prometheus.DefBuckets,
		}),

		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zenith",
			Subsystem: "plugin",
			Name:      "loaded",
			Help:      "Current number of registered plugins.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zenith",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Current number of queued jobs.",
		}),

		JobTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenith",
			Subsystem: "scheduler",
			Name:      "job_transitions_total",
			Help:      "Total job state transitions, by from_state and to_state.",
		}, []string{"from_state", "to_state"}),

		ScheduleCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zenith",
			Subsystem: "scheduler",
			Name:      "schedule_cycle_duration_seconds",
			Help:      "Duration of one schedule_cycle() call.",
			Buckets:   prometheus.DefBuckets,
		}),

		ZombiesReapedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenith",
			Subsystem: "scheduler",
			Name:      "zombies_reaped_total",
			Help:      "Total jobs reaped by cleanup_zombie_jobs, by cause.",
		}, []string{"cause"}),

		NodesHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zenith",
			Subsystem: "noderegistry",
			Name:      "nodes_healthy",
			Help:      "Current count of healthy nodes.",
		}),

		NodesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zenith",
			Subsystem: "noderegistry",
			Name:      "nodes_total",
			Help:      "Current count of registered nodes.",
		}),

		GPUsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zenith",
			Subsystem: "noderegistry",
			Name:      "gpus_available",
			Help:      "Current count of unallocated GPUs cluster-wide.",
		}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenith",
			Subsystem: "controlplane",
			Name:      "grpc_requests_total",
			Help:      "Total control-plane RPCs, by method and status.",
		}, []string{"method", "status"}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zenith",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.RingDepth,
		m.PluginInvocationsTotal,
		m.PluginLatencySeconds,
		m.PluginsLoaded,
		m.QueueDepth,
		m.JobTransitionsTotal,
		m.ScheduleCycleDuration,
		m.ZombiesReapedTotal,
		m.NodesHealthy,
		m.NodesTotal,
		m.GPUsAvailable,
		m.GRPCRequestsTotal,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr. Blocks
// until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
