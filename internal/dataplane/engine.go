// Package dataplane — engine.go
//
// Engine owns the event ring buffer and the plugin registry, and runs the
// consumer goroutine that drains the ring and dispatches each event through
// every registered plugin in registration order.
//
// Architecture:
//
//	[Producer: FFI caller]
//	      ↓  TryPush
//	[RingBuffer[Event]]
//	      ↓  TryPop, park loop (ConsumerParkInterval) when empty
//	[Consumer goroutine]
//	      ↓  on_event(source_id, seq_no) per registered plugin, in order
//	[Plugin chain — first 0 verdict drops the event]
//
// Backpressure:
//   - If the ring is full, Publish returns false and
//     metrics.EventsDroppedTotal{reason="buffer_full"} is incremented.
//
// Shutdown:
//   - ctx cancellation stops the consumer goroutine cleanly; Shutdown blocks
//     until the goroutine has exited.
package dataplane

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zenith-fleet/zenith/internal/audit"
	"github.com/zenith-fleet/zenith/internal/observability"
	"github.com/zenith-fleet/zenith/internal/pluginhost"
	"github.com/zenith-fleet/zenith/internal/ringbuffer"
	"github.com/zenith-fleet/zenith/internal/zevent"
)

// Engine is the Zenith event data plane: a lock-free SPSC ring plus the
// plugin chain that filters events popped from it.
type Engine struct {
	ring     *ringbuffer.Ring[zevent.Event]
	registry *pluginhost.Registry
	host     *pluginhost.Host
	park     time.Duration
	metrics  *observability.Metrics
	ledger   *audit.Ledger
	log      *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config configures an Engine.
type Config struct {
	RingCapacity int
	ParkInterval time.Duration
	Host         *pluginhost.Host
	Metrics      *observability.Metrics
	Ledger       *audit.Ledger
	Log          *zap.Logger
}

// New creates an Engine. It does not start the consumer goroutine; call
// Start for that.
func New(cfg Config) *Engine {
	park := cfg.ParkInterval
	if park <= 0 {
		park = 10 * time.Microsecond
	}
	return &Engine{
		ring:     ringbuffer.New[zevent.Event](cfg.RingCapacity),
		registry: pluginhost.NewRegistry(),
		host:     cfg.Host,
		park:     park,
		metrics:  cfg.Metrics,
		ledger:   cfg.Ledger,
		log:      cfg.Log,
		stopCh:   make(chan struct{}),
	}
}

// LoadPlugin compiles bytecode and registers the resulting handle at the
// end of the dispatch chain, recording sourceLabel as its origin in the
// registry.
func (e *Engine) LoadPlugin(bytecode []byte, sourceLabel string) error {
	handle, err := e.host.Load(bytecode)
	if err != nil {
		return err
	}
	e.registry.Append(handle, sourceLabel)
	if e.metrics != nil {
		e.metrics.PluginsLoaded.Set(float64(e.registry.Len()))
	}
	return nil
}

// PluginCount returns the number of currently registered plugins.
func (e *Engine) PluginCount() int {
	return e.registry.Len()
}

// Publish pushes an event into the ring. Returns false if the ring is full.
func (e *Engine) Publish(ev zevent.Event) bool {
	_, ok := e.ring.TryPush(ev)
	if ok {
		if e.metrics != nil {
			e.metrics.EventsPublishedTotal.Inc()
			e.metrics.RingDepth.Set(float64(e.ring.Len()))
		}
		return true
	}
	if e.metrics != nil {
		e.metrics.EventsDroppedTotal.WithLabelValues("buffer_full").Inc()
	}
	return false
}

// Start launches the consumer goroutine. Safe to call once.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.consume(ctx)
}

// Shutdown stops the consumer goroutine and waits for it to exit.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) consume(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		default:
		}

		ev, ok := e.ring.TryPop()
		if !ok {
			time.Sleep(e.park)
			continue
		}
		if e.metrics != nil {
			e.metrics.RingDepth.Set(float64(e.ring.Len()))
		}
		e.dispatch(ev)
	}
}

// dispatch runs ev through every registered plugin in order. The event is
// dropped only when a plugin explicitly returns a reject verdict; a plugin
// runtime error is logged but never drops the event.
func (e *Engine) dispatch(ev zevent.Event) {
	fields := zevent.DecodeFields(ev.Payload)

	handles := e.registry.Snapshot()
	for i, h := range handles {
		start := time.Now()
		allow, err := h.OnEvent(ev.Header.SourceID, ev.Header.SeqNo, fields)
		if e.metrics != nil {
			e.metrics.PluginLatencySeconds.Observe(time.Since(start).Seconds())
		}

		if err != nil {
			if e.log != nil {
				e.log.Warn("plugin on_event error",
					zap.Int("plugin_index", i),
					zap.Uint32("source_id", ev.Header.SourceID),
					zap.Uint64("seq_no", ev.Header.SeqNo),
					zap.Error(err),
				)
			}
			if e.metrics != nil {
				e.metrics.PluginInvocationsTotal.WithLabelValues("error").Inc()
			}
			continue
		}

		verdict := "allow"
		if !allow {
			verdict = "reject"
		}
		if e.metrics != nil {
			e.metrics.PluginInvocationsTotal.WithLabelValues(verdict).Inc()
		}
		if e.ledger != nil {
			_ = e.ledger.Append(audit.Entry{
				Kind:        audit.KindPluginVerdict,
				SourceID:    ev.Header.SourceID,
				SeqNo:       ev.Header.SeqNo,
				PluginIndex: i,
				Allowed:     allow,
			})
		}

		if !allow {
			return
		}
	}
}
