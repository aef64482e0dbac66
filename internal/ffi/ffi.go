// Package ffi exposes Zenith's data plane across a C-compatible ABI.
//
// Status codes:
//
//	 0  success
//	-1  null pointer
//	-2  buffer full (or plugin load failed)
//	-3  caught panic
//	-4  FFI/data conversion error
//	-5  init failed
//
// All entry points recover from panics and translate them to status code
// -3; none may unwind across the cgo boundary, since a Go panic crossing
// into C is undefined behavior.
//
// Handles are tracked in a process-wide registry keyed by an opaque
// uint64 handle rather than passing a raw *Engine across the
// boundary, so cgo callers never dereference Go memory directly.
package ffi

import (
	"sync"

	"github.com/zenith-fleet/zenith/internal/dataplane"
	"github.com/zenith-fleet/zenith/internal/pluginhost"
	"github.com/zenith-fleet/zenith/internal/zevent"
)

const (
	StatusOK              int32 = 0
	StatusNullPointer     int32 = -1
	StatusBufferFull      int32 = -2
	StatusPanic           int32 = -3
	StatusConversionError int32 = -4
	StatusInitFailed      int32 = -5
)

var (
	registryMu sync.Mutex
	registry   = map[uint64]*dataplane.Engine{}
	nextHandle uint64
)

// Init constructs a new Engine with the given ring capacity and returns an
// opaque handle, or 0 with StatusInitFailed-equivalent semantics signaled
// via the ok return.
func Init(capacity uint32) (handle uint64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			handle, ok = 0, false
		}
	}()

	caps, err := pluginhost.NewHostCapabilities("", nil)
	if err != nil {
		return 0, false
	}
	host, err := pluginhost.New(caps, nil)
	if err != nil {
		return 0, false
	}

	engine := dataplane.New(dataplane.Config{
		RingCapacity: int(capacity),
		Host:         host,
	})

	registryMu.Lock()
	defer registryMu.Unlock()
	nextHandle++
	h := nextHandle
	registry[h] = engine
	return h, true
}

func lookup(handle uint64) *dataplane.Engine {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[handle]
}

// Publish wraps payload, unchanged, as the Payload of an Event and pushes it
// into the engine identified by handle. The payload is not decoded or
// converted, so Publish never returns StatusConversionError. Returns a
// status code, never panics across the call.
func Publish(handle uint64, payload []byte, sourceID uint32, seqNo uint64) (status int32) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusPanic
		}
	}()

	if payload == nil {
		return StatusNullPointer
	}
	engine := lookup(handle)
	if engine == nil {
		return StatusNullPointer
	}

	ev := zevent.Event{
		Header: zevent.EventHeader{
			SourceID: sourceID,
			SeqNo:    seqNo,
		},
		Payload: payload,
	}

	if !engine.Publish(ev) {
		return StatusBufferFull
	}
	return StatusOK
}

// LoadPlugin compiles bytecode and registers it on the engine identified by
// handle. Returns a status code, never panics across the call.
func LoadPlugin(handle uint64, bytecode []byte) (status int32) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusPanic
		}
	}()

	if bytecode == nil {
		return StatusNullPointer
	}
	engine := lookup(handle)
	if engine == nil {
		return StatusNullPointer
	}
	if err := engine.LoadPlugin(bytecode, "ffi"); err != nil {
		return StatusBufferFull
	}
	return StatusOK
}

// Free releases the engine identified by handle. Never panics across the
// call; double-free is a silent no-op, matching the spec's "no unwind"
// requirement for the FFI boundary.
func Free(handle uint64) {
	defer func() { recover() }()

	registryMu.Lock()
	engine := registry[handle]
	delete(registry, handle)
	registryMu.Unlock()

	if engine != nil {
		engine.Shutdown()
	}
}
