// Package pluginhost loads bytecode modules into an isolated goja JavaScript
// runtime, exposes a capability-scoped host API to them, and invokes their
// exported on_event(source_id, seq_no) predicate once per dispatched event.
//
// A loaded module's "bytecode" is JavaScript source text: goja compiles to
// its own internal bytecode form that is not portable across processes, so
// the host-facing contract of loading a module from a byte slice is
// satisfied by compiling source on load, exactly as the original runtime
// this was distilled from treats its own scripting sandbox as the single
// supported plugin module kind.
package pluginhost

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrInitFailed is returned by New when the host cannot initialise its
// capability-scoped facilities.
var ErrInitFailed = errors.New("pluginhost: init failed")

// ErrLoadFailed is returned by Load when bytecode fails to parse or
// instantiate.
var ErrLoadFailed = errors.New("pluginhost: load failed")

// Host is the engine-wide plugin loading/execution facility. One Host binds
// one HostCapabilities value and compiles every plugin against it.
type Host struct {
	caps *HostCapabilities
	log  *zap.Logger

	httpClient *http.Client
}

// New constructs a Host bound to the given capabilities.
func New(caps *HostCapabilities, log *zap.Logger) (*Host, error) {
	if caps == nil {
		return nil, fmt.Errorf("%w: nil capabilities", ErrInitFailed)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{
		caps:       caps,
		log:        log.Named("pluginhost"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// currentEvent is the per-call context made available to host_read_event_field
// while an on_event invocation is in flight. It is set by Handle.OnEvent for
// the duration of the call and is never shared across handles.
type currentEvent struct {
	fields [][]byte
}

// Handle is one instantiated plugin: an isolated runtime plus its exported
// on_event entry point (if any) and the capability surface it was loaded
// with. Exactly one OnEvent call may be in flight at a time, enforced by mu.
type Handle struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	onEvent goja.Callable // nil => allow-by-default
	current *currentEvent
	host    *Host
}

// Load compiles bytecode (JavaScript source) into a fresh runtime, binds the
// host API, runs the module's top level, and resolves its on_event export if
// present.
func (h *Host) Load(bytecode []byte) (*Handle, error) {
	vm := goja.New()

	handle := &Handle{vm: vm, host: h, current: &currentEvent{}}
	if err := handle.bindHostAPI(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	if _, err := vm.RunScript("plugin.js", string(bytecode)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	if fn, ok := goja.AssertFunction(vm.Get("on_event")); ok {
		handle.onEvent = fn
	}

	return handle, nil
}

// bindHostAPI injects the host-call surface into the plugin's global object.
// Function names mirror the host-call ABI symbols with the leading "host_"
// lowered into camelCase, since goja plugins call host functions directly
// rather than crossing a C ABI.
func (h *Handle) bindHostAPI() error {
	vm := h.vm
	caps := h.host.caps

	must := func(name string, fn func(goja.FunctionCall) goja.Value) error {
		return vm.Set(name, fn)
	}

	if err := must("hostLog", func(call goja.FunctionCall) goja.Value {
		level := LogLevel(call.Argument(0).ToInteger())
		msg := call.Argument(1).String()
		caps.Logs.push(LogEntry{Level: level, Msg: msg, At: time.Now()})
		return vm.ToValue(0)
	}); err != nil {
		return err
	}

	if err := must("hostTimestampNs", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(uint64(time.Now().UnixNano()))
	}); err != nil {
		return err
	}

	if err := must("hostRandomU64", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(caps.RNG.Uint64())
	}); err != nil {
		return err
	}

	if err := must("hostReadEventField", func(call goja.FunctionCall) goja.Value {
		idx := int(call.Argument(0).ToInteger())
		if h.current == nil || idx < 0 || idx >= len(h.current.fields) {
			return vm.ToValue(-1)
		}
		return vm.ToValue(string(h.current.fields[idx]))
	}); err != nil {
		return err
	}

	if err := must("hostKvSet", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		val := call.Argument(1).String()
		caps.KV.Set(key, []byte(val))
		return vm.ToValue(0)
	}); err != nil {
		return err
	}

	if err := must("hostKvGet", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		v, ok := caps.KV.Get(key)
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(string(v))
	}); err != nil {
		return err
	}

	if err := must("hostKvDelete", func(call goja.FunctionCall) goja.Value {
		caps.KV.Delete(call.Argument(0).String())
		return vm.ToValue(0)
	}); err != nil {
		return err
	}

	if err := must("hostKvCount", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(caps.KV.Count())
	}); err != nil {
		return err
	}

	if err := must("hostFsRead", func(call goja.FunctionCall) goja.Value {
		data, err := caps.FS.Read(call.Argument(0).String())
		if err != nil {
			h.host.log.Debug("plugin fs read denied", zap.Error(err))
			return goja.Null()
		}
		return vm.ToValue(string(data))
	}); err != nil {
		return err
	}

	if err := must("hostFsWrite", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		data := call.Argument(1).String()
		if err := caps.FS.Write(path, []byte(data)); err != nil {
			h.host.log.Debug("plugin fs write denied", zap.Error(err))
			return vm.ToValue(-1)
		}
		return vm.ToValue(0)
	}); err != nil {
		return err
	}

	if err := must("hostHttpGet", func(call goja.FunctionCall) goja.Value {
		url := call.Argument(0).String()
		status, body, err := h.host.doHTTP(http.MethodGet, url, nil)
		if err != nil {
			h.host.log.Debug("plugin http get rejected", zap.Error(err))
			return vm.ToValue(-1)
		}
		result := vm.NewObject()
		_ = result.Set("status", status)
		_ = result.Set("body", string(body))
		return result
	}); err != nil {
		return err
	}

	if err := must("hostHttpPost", func(call goja.FunctionCall) goja.Value {
		url := call.Argument(0).String()
		body := []byte(call.Argument(1).String())
		status, respBody, err := h.host.doHTTP(http.MethodPost, url, body)
		if err != nil {
			h.host.log.Debug("plugin http post rejected", zap.Error(err))
			return vm.ToValue(-1)
		}
		result := vm.NewObject()
		_ = result.Set("status", status)
		_ = result.Set("body", string(respBody))
		return result
	}); err != nil {
		return err
	}

	return nil
}

// doHTTP performs an allowlist-checked request on behalf of a plugin.
func (h *Host) doHTTP(method, url string, body []byte) (int, []byte, error) {
	if !h.caps.URLs.Allowed(url) {
		return 0, nil, ErrURLNotAllowed
	}
	var reader io.Reader
	if body != nil {
		reader = byteReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func byteReader(b []byte) io.Reader { return &sliceReader{b: b} }

// sliceReader is a tiny io.Reader over a byte slice, avoiding a bytes.Reader
// import for a single call site.
type sliceReader struct {
	b []byte
	i int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

// OnEvent invokes the plugin's on_event(source_id, seq_no) predicate.
// Absence of the export means allow-by-default: an installed plugin that
// does not implement the hook is non-opinionated, so it returns (true, nil).
// Exactly one invocation per Handle is in flight at a time.
func (h *Handle) OnEvent(sourceID uint32, seqNo uint64, fields [][]byte) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.onEvent == nil {
		return true, nil
	}

	h.current.fields = fields
	defer func() { h.current.fields = nil }()

	result, err := h.onEvent(goja.Undefined(), h.vm.ToValue(int64(sourceID)), h.vm.ToValue(int64(seqNo)))
	if err != nil {
		return false, fmt.Errorf("pluginhost: on_event runtime error: %w", err)
	}
	return result.ToInteger() != 0, nil
}

// LogSnapshot returns the host's current bounded log ring, oldest first.
func (h *Host) LogSnapshot() []LogEntry { return h.caps.Logs.Snapshot() }
