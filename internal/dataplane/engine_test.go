package dataplane_test

import (
	"context"
	"testing"
	"time"

	"github.com/zenith-fleet/zenith/internal/dataplane"
	"github.com/zenith-fleet/zenith/internal/pluginhost"
	"github.com/zenith-fleet/zenith/internal/zevent"
)

func newEngine(t *testing.T, capacity int) (*dataplane.Engine, *pluginhost.Host) {
	t.Helper()
	caps, err := pluginhost.NewHostCapabilities(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewHostCapabilities: %v", err)
	}
	host, err := pluginhost.New(caps, nil)
	if err != nil {
		t.Fatalf("pluginhost.New: %v", err)
	}
	e := dataplane.New(dataplane.Config{
		RingCapacity: capacity,
		ParkInterval: time.Millisecond,
		Host:         host,
	})
	return e, host
}

func TestPublish_SucceedsWithinCapacity(t *testing.T) {
	e, _ := newEngine(t, 4)
	ok := e.Publish(zevent.Event{Header: zevent.EventHeader{SourceID: 1, SeqNo: 1}})
	if !ok {
		t.Fatal("Publish should succeed when the ring has room")
	}
}

func TestPublish_FailsWhenRingFull(t *testing.T) {
	e, _ := newEngine(t, 1)
	if !e.Publish(zevent.Event{Header: zevent.EventHeader{SourceID: 1, SeqNo: 1}}) {
		t.Fatal("first publish should succeed")
	}
	if e.Publish(zevent.Event{Header: zevent.EventHeader{SourceID: 1, SeqNo: 2}}) {
		t.Fatal("second publish should fail: ring capacity 1 already full")
	}
}

func TestConsumer_DispatchesToLoadedPlugin(t *testing.T) {
	e, host := newEngine(t, 16)
	if err := e.LoadPlugin([]byte(`
		function on_event(sourceId, seqNo) { hostLog(2, "seen " + sourceId + "/" + seqNo); return 1; }
	`), "inline-test"); err != nil {
		t.Fatalf("LoadPlugin: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Shutdown()

	e.Publish(zevent.Event{Header: zevent.EventHeader{SourceID: 1, SeqNo: 1}})

	deadline := time.Now().Add(2 * time.Second)
	for len(host.LogSnapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	logs := host.LogSnapshot()
	if len(logs) != 1 || logs[0].Msg != "seen 1/1" {
		t.Fatalf("expected the plugin to see event 1/1 exactly once, got %+v", logs)
	}
}

func TestLoadPlugin_RejectsInvalidBytecode(t *testing.T) {
	e, _ := newEngine(t, 4)
	if err := e.LoadPlugin([]byte(`not valid js {{{`), "bad"); err == nil {
		t.Fatal("expected LoadPlugin to reject invalid script")
	}
}
