package controlplane_test

import (
	"context"
	"testing"
	"time"

	"github.com/zenith-fleet/zenith/internal/controlplane"
	"github.com/zenith-fleet/zenith/internal/dataplane"
	"github.com/zenith-fleet/zenith/internal/noderegistry"
	"github.com/zenith-fleet/zenith/internal/pluginhost"
	"github.com/zenith-fleet/zenith/internal/scheduler"
)

func newTestServer(t *testing.T) *controlplane.Server {
	t.Helper()
	nodes := noderegistry.New(30 * time.Second)
	t.Cleanup(nodes.Close)

	sched := scheduler.New(scheduler.Config{Nodes: nodes})

	caps, err := pluginhost.NewHostCapabilities(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewHostCapabilities: %v", err)
	}
	host, err := pluginhost.New(caps, nil)
	if err != nil {
		t.Fatalf("pluginhost.New: %v", err)
	}
	engine := dataplane.New(dataplane.Config{RingCapacity: 16, Host: host})

	return controlplane.NewServer(sched, nodes, engine, nil, nil)
}

func TestRegisterNodeThenHeartbeat(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.RegisterNode(ctx, &controlplane.RegisterNodeRequest{
		Node: noderegistry.Node{ID: "node-1", Address: "node-1:7000"},
	})
	if err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	resp, err := s.Heartbeat(ctx, &controlplane.HeartbeatRequest{NodeID: "node-1"})
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("expected heartbeat to be accepted for a registered node")
	}
}

func TestSubmitJobThenGetJob(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	submitResp, err := s.SubmitJob(ctx, &controlplane.SubmitJobRequest{
		Descriptor: scheduler.JobDescriptor{Name: "test-job"},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	getResp, err := s.GetJob(ctx, &controlplane.GetJobRequest{JobID: submitResp.JobID})
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !getResp.Found || getResp.Job.Descriptor.Name != "test-job" {
		t.Fatalf("unexpected GetJob result: %+v", getResp)
	}
}

func TestListJobsByState_RejectsUnknownState(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if _, err := s.ListJobsByState(ctx, &controlplane.ListJobsByStateRequest{State: "Bogus"}); err == nil {
		t.Fatal("expected an error for an unknown state name")
	}
}

func TestDeregisterNode_UnknownNodeReturnsRemovedFalse(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	resp, err := s.DeregisterNode(ctx, &controlplane.DeregisterNodeRequest{NodeID: "ghost"})
	if err != nil {
		t.Fatalf("DeregisterNode: %v", err)
	}
	if resp.Removed {
		t.Fatal("expected Removed=false for an unknown node")
	}
}

func TestClusterSummary_ReflectsRegisteredNodes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	s.RegisterNode(ctx, &controlplane.RegisterNodeRequest{Node: noderegistry.Node{ID: "node-1"}})
	s.RegisterNode(ctx, &controlplane.RegisterNodeRequest{Node: noderegistry.Node{ID: "node-2"}})

	resp, err := s.ClusterSummary(ctx, &controlplane.ClusterSummaryRequest{})
	if err != nil {
		t.Fatalf("ClusterSummary: %v", err)
	}
	if resp.Summary.TotalNodes != 2 {
		t.Fatalf("TotalNodes = %d, want 2", resp.Summary.TotalNodes)
	}
}

func TestLoadPluginThenPublishEvent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.LoadPlugin(ctx, &controlplane.LoadPluginRequest{
		Bytecode:    []byte(`function on_event() { return 1; }`),
		SourceLabel: "test",
	})
	if err != nil {
		t.Fatalf("LoadPlugin: %v", err)
	}

	resp, err := s.PublishEvent(ctx, &controlplane.PublishEventRequest{SourceID: 1, SeqNo: 1, Payload: []byte("x")})
	if err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("expected the event to be accepted into the ring")
	}
}
