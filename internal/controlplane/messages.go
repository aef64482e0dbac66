package controlplane

import (
	"time"

	"github.com/zenith-fleet/zenith/internal/noderegistry"
	"github.com/zenith-fleet/zenith/internal/scheduler"
)

// SubmitJobRequest/Response and the rest of this file are the hand-written
// stand-ins for what a .proto-generated *_grpc.pb.go would define. See
// codec.go for why JSON over grpc.ForceServerCodec is used instead of the
// usual protobuf wire format.

type SubmitJobRequest struct {
	Descriptor scheduler.JobDescriptor `json:"descriptor"`
}

type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

type CancelJobRequest struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

type CancelJobResponse struct{}

type GetJobRequest struct {
	JobID string `json:"job_id"`
}

type GetJobResponse struct {
	Job   scheduler.Job `json:"job"`
	Found bool          `json:"found"`
}

type ListJobsByStateRequest struct {
	State string `json:"state"`
}

type ListJobsByStateResponse struct {
	Jobs []scheduler.Job `json:"jobs"`
}

type RegisterNodeRequest struct {
	Node noderegistry.Node `json:"node"`
}

type RegisterNodeResponse struct{}

type HeartbeatRequest struct {
	NodeID string    `json:"node_id"`
	At     time.Time `json:"at"`
}

type HeartbeatResponse struct {
	Accepted bool `json:"accepted"`
}

type DeregisterNodeRequest struct {
	NodeID string `json:"node_id"`
}

type DeregisterNodeResponse struct {
	Removed bool `json:"removed"`
}

type ClusterSummaryRequest struct{}

type ClusterSummaryResponse struct {
	Summary noderegistry.Summary `json:"summary"`
}

type PublishEventRequest struct {
	SourceID uint32 `json:"source_id"`
	SeqNo    uint64 `json:"seq_no"`
	Payload  []byte `json:"payload"`
}

type PublishEventResponse struct {
	Accepted bool `json:"accepted"`
}

type LoadPluginRequest struct {
	Bytecode    []byte `json:"bytecode"`
	SourceLabel string `json:"source_label"`
}

type LoadPluginResponse struct{}
