// Package controlplane — server.go
//
// gRPC admin/submission surface for Zenith: thin adapters exposing
// GangScheduler and DataPlaneEngine operations as RPCs (SubmitJob,
// CancelJob, GetJob, ListJobsByState, RegisterNode, Heartbeat,
// DeregisterNode, ClusterSummary, PublishEvent, LoadPlugin).
//
// This borrows the server-lifecycle shape of a gossip/mTLS control
// surface (listen-and-serve-with-graceful-shutdown) without carrying its
// TLS configuration or mTLS/Ed25519 envelope-verification layer: the
// control plane here is a same-cluster administrative API, not a
// multi-node gossip/consensus transport, and distributed consensus across
// scheduler replicas is explicitly out of scope.
package controlplane

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/zenith-fleet/zenith/internal/dataplane"
	"github.com/zenith-fleet/zenith/internal/jobstate"
	"github.com/zenith-fleet/zenith/internal/noderegistry"
	"github.com/zenith-fleet/zenith/internal/observability"
	"github.com/zenith-fleet/zenith/internal/scheduler"
)

// Server implements the Zenith control-plane RPCs.
type Server struct {
	scheduler *scheduler.GangScheduler
	nodes     *noderegistry.Registry
	engine    *dataplane.Engine
	metrics   *observability.Metrics
	log       *zap.Logger
}

// NewServer creates a control-plane Server.
func NewServer(sched *scheduler.GangScheduler, nodes *noderegistry.Registry, engine *dataplane.Engine, metrics *observability.Metrics, log *zap.Logger) *Server {
	return &Server{scheduler: sched, nodes: nodes, engine: engine, metrics: metrics, log: log}
}

func (s *Server) count(method string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
}

func (s *Server) SubmitJob(ctx context.Context, req *SubmitJobRequest) (*SubmitJobResponse, error) {
	id, err := s.scheduler.Submit(req.Descriptor)
	s.count("SubmitJob", err)
	if err != nil {
		return nil, err
	}
	return &SubmitJobResponse{JobID: id}, nil
}

func (s *Server) CancelJob(ctx context.Context, req *CancelJobRequest) (*CancelJobResponse, error) {
	err := s.scheduler.Cancel(req.JobID, req.Reason)
	s.count("CancelJob", err)
	if err != nil {
		return nil, err
	}
	return &CancelJobResponse{}, nil
}

func (s *Server) GetJob(ctx context.Context, req *GetJobRequest) (*GetJobResponse, error) {
	j, ok := s.scheduler.GetJob(req.JobID)
	s.count("GetJob", nil)
	return &GetJobResponse{Job: j, Found: ok}, nil
}

func (s *Server) ListJobsByState(ctx context.Context, req *ListJobsByStateRequest) (*ListJobsByStateResponse, error) {
	state, ok := jobstate.ParseState(req.State)
	if !ok {
		err := fmt.Errorf("controlplane.ListJobsByState: unknown state %q", req.State)
		s.count("ListJobsByState", err)
		return nil, err
	}
	jobs := s.scheduler.JobsWithState(state)
	s.count("ListJobsByState", nil)
	return &ListJobsByStateResponse{Jobs: jobs}, nil
}

func (s *Server) RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error) {
	s.nodes.Register(req.Node)
	s.count("RegisterNode", nil)
	return &RegisterNodeResponse{}, nil
}

func (s *Server) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	ok := s.nodes.Heartbeat(req.NodeID, at)
	s.count("Heartbeat", nil)
	return &HeartbeatResponse{Accepted: ok}, nil
}

func (s *Server) DeregisterNode(ctx context.Context, req *DeregisterNodeRequest) (*DeregisterNodeResponse, error) {
	removed := s.nodes.Deregister(req.NodeID)
	s.count("DeregisterNode", nil)
	return &DeregisterNodeResponse{Removed: removed}, nil
}

func (s *Server) ClusterSummary(ctx context.Context, req *ClusterSummaryRequest) (*ClusterSummaryResponse, error) {
	summary := s.nodes.GetSummary()
	s.count("ClusterSummary", nil)
	return &ClusterSummaryResponse{Summary: summary}, nil
}

func (s *Server) PublishEvent(ctx context.Context, req *PublishEventRequest) (*PublishEventResponse, error) {
	accepted := s.engine.Publish(eventFromRequest(req))
	s.count("PublishEvent", nil)
	return &PublishEventResponse{Accepted: accepted}, nil
}

func (s *Server) LoadPlugin(ctx context.Context, req *LoadPluginRequest) (*LoadPluginResponse, error) {
	err := s.engine.LoadPlugin(req.Bytecode, req.SourceLabel)
	s.count("LoadPlugin", err)
	if err != nil {
		return nil, err
	}
	return &LoadPluginResponse{}, nil
}

// serviceDesc is the hand-written equivalent of a .proto-generated
// grpc.ServiceDesc. See codec.go for why there is no generated stub.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "zenith.controlplane.v1.ControlPlane",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitJob", func(s *Server, ctx context.Context, req *SubmitJobRequest) (interface{}, error) {
			return s.SubmitJob(ctx, req)
		}),
		unaryMethod("CancelJob", func(s *Server, ctx context.Context, req *CancelJobRequest) (interface{}, error) {
			return s.CancelJob(ctx, req)
		}),
		unaryMethod("GetJob", func(s *Server, ctx context.Context, req *GetJobRequest) (interface{}, error) {
			return s.GetJob(ctx, req)
		}),
		unaryMethod("ListJobsByState", func(s *Server, ctx context.Context, req *ListJobsByStateRequest) (interface{}, error) {
			return s.ListJobsByState(ctx, req)
		}),
		unaryMethod("RegisterNode", func(s *Server, ctx context.Context, req *RegisterNodeRequest) (interface{}, error) {
			return s.RegisterNode(ctx, req)
		}),
		unaryMethod("Heartbeat", func(s *Server, ctx context.Context, req *HeartbeatRequest) (interface{}, error) {
			return s.Heartbeat(ctx, req)
		}),
		unaryMethod("DeregisterNode", func(s *Server, ctx context.Context, req *DeregisterNodeRequest) (interface{}, error) {
			return s.DeregisterNode(ctx, req)
		}),
		unaryMethod("ClusterSummary", func(s *Server, ctx context.Context, req *ClusterSummaryRequest) (interface{}, error) {
			return s.ClusterSummary(ctx, req)
		}),
		unaryMethod("PublishEvent", func(s *Server, ctx context.Context, req *PublishEventRequest) (interface{}, error) {
			return s.PublishEvent(ctx, req)
		}),
		unaryMethod("LoadPlugin", func(s *Server, ctx context.Context, req *LoadPluginRequest) (interface{}, error) {
			return s.LoadPlugin(ctx, req)
		}),
	},
	Metadata: "zenith/controlplane.proto",
}

// unaryMethod builds a grpc.MethodDesc from a typed handler, hiding the
// interface{}/dec-func boilerplate grpc.ServiceDesc normally expects
// generated code to produce.
func unaryMethod[Req any](name string, fn func(*Server, context.Context, *Req) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return fn(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + serviceDesc.ServiceName + "/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(s, ctx, req.(*Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// ListenAndServe starts the gRPC control-plane server on addr. Blocks
// until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, srv *Server, log *zap.Logger) error {
	grpcSrv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	grpcSrv.RegisterService(&serviceDesc, srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("controlplane listen %s: %w", addr, err)
	}

	if log != nil {
		log.Info("control plane listening", zap.String("addr", addr))
	}

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("controlplane grpc serve: %w", err)
	}
	return nil
}
