package controlplane

import "encoding/json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec using JSON
// instead of protobuf wire format.
//
// Zenith's control plane has no .proto toolchain available to generate the
// usual *_grpc.pb.go stubs, so the service descriptor below is hand-written
// and registered directly against grpc.Server with this codec forced via
// grpc.ForceServerCodec. Message types are plain Go structs with json
// tags rather than generated protobuf message types. This trades wire
// compactness and cross-language codegen for a dependency-free path to a
// real, working gRPC transport — streaming, deadlines, interceptors, and
// status codes all still work exactly as with a protobuf service; only the
// payload encoding differs.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
