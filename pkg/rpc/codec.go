package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated via grpc.CallContentSubtype on the client and
// matched against the incoming request's content-subtype on the server;
// it stands in for the protobuf wire format protoc-gen-go-grpc would
// otherwise generate.
const codecName = "json"

// jsonCodec marshals the plain Go structs of wire.go with encoding/json,
// implementing grpc/encoding.Codec so it can be registered globally and
// picked automatically by gRPC's content-subtype negotiation.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
