package server

import (
	"encoding/json"
)

// JSONCodec carries gRPC messages as JSON. The service is described by hand
// rather than generated from protobuf, so every message is a plain Go
// struct. Clients select it with grpc.ForceCodec(server.JSONCodec{}).
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string {
	return "json"
}
