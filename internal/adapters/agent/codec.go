package agent

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype used for every agent call.
const codecName = "json"

// jsonCodec carries agent messages as JSON so neither side needs generated
// protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() { //nolint:gochecknoinits // codecs are registered once per process
	encoding.RegisterCodec(jsonCodec{})
}
