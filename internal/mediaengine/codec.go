package mediaengine

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered once via init and selected per-call with
// grpc.CallContentSubtype, letting this adapter drive grpc.ClientConn.Invoke
// directly against the media engine's RPC method names without any
// generated protobuf stubs. The engine is expected to speak the same
// subtype on its end.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func methodPath(service, method string) string {
	return fmt.Sprintf("/%s/%s", service, method)
}
