package api

import (
	"encoding"
	"fmt"
)

// CodecName is the gRPC content-subtype of the messages of this package.
const CodecName = "ecd-proto"

// Codec is a gRPC codec for the messages of this package, which encode
// themselves in protobuf wire format.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
	return m.MarshalBinary()
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	u, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return u.UnmarshalBinary(data)
}
