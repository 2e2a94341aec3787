// Package api defines the messages exchanged with the remote compute boundary
// and their wire encodings: JSON for HTTP transports and protobuf wire format
// for gRPC transports.
package api

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ChristianMct/ecd/codec"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/scheme"
	"google.golang.org/protobuf/encoding/protowire"
)

// OperationRequest asks the remote boundary to apply Operation to the
// ciphertext in Artifact with the plaintext Operand.
type OperationRequest struct {
	Artifact      codec.Artifact `json:"artifact"`
	Operation     fhe.Operation  `json:"operation"`
	Operand       []float64      `json:"operand"`
	ContextParams *scheme.Config `json:"context_params,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
}

// OperationResult is the response of the remote boundary. Exactly one of
// Artifact and Error is set.
type OperationResult struct {
	Artifact          codec.Artifact `json:"artifact,omitempty"`
	ComputationTimeMs float64        `json:"computation_time_ms,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// Err returns an error wrapping errs.RemoteComputationError if the result
// reports a failure.
func (r OperationResult) Err() error {
	if r.Error == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", errs.RemoteComputationError, r.Error)
}

// RegisterKeysRequest hands the public material of a context to the remote boundary.
type RegisterKeysRequest struct {
	scheme.PublicMaterial
}

// RegisterKeysResponse returns the fingerprint under which the material was registered.
type RegisterKeysResponse struct {
	Fingerprint string `json:"fingerprint"`
}

const (
	reqFieldArtifact  protowire.Number = 1
	reqFieldOperation protowire.Number = 2
	reqFieldOperand   protowire.Number = 3
	reqFieldParams    protowire.Number = 4
	reqFieldRequestID protowire.Number = 5

	resFieldArtifact protowire.Number = 1
	resFieldTime     protowire.Number = 2
	resFieldError    protowire.Number = 3

	regFieldMaterial    protowire.Number = 1
	regFieldFingerprint protowire.Number = 1
)

// MarshalBinary encodes the request in protobuf wire format.
func (r *OperationRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendBytes(b, reqFieldArtifact, r.Artifact)
	b = appendBytes(b, reqFieldOperation, []byte(r.Operation))
	if len(r.Operand) > 0 {
		packed := make([]byte, 0, 8*len(r.Operand))
		for _, v := range r.Operand {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = appendBytes(b, reqFieldOperand, packed)
	}
	if r.ContextParams != nil {
		params, err := json.Marshal(r.ContextParams)
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, reqFieldParams, params)
	}
	b = appendBytes(b, reqFieldRequestID, []byte(r.RequestID))
	return b, nil
}

// UnmarshalBinary decodes a request encoded by MarshalBinary.
func (r *OperationRequest) UnmarshalBinary(b []byte) error {
	*r = OperationRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch {
		case num == reqFieldArtifact && typ == protowire.BytesType:
			r.Artifact = append(codec.Artifact(nil), v...)
		case num == reqFieldOperation && typ == protowire.BytesType:
			r.Operation = fhe.Operation(v)
		case num == reqFieldOperand && typ == protowire.BytesType:
			if len(v)%8 != 0 {
				return fmt.Errorf("packed operand of %d bytes", len(v))
			}
			r.Operand = make([]float64, 0, len(v)/8)
			for len(v) > 0 {
				x, n := protowire.ConsumeFixed64(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				r.Operand = append(r.Operand, math.Float64frombits(x))
				v = v[n:]
			}
		case num == reqFieldParams && typ == protowire.BytesType:
			r.ContextParams = new(scheme.Config)
			return json.Unmarshal(v, r.ContextParams)
		case num == reqFieldRequestID && typ == protowire.BytesType:
			r.RequestID = string(v)
		}
		return nil
	})
}

// MarshalBinary encodes the result in protobuf wire format.
func (r *OperationResult) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendBytes(b, resFieldArtifact, r.Artifact)
	if r.ComputationTimeMs != 0 {
		b = protowire.AppendTag(b, resFieldTime, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(r.ComputationTimeMs))
	}
	b = appendBytes(b, resFieldError, []byte(r.Error))
	return b, nil
}

// UnmarshalBinary decodes a result encoded by MarshalBinary.
func (r *OperationResult) UnmarshalBinary(b []byte) error {
	*r = OperationResult{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == resFieldArtifact && typ == protowire.BytesType:
			r.Artifact = append(codec.Artifact(nil), v...)
		case num == resFieldTime && typ == protowire.Fixed64Type:
			r.ComputationTimeMs = math.Float64frombits(x)
		case num == resFieldError && typ == protowire.BytesType:
			r.Error = string(v)
		}
		return nil
	})
}

// MarshalBinary encodes the request in protobuf wire format.
func (r *RegisterKeysRequest) MarshalBinary() ([]byte, error) {
	pm, err := r.PublicMaterial.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return appendBytes(nil, regFieldMaterial, pm), nil
}

// UnmarshalBinary decodes a request encoded by MarshalBinary.
func (r *RegisterKeysRequest) UnmarshalBinary(b []byte) error {
	*r = RegisterKeysRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == regFieldMaterial && typ == protowire.BytesType {
			return r.PublicMaterial.UnmarshalBinary(v)
		}
		return nil
	})
}

// MarshalBinary encodes the response in protobuf wire format.
func (r *RegisterKeysResponse) MarshalBinary() ([]byte, error) {
	return appendBytes(nil, regFieldFingerprint, []byte(r.Fingerprint)), nil
}

// UnmarshalBinary decodes a response encoded by MarshalBinary.
func (r *RegisterKeysResponse) UnmarshalBinary(b []byte) error {
	*r = RegisterKeysResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == regFieldFingerprint && typ == protowire.BytesType {
			r.Fingerprint = string(v)
		}
		return nil
	})
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// consumeFields calls f for each field of b. Length-delimited values are passed
// in v, fixed and varint values in x. Group fields are skipped.
func consumeFields(b []byte, f func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		var x uint64
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(b)
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x32 uint32
			x32, n = protowire.ConsumeFixed32(b)
			x = uint64(x32)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := f(num, typ, v, x); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
	}
	return nil
}
