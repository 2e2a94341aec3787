// Package codec converts scheme handles to self-describing artifacts and back.
//
// An artifact is a fixed-size big-endian header followed by the backend payload:
//
//	magic       [4]byte  "ECDA"
//	version     uint8
//	kind        uint8    1: ciphertext, 2: plaintext
//	level       uint16
//	scale       float64
//	length      uint32   length of the encoded vector
//	fingerprint [32]byte fingerprint of the producing context
//	checksum    [32]byte BLAKE3 of the payload
//	size        uint32   payload size
//	payload     [size]byte
//
// Artifacts never contain key material.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/scheme"
	"github.com/zeebo/blake3"
)

const (
	Version    = 1
	HeaderSize = 4 + 1 + 1 + 2 + 8 + 4 + scheme.FingerprintSize + 32 + 4
)

var magic = [4]byte{'E', 'C', 'D', 'A'}

// Artifact is a serialized ciphertext or plaintext.
type Artifact []byte

// Header is the decoded header of an artifact.
type Header struct {
	Version     uint8
	Kind        fhe.ObjectKind
	Level       int
	Scale       float64
	Length      int
	Fingerprint scheme.Fingerprint
	Checksum    [32]byte
	PayloadSize int
}

// PeekHeader decodes the header of data without a context. It checks the
// structure of the artifact but not its checksum.
func PeekHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: artifact of %d bytes is shorter than its header", errs.CorruptArtifact, len(data))
	}
	if [4]byte(data[:4]) != magic {
		return h, fmt.Errorf("%w: bad magic %x", errs.CorruptArtifact, data[:4])
	}
	off := 4
	h.Version = data[off]
	off++
	if h.Version != Version {
		return h, fmt.Errorf("%w: unsupported version %d", errs.CorruptArtifact, h.Version)
	}
	h.Kind = fhe.ObjectKind(data[off])
	off++
	if h.Kind != fhe.KindCiphertext && h.Kind != fhe.KindPlaintext {
		return h, fmt.Errorf("%w: unknown object kind %d", errs.CorruptArtifact, uint8(h.Kind))
	}
	h.Level = int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	h.Scale = math.Float64frombits(binary.BigEndian.Uint64(data[off:]))
	off += 8
	h.Length = int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	off += copy(h.Fingerprint[:], data[off:])
	off += copy(h.Checksum[:], data[off:])
	h.PayloadSize = int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	if len(data)-off != h.PayloadSize {
		return h, fmt.Errorf("%w: header declares %d payload bytes, found %d", errs.CorruptArtifact, h.PayloadSize, len(data)-off)
	}
	return h, nil
}

// Serialize encodes h as an artifact. It fails with errs.SerializationError if
// h does not belong to ctx. Serialize does not modify h or ctx.
func Serialize(ctx *scheme.Context, h scheme.Handle) (Artifact, error) {
	if ctx == nil || h == nil || h.Owner() != ctx {
		return nil, fmt.Errorf("%w: handle does not belong to the active context", errs.SerializationError)
	}
	payload, err := ctx.Save(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.SerializationError, err)
	}
	if h.Level() > math.MaxUint16 || uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: level %d or payload size %d out of range", errs.SerializationError, h.Level(), len(payload))
	}

	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	off := copy(out, magic[:])
	out[off] = Version
	off++
	out[off] = byte(h.Kind())
	off++
	binary.BigEndian.PutUint16(out[off:], uint16(h.Level()))
	off += 2
	binary.BigEndian.PutUint64(out[off:], math.Float64bits(h.Scale()))
	off += 8
	binary.BigEndian.PutUint32(out[off:], uint32(h.Len()))
	off += 4
	fp := ctx.Fingerprint()
	off += copy(out[off:], fp[:])
	sum := blake3.Sum256(payload)
	off += copy(out[off:], sum[:])
	binary.BigEndian.PutUint32(out[off:], uint32(len(payload)))
	return append(out, payload...), nil
}

// Deserialize reconstructs the handle encoded in data, bound to ctx. It fails
// with errs.ContextMismatch if the artifact was produced under another context,
// and with errs.CorruptArtifact if the artifact cannot be trusted or declares a
// level or scale ctx cannot represent.
func Deserialize(data []byte, ctx *scheme.Context) (scheme.Handle, error) {
	h, err := PeekHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Fingerprint != ctx.Fingerprint() {
		return nil, fmt.Errorf("%w: artifact produced under context %s, active context is %s", errs.ContextMismatch, h.Fingerprint, ctx.Fingerprint())
	}
	payload := data[HeaderSize:]
	if blake3.Sum256(payload) != h.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", errs.CorruptArtifact)
	}
	if h.Level > ctx.MaxLevel() {
		return nil, fmt.Errorf("%w: level %d above maximum level %d", errs.CorruptArtifact, h.Level, ctx.MaxLevel())
	}
	if h.Scale <= 0 || math.IsNaN(h.Scale) || math.IsInf(h.Scale, 0) {
		return nil, fmt.Errorf("%w: invalid scale %v", errs.CorruptArtifact, h.Scale)
	}
	if h.Length < 1 || h.Length > ctx.Slots() {
		return nil, fmt.Errorf("%w: vector length %d out of range [1, %d]", errs.CorruptArtifact, h.Length, ctx.Slots())
	}

	handle, err := ctx.Load(h.Kind, payload, h.Length)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.CorruptArtifact, err)
	}
	if handle.Level() != h.Level || handle.Scale() != h.Scale {
		return nil, fmt.Errorf("%w: payload at level %d and scale %v disagrees with header", errs.CorruptArtifact, handle.Level(), handle.Scale())
	}
	return handle, nil
}

// DeserializeCiphertext is Deserialize for artifacts that must hold a ciphertext.
func DeserializeCiphertext(data []byte, ctx *scheme.Context) (*scheme.Ciphertext, error) {
	h, err := Deserialize(data, ctx)
	if err != nil {
		return nil, err
	}
	ct, ok := h.(*scheme.Ciphertext)
	if !ok {
		return nil, fmt.Errorf("%w: expected a ciphertext, artifact holds a %s", errs.CorruptArtifact, h.Kind())
	}
	return ct, nil
}

// EncodeText returns the base64 encoding of a, as carried by text transports.
func EncodeText(a Artifact) string {
	return base64.StdEncoding.EncodeToString(a)
}

// DecodeText decodes an artifact encoded by EncodeText.
func DecodeText(s string) (Artifact, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.CorruptArtifact, err)
	}
	return b, nil
}
