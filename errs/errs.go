// Package errs defines the error kinds surfaced by the ECD engine.
//
// Every failure returned by the engine wraps exactly one Kind, so callers can
// classify it with errors.Is or KindOf without parsing messages:
//
//	if errors.Is(err, errs.LevelExhausted) { ... }
package errs

import (
	"errors"
	"strings"
)

// Kind is an error kind. Kinds are comparable sentinel errors.
type Kind string

const (
	// InvalidConfig reports a malformed scheme configuration.
	InvalidConfig Kind = "InvalidConfig"
	// InvalidInput reports a malformed caller-supplied value, such as an oversized vector.
	InvalidInput Kind = "InvalidInput"
	// SerializationError reports a handle that cannot be serialized under the active context.
	SerializationError Kind = "SerializationError"
	// CorruptArtifact reports an artifact whose header or payload cannot be trusted.
	CorruptArtifact Kind = "CorruptArtifact"
	// ContextMismatch reports an artifact produced under a different context.
	ContextMismatch Kind = "ContextMismatch"
	// UnsupportedOperation reports an unknown or unavailable operation.
	UnsupportedOperation Kind = "UnsupportedOperation"
	// LevelExhausted reports a ciphertext with no modulus level left for the operation.
	LevelExhausted Kind = "LevelExhausted"
	// OperandMismatch reports operands whose scale or level do not agree.
	OperandMismatch Kind = "OperandMismatch"
	// RemoteComputationError reports a failure returned by the remote compute boundary.
	RemoteComputationError Kind = "RemoteComputationError"
	// TransportExhausted reports a network failure that persisted after all retries.
	TransportExhausted Kind = "TransportExhausted"
)

var kinds = []Kind{
	InvalidConfig, InvalidInput, SerializationError, CorruptArtifact, ContextMismatch,
	UnsupportedOperation, LevelExhausted, OperandMismatch, RemoteComputationError, TransportExhausted,
}

// Error implements the error interface.
func (k Kind) Error() string {
	return string(k)
}

// String returns the name of the kind.
func (k Kind) String() string {
	return string(k)
}

// KindOf returns the kind wrapped by err and true, or the empty kind and false
// if err does not wrap any kind.
func KindOf(err error) (Kind, bool) {
	var k Kind
	if errors.As(err, &k) {
		return k, true
	}
	return "", false
}

// ParseKind returns the kind named by the prefix of msg, as produced by
// an error wrapping a kind with fmt.Errorf("%w: ...").
func ParseKind(msg string) (Kind, bool) {
	name, _, _ := strings.Cut(msg, ":")
	for _, k := range kinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}
