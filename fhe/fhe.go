// Package fhe defines the capability boundary between the ECD engine and a
// homomorphic encryption library, and provides a lattigo-backed CKKS
// implementation along with a mock implementation for orchestration tests.
//
// A Backend is bound to one parameter set and one key bundle. Backends are not
// safe for concurrent use.
package fhe

import (
	"fmt"
)

// Operation is an evaluation operation selector.
type Operation string

const (
	AddPlain       Operation = "add_plain"
	MultiplyPlain  Operation = "multiply_plain"
	AddCipher      Operation = "add_cipher"
	MultiplyCipher Operation = "multiply_cipher"
)

// Operations lists the supported operations.
var Operations = []Operation{AddPlain, MultiplyPlain, AddCipher, MultiplyCipher}

// ParseOperation returns the operation named by s.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// Valid returns whether op is a supported operation.
func (op Operation) Valid() bool {
	switch op {
	case AddPlain, MultiplyPlain, AddCipher, MultiplyCipher:
		return true
	}
	return false
}

// IsMultiplicative returns whether op consumes a modulus level.
func (op Operation) IsMultiplicative() bool {
	return op == MultiplyPlain || op == MultiplyCipher
}

// CipherOperand returns whether the operand of op is encrypted.
func (op Operation) CipherOperand() bool {
	return op == AddCipher || op == MultiplyCipher
}

// Plaintext returns the plaintext-equivalent result of op applied slot-wise to
// values and operand.
func (op Operation) Plaintext(values, operand []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		var w float64
		if i < len(operand) {
			w = operand[i]
		}
		if op.IsMultiplicative() {
			out[i] = v * w
		} else {
			out[i] = v + w
		}
	}
	return out
}

func (op Operation) String() string {
	return string(op)
}

// ObjectKind distinguishes ciphertexts from plaintexts.
type ObjectKind uint8

const (
	KindCiphertext ObjectKind = 1
	KindPlaintext  ObjectKind = 2
)

func (k ObjectKind) String() string {
	switch k {
	case KindCiphertext:
		return "ciphertext"
	case KindPlaintext:
		return "plaintext"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Object is a backend-owned ciphertext or plaintext.
type Object interface {
	Kind() ObjectKind
	Level() int
	Scale() float64
}

// Parameters is the backend-level parameter set, already mapped from the
// user-facing scheme configuration.
type Parameters struct {
	LogN            int
	LogQ            []int
	LogP            []int
	LogDefaultScale int

	// RelinearizationKey requests the generation of a relinearization key.
	RelinearizationKey bool
}

// PublicKeys is the serialized public key material of a backend.
type PublicKeys struct {
	PublicKey          []byte
	RelinearizationKey []byte
}

// Scheme instantiates backends.
type Scheme interface {
	Name() string

	// GenerateKeys returns a backend holding a fresh key bundle.
	GenerateKeys(params Parameters) (Backend, error)

	// FromPublic returns an evaluation-only backend for the given public material.
	// The returned backend cannot decrypt.
	FromPublic(params Parameters, keys PublicKeys) (Backend, error)
}

// Backend is the set of primitives the engine consumes.
type Backend interface {
	Slots() int
	MaxLevel() int
	DefaultScale() float64
	HasRelinearizationKey() bool
	CanDecrypt() bool

	Encode(values []float64, level int, scale float64) (Object, error)
	Decode(pt Object) ([]float64, error)
	Encrypt(pt Object) (Object, error)
	Decrypt(ct Object) (Object, error)

	// OperandScale returns the scale the operand of op must carry when applied to ct.
	OperandScale(op Operation, ct Object) float64

	// Evaluate applies op to ct and operand and returns a new ciphertext.
	// Multiplicative operations consume exactly one level.
	Evaluate(op Operation, ct, operand Object) (Object, error)

	Save(obj Object) ([]byte, error)
	Load(kind ObjectKind, data []byte) (Object, error)

	PublicKeys() (PublicKeys, error)

	// SecretKeyBytes returns the serialized secret key, or an error for
	// evaluation-only backends. It never leaves the process.
	SecretKeyBytes() ([]byte, error)
}
