// Package executor implements the Encrypt and Compute steps of an ECD
// workflow, either in process (Local) or against a remote compute boundary
// (Remote). Decryption is never performed by an executor.
package executor

import (
	"context"
	"fmt"

	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/scheme"
)

// Mode is the execution mode of an executor.
type Mode string

const (
	// ModeLocal evaluates in process.
	ModeLocal Mode = "local"
	// ModeRemote delegates evaluation to a remote compute boundary.
	ModeRemote Mode = "remote"
)

// ParseMode returns the mode named by s.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLocal, ModeRemote:
		return m, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// ComputeInfo describes how a Compute call was carried out. It is zero for
// local computations.
type ComputeInfo struct {
	// RemoteComputationMs is the evaluation time reported by the remote boundary.
	RemoteComputationMs float64
	// Attempts is the number of transport calls made, including retries.
	Attempts int
}

// Executor encrypts and evaluates under a scheme context it does not own.
// Implementations never mutate the context nor access its secret key.
type Executor interface {
	Mode() Mode

	// Encrypt encodes and encrypts input under sc.
	Encrypt(ctx context.Context, sc *scheme.Context, input []float64) (*scheme.Ciphertext, error)

	// Compute applies op to ct with the plaintext operand values. For *_cipher
	// operations, the operand is encrypted under sc before evaluation.
	Compute(ctx context.Context, sc *scheme.Context, ct *scheme.Ciphertext, op fhe.Operation, operand []float64) (*scheme.Ciphertext, ComputeInfo, error)
}

// Run encrypts input and applies op with operand using ex. The result is
// returned encrypted.
func Run(ctx context.Context, ex Executor, sc *scheme.Context, input []float64, op fhe.Operation, operand []float64) (*scheme.Ciphertext, ComputeInfo, error) {
	ct, err := ex.Encrypt(ctx, sc, input)
	if err != nil {
		return nil, ComputeInfo{}, fmt.Errorf("encrypt: %w", err)
	}
	out, info, err := ex.Compute(ctx, sc, ct, op, operand)
	if err != nil {
		return nil, info, fmt.Errorf("compute: %w", err)
	}
	return out, info, nil
}
