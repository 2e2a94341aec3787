package executor

import (
	"context"
	"fmt"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/scheme"
)

// Local evaluates in process, under the caller's context.
type Local struct{}

// NewLocal returns a local executor.
func NewLocal() *Local {
	return &Local{}
}

func (*Local) Mode() Mode { return ModeLocal }

func (*Local) Encrypt(ctx context.Context, sc *scheme.Context, input []float64) (*scheme.Ciphertext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pt, err := sc.Encode(input)
	if err != nil {
		return nil, err
	}
	return sc.Encrypt(pt)
}

func (*Local) Compute(ctx context.Context, sc *scheme.Context, ct *scheme.Ciphertext, op fhe.Operation, operand []float64) (*scheme.Ciphertext, ComputeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ComputeInfo{}, err
	}
	if !op.Valid() {
		return nil, ComputeInfo{}, fmt.Errorf("%w: %q", errs.UnsupportedOperation, op)
	}
	h, err := sc.EncodeOperand(op, ct, operand)
	if err != nil {
		return nil, ComputeInfo{}, err
	}
	out, err := sc.Evaluate(op, ct, h)
	return out, ComputeInfo{}, err
}
