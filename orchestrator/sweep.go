package orchestrator

import (
	"context"
	"fmt"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/monitor"
)

// SweepReport is the outcome of a data-size sweep.
type SweepReport struct {
	Operation fhe.Operation `json:"operation"`
	Runs      int           `json:"runs"`
	Warmup    int           `json:"warmup,omitempty"`
	Points    []SweepPoint  `json:"points"`
}

// SweepPoint holds the measurements of the sweep at one input length.
type SweepPoint struct {
	Size                int                   `json:"size"`
	State               State                 `json:"state"`
	Stages              []monitor.StatSummary `json:"stages"`
	MeanRelativeError   float64               `json:"mean_relative_error"`
	ThroughputOpsPerSec float64               `json:"throughput_ops_per_sec,omitempty"`
	Remote              *RemoteStats          `json:"remote,omitempty"`
	Error               string                `json:"error,omitempty"`
}

// Sweep runs op with runs repetitions for every input length of sizes. The
// input of length n is 1.1, 2.1, ..., n+0.1 and the operand is operand
// repeated up to length n, or 2s if operand is empty. The sweep stops at the
// first failing size, whose point is the last of the returned report.
func (o *Orchestrator) Sweep(ctx context.Context, op fhe.Operation, operand []float64, sizes []int, runs int) (*SweepReport, error) {
	sr := &SweepReport{Operation: op, Runs: runs, Warmup: o.config.Warmup}
	if err := validateSizes(sizes); err != nil {
		return sr, fmt.Errorf("%w: %w", errs.InvalidInput, err)
	}
	if len(sizes) == 0 {
		return sr, fmt.Errorf("%w: sweep requires at least one size", errs.InvalidInput)
	}

	for _, n := range sizes {
		req := Request{Input: sweepInput(n), Operation: op, Operand: repeatTo(operand, n)}
		rep, err := o.RunRepeated(ctx, req, runs)
		sr.Points = append(sr.Points, SweepPoint{
			Size:                n,
			State:               rep.State,
			Stages:              rep.Stages,
			MeanRelativeError:   rep.MeanRelativeError,
			ThroughputOpsPerSec: rep.ThroughputOpsPerSec,
			Remote:              rep.Remote,
			Error:               rep.Error,
		})
		if err != nil {
			return sr, fmt.Errorf("size %d: %w", n, err)
		}
		o.logger.Info().Int("size", n).Float64("throughput_ops_per_sec", rep.ThroughputOpsPerSec).Msg("sweep point completed")
	}
	return sr, nil
}

func validateSizes(sizes []int) error {
	for _, n := range sizes {
		if n < 1 {
			return fmt.Errorf("sweep sizes must be positive, got %d", n)
		}
	}
	return nil
}

func sweepInput(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(i+1) + 0.1
	}
	return v
}

func repeatTo(operand []float64, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		if len(operand) == 0 {
			v[i] = 2
		} else {
			v[i] = operand[i%len(operand)]
		}
	}
	return v
}
