package orchestrator

import (
	"math"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/executor"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/monitor"
	"gonum.org/v1/gonum/stat"
)

// Report is the outcome of a workflow.
type Report struct {
	Mode      executor.Mode `json:"mode"`
	State     State         `json:"state"`
	Runs      int           `json:"runs"`
	Warmup    int           `json:"warmup,omitempty"`
	Operation fhe.Operation `json:"operation"`

	OriginalData    []float64 `json:"original_data"`
	Operand         []float64 `json:"operand,omitempty"`
	Expected        []float64 `json:"expected"`
	DecryptedResult []float64 `json:"decrypted_result,omitempty"`

	Stages            []monitor.StatSummary `json:"stages"`
	RelativeErrors    []float64             `json:"relative_errors,omitempty"`
	MeanRelativeError float64               `json:"mean_relative_error"`
	// ThroughputOpsPerSec is the number of measured workflows completed per
	// second of wall-clock time.
	ThroughputOpsPerSec float64 `json:"throughput_ops_per_sec,omitempty"`

	Remote *RemoteStats `json:"remote,omitempty"`

	Err       error     `json:"-"`
	Error     string    `json:"error,omitempty"`
	ErrorKind errs.Kind `json:"error_kind,omitempty"`
}

// RemoteStats splits the compute stage of remote runs into the time spent
// computing at the boundary and the time spent on the network. Values are
// means over the runs.
type RemoteStats struct {
	ComputationTimeMs float64 `json:"computation_time_ms"`
	NetworkOverheadMs float64 `json:"network_overhead_ms"`
	Attempts          float64 `json:"attempts"`
}

func newReport(mode executor.Mode, req Request) *Report {
	rep := &Report{
		Mode:         mode,
		Operation:    req.Operation,
		OriginalData: req.Input,
		Operand:      req.Operand,
		Expected:     req.Expected,
	}
	if rep.Expected == nil {
		rep.Expected = expectedResult(req)
	}
	return rep
}

// expectedResult returns the plaintext-equivalent result of req. Slots past
// the end of the input hold zeros.
func expectedResult(req Request) []float64 {
	input := make([]float64, max(len(req.Input), len(req.Operand)))
	copy(input, req.Input)
	return req.Operation.Plaintext(input, req.Operand)
}

func (r *Report) fail(err error) {
	r.State = Errored
	r.Err = err
	r.Error = err.Error()
	if k, ok := errs.KindOf(err); ok {
		r.ErrorKind = k
	}
}

// complete fills the report from the results of successful runs. The
// decrypted result and its errors are those of the first run.
func (r *Report) complete(results []runResult) {
	first := results[0]
	r.State = first.state
	r.DecryptedResult = first.decrypted
	r.RelativeErrors = RelativeErrors(first.decrypted, r.Expected)
	if len(r.RelativeErrors) > 0 {
		r.MeanRelativeError = stat.Mean(r.RelativeErrors, nil)
	}

	if r.Mode != executor.ModeRemote {
		return
	}
	var remote RemoteStats
	for _, res := range results {
		remote.ComputationTimeMs += res.compute.RemoteComputationMs
		remote.NetworkOverheadMs += math.Max(0, res.computeMs-res.compute.RemoteComputationMs)
		remote.Attempts += float64(res.compute.Attempts)
	}
	n := float64(len(results))
	r.Remote = &RemoteStats{
		ComputationTimeMs: remote.ComputationTimeMs / n,
		NetworkOverheadMs: remote.NetworkOverheadMs / n,
		Attempts:          remote.Attempts / n,
	}
}

// RelativeErrors returns |d-e|/|e| for every slot of expected, or |d-e| where
// e is zero. Slots missing from decrypted count as zero.
func RelativeErrors(decrypted, expected []float64) []float64 {
	out := make([]float64, len(expected))
	for i, e := range expected {
		var d float64
		if i < len(decrypted) {
			d = decrypted[i]
		}
		out[i] = math.Abs(d - e)
		if e != 0 {
			out[i] /= math.Abs(e)
		}
	}
	return out
}
