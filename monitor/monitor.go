// Package monitor measures the execution time and memory footprint of
// operations and aggregates repeated measurements.
//
// A Monitor is meant to be used by a single workflow run at a time: measurements
// force a garbage collection before sampling memory, so concurrent measurements
// on the same process would contaminate each other's baselines.
package monitor

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ChristianMct/ecd/errs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Measurement is the outcome of one measured call.
type Measurement struct {
	Operation       string      `json:"operation"`
	ExecutionTimeMs float64     `json:"execution_time_ms"`
	RSSDelta        MemoryDelta `json:"memory_rss_delta_mb"`
	VMSDelta        MemoryDelta `json:"memory_vms_delta_mb"`
	Timestamp       time.Time   `json:"timestamp"`

	Result any   `json:"-"`
	Err    error `json:"-"`
}

// Monitor records measurements.
type Monitor struct {
	sampler      MemorySampler
	logger       zerolog.Logger
	observers    []func(Measurement)
	measurements []Measurement
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSampler sets the memory sampler. The default reads procfs.
func WithSampler(s MemorySampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

// WithLogger sets the logger of the monitor.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithObserver registers a function called with every measurement.
func WithObserver(f func(Measurement)) Option {
	return func(m *Monitor) { m.observers = append(m.observers, f) }
}

// New creates a new monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{sampler: NewProcfsSampler(), logger: log.Logger}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "monitor").Logger()
	return m
}

// Measure calls op and measures it. Before sampling the initial memory, it forces
// a garbage collection and returns freed memory to the OS. If op fails, the
// measurement records the time elapsed until the failure and the error is
// returned unchanged.
func (m *Monitor) Measure(name string, op func() error) (Measurement, error) {
	_, meas, err := Call(m, name, func() (any, error) { return nil, op() })
	return meas, err
}

// Call is Measure for operations returning a value.
func Call[T any](m *Monitor, name string, op func() (T, error)) (T, Measurement, error) {
	debug.FreeOSMemory()
	before, errBefore := m.sampler.Sample()

	start := time.Now()
	res, err := op()
	elapsed := time.Since(start)

	after, errAfter := m.sampler.Sample()

	meas := Measurement{
		Operation:       name,
		ExecutionTimeMs: float64(elapsed.Nanoseconds()) / float64(time.Millisecond),
		RSSDelta:        Unavailable,
		VMSDelta:        Unavailable,
		Timestamp:       start,
		Result:          res,
		Err:             err,
	}
	if errBefore == nil && errAfter == nil {
		meas.RSSDelta = newDelta(before.RSS, after.RSS)
		meas.VMSDelta = newDelta(before.VMS, after.VMS)
	} else {
		m.logger.Debug().Str("operation", name).AnErr("before", errBefore).AnErr("after", errAfter).Msg("memory sampling unavailable")
	}

	m.record(meas)
	return res, meas, err
}

func (m *Monitor) record(meas Measurement) {
	m.measurements = append(m.measurements, meas)
	ev := m.logger.Debug()
	if meas.Err != nil {
		ev = m.logger.Warn().Err(meas.Err)
	}
	ev.Str("operation", meas.Operation).
		Float64("time_ms", meas.ExecutionTimeMs).
		Stringer("rss_delta", meas.RSSDelta).
		Stringer("vms_delta", meas.VMSDelta).
		Msg("measured")
	for _, obs := range m.observers {
		obs(meas)
	}
}

// RunRepeated measures op runs times, sequentially, and summarizes the
// measurements. If a run fails, it stops and returns the summary of the runs
// so far, including the failed one, along with the error.
func (m *Monitor) RunRepeated(name string, runs int, op func() error) (StatSummary, error) {
	if runs < 1 {
		return StatSummary{Operation: name}, fmt.Errorf("%w: runs must be positive, got %d", errs.InvalidInput, runs)
	}
	ms := make([]Measurement, 0, runs)
	for i := 0; i < runs; i++ {
		meas, err := m.Measure(name, op)
		ms = append(ms, meas)
		if err != nil {
			return Summarize(name, ms), fmt.Errorf("run %d/%d: %w", i+1, runs, err)
		}
	}
	return Summarize(name, ms), nil
}

// Measurements returns the measurements recorded so far, in order.
func (m *Monitor) Measurements() []Measurement {
	return append([]Measurement(nil), m.measurements...)
}

// Summaries summarizes the recorded measurements per operation, in order of
// first appearance.
func (m *Monitor) Summaries() []StatSummary {
	return SummarizeAll(m.measurements)
}

// SummarizeAll groups ms by operation name and summarizes each group, in order
// of first appearance.
func SummarizeAll(ms []Measurement) []StatSummary {
	var names []string
	groups := make(map[string][]Measurement)
	for _, meas := range ms {
		if _, ok := groups[meas.Operation]; !ok {
			names = append(names, meas.Operation)
		}
		groups[meas.Operation] = append(groups[meas.Operation], meas)
	}
	out := make([]StatSummary, len(names))
	for i, name := range names {
		out[i] = Summarize(name, groups[name])
	}
	return out
}
