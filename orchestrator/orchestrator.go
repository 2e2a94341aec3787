// Package orchestrator runs complete Encrypt-Compute-Decrypt workflows: it
// creates a scheme context, drives an executor through the encrypt and compute
// stages, decrypts locally, measures every stage and reports the accuracy of
// the decrypted result.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/executor"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/monitor"
	"github.com/ChristianMct/ecd/scheme"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Stage names, as they appear in reports.
const (
	StageKeyGeneration = "key_generation"
	StageEncrypt       = "encrypt"
	StageCompute       = "compute"
	StageDecrypt       = "decrypt"
)

// Request describes one workflow.
type Request struct {
	Input     []float64
	Operation fhe.Operation
	Operand   []float64
	// Expected is the ground truth of the computation, used only to compute the
	// relative error of the decrypted result. If nil, the plaintext-equivalent
	// result of Operation is used.
	Expected []float64
}

// Orchestrator runs workflows with an executor. It is safe for concurrent use
// if its executor is.
type Orchestrator struct {
	config      Config
	ex          executor.Executor
	scheme      fhe.Scheme
	logger      zerolog.Logger
	monitorOpts []monitor.Option
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScheme sets the scheme of the contexts created by the orchestrator. The
// default is fhe.CKKS.
func WithScheme(s fhe.Scheme) Option {
	return func(o *Orchestrator) { o.scheme = s }
}

// WithLogger sets the logger of the orchestrator.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMonitorOptions sets the options of the monitors created for each run.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(o *Orchestrator) { o.monitorOpts = append(o.monitorOpts, opts...) }
}

// New creates an orchestrator running the workflows of conf with ex.
func New(conf Config, ex executor.Executor, opts ...Option) (*Orchestrator, error) {
	if ex == nil {
		return nil, fmt.Errorf("%w: orchestrator requires an executor", errs.InvalidConfig)
	}
	if err := conf.Scheme.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{config: conf, ex: ex, scheme: fhe.CKKS, logger: log.Logger}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Str("mode", string(ex.Mode())).Logger()
	o.monitorOpts = append(o.monitorOpts, monitor.WithLogger(o.logger))
	return o, nil
}

// Run runs the workflow of req once. If a stage fails, the returned report is
// in the Errored state and holds the measurements of the stages run so far,
// and the returned error is the error of the failed stage.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	return o.RunRepeated(ctx, req, 1)
}

// RunRepeated runs the workflow of req runs times and summarizes the stage
// measurements of all runs in a single report. The configured warmup runs come
// first and are left out of the report. Runs are sequential, unless the
// configured parallelism is greater than one, in which case up to that many
// runs execute concurrently, each with its own context and monitor. The first
// failure stops the remaining runs.
func (o *Orchestrator) RunRepeated(ctx context.Context, req Request, runs int) (*Report, error) {
	rep := newReport(o.ex.Mode(), req)
	if runs < 1 {
		err := fmt.Errorf("%w: runs must be positive, got %d", errs.InvalidInput, runs)
		rep.fail(err)
		return rep, err
	}
	if err := req.validate(); err != nil {
		rep.fail(err)
		return rep, err
	}

	if err := o.warmup(ctx, req); err != nil {
		o.logger.Error().Err(err).Msg("warmup failed")
		rep.fail(err)
		return rep, err
	}
	rep.Warmup = o.config.Warmup

	results := make([]runResult, runs)
	start := time.Now()
	var err error
	if o.config.Parallelism > 1 && runs > 1 {
		err = o.runParallel(ctx, req, results)
	} else {
		err = o.runSequential(ctx, req, results)
	}
	elapsed := time.Since(start)

	var ms []monitor.Measurement
	for _, res := range results {
		ms = append(ms, res.measurements...)
	}
	rep.Stages = monitor.SummarizeAll(ms)
	rep.Runs = runs

	if err != nil {
		o.logger.Error().Err(err).Msg("workflow failed")
		rep.fail(err)
		return rep, err
	}
	rep.complete(results)
	if elapsed > 0 {
		rep.ThroughputOpsPerSec = float64(runs) / elapsed.Seconds()
	}
	o.logger.Info().
		Int("runs", runs).
		Float64("mean_relative_error", rep.MeanRelativeError).
		Float64("throughput_ops_per_sec", rep.ThroughputOpsPerSec).
		Msg("workflow completed")
	return rep, nil
}

// warmup runs the configured warmup workflows. Their measurements are dropped
// and not handed to the observers.
func (o *Orchestrator) warmup(ctx context.Context, req Request) error {
	for i := 0; i < o.config.Warmup; i++ {
		var res runResult
		if err := o.runOnce(ctx, req, monitor.New(monitor.WithLogger(o.logger)), &res); err != nil {
			return fmt.Errorf("warmup %d/%d: %w", i+1, o.config.Warmup, err)
		}
	}
	if o.config.Warmup > 0 {
		o.logger.Debug().Int("warmup", o.config.Warmup).Msg("warmup completed")
	}
	return nil
}

func (o *Orchestrator) runSequential(ctx context.Context, req Request, results []runResult) error {
	for i := range results {
		if err := o.runOnce(ctx, req, monitor.New(o.monitorOpts...), &results[i]); err != nil {
			if len(results) > 1 {
				return fmt.Errorf("run %d/%d: %w", i+1, len(results), err)
			}
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runParallel(ctx context.Context, req Request, results []runResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Parallelism)
	for i := range results {
		i := i
		g.Go(func() error {
			if err := o.runOnce(gctx, req, monitor.New(o.monitorOpts...), &results[i]); err != nil {
				return fmt.Errorf("run %d/%d: %w", i+1, len(results), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// runResult is the outcome of a single run.
type runResult struct {
	state        State
	decrypted    []float64
	compute      executor.ComputeInfo
	computeMs    float64
	measurements []monitor.Measurement
}

// runOnce runs the workflow under a fresh context, measuring its stages with m.
func (o *Orchestrator) runOnce(ctx context.Context, req Request, m *monitor.Monitor, res *runResult) (err error) {
	sm := &machine{}
	defer func() {
		res.measurements = m.Measurements()
		if err != nil {
			sm.fail()
		}
		res.state = sm.state
	}()

	sc, _, err := monitor.Call(m, StageKeyGeneration, func() (*scheme.Context, error) {
		return scheme.NewContext(o.config.Scheme, scheme.WithScheme(o.scheme), scheme.WithLogger(o.logger))
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageKeyGeneration, err)
	}
	if err := sm.advance(KeyReady); err != nil {
		return err
	}

	ct, _, err := monitor.Call(m, StageEncrypt, func() (*scheme.Ciphertext, error) {
		return o.ex.Encrypt(ctx, sc, req.Input)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageEncrypt, err)
	}
	if err := sm.advance(Encrypted); err != nil {
		return err
	}

	out, meas, err := monitor.Call(m, StageCompute, func() (out *scheme.Ciphertext, err error) {
		out, res.compute, err = o.ex.Compute(ctx, sc, ct, req.Operation, req.Operand)
		return out, err
	})
	res.computeMs = meas.ExecutionTimeMs
	if err != nil {
		return fmt.Errorf("%s: %w", StageCompute, err)
	}
	if err := sm.advance(Computed); err != nil {
		return err
	}

	res.decrypted, _, err = monitor.Call(m, StageDecrypt, func() ([]float64, error) {
		pt, err := sc.Decrypt(out)
		if err != nil {
			return nil, err
		}
		return sc.Decode(pt)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", StageDecrypt, err)
	}
	if err := sm.advance(Decrypted); err != nil {
		return err
	}
	return sm.advance(Reported)
}

func (req Request) validate() error {
	if !req.Operation.Valid() {
		return fmt.Errorf("%w: %q", errs.UnsupportedOperation, req.Operation)
	}
	if len(req.Input) == 0 {
		return fmt.Errorf("%w: empty input vector", errs.InvalidInput)
	}
	if n := max(len(req.Input), len(req.Operand)); len(req.Expected) > n {
		return fmt.Errorf("%w: expected vector of length %d for a result of length %d", errs.InvalidInput, len(req.Expected), n)
	}
	return nil
}
