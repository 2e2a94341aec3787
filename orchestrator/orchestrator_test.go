package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ChristianMct/ecd"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/executor"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/monitor"
	"github.com/ChristianMct/ecd/objectstore"
	"github.com/ChristianMct/ecd/scheme"
	"github.com/ChristianMct/ecd/services/compute"
	"github.com/ChristianMct/ecd/transport/httptrans"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/backoff"
)

var testConfig = scheme.Config{
	Scheme:              scheme.SchemeCKKS,
	PolyModulusDegree:   4096,
	CoeffModulusBits:    []int{50, 35, 35, 50},
	ScaleBits:           30,
	MultiplicativeDepth: 2,
}

var scenarioRequest = Request{
	Input:     []float64{26, 118, 76, 80, 97.6},
	Operation: fhe.AddPlain,
	Operand:   []float64{0, 5, 0, 0, 0},
	Expected:  []float64{26, 123, 76, 80, 97.6},
}

const maxMeanRelativeError = 1e-3

var fastRetries = executor.RetryPolicy{
	MaxRetries: 2,
	Backoff:    backoff.Config{BaseDelay: time.Millisecond, Multiplier: 2, Jitter: 0.2, MaxDelay: 5 * time.Millisecond},
	Timeout:    50 * time.Millisecond,
}

func testOrchestratorConfig() Config {
	conf := DefaultConfig()
	conf.Scheme = testConfig
	return conf
}

func newComputeServer(t *testing.T, s fhe.Scheme) *httptest.Server {
	svc, err := compute.NewService(compute.ServiceConfig{}, objectstore.NewMemObjectStore(), compute.WithScheme(s), compute.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	srv := httptest.NewServer(httptrans.NewHandler(svc, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func newRemote(t *testing.T, url string, policy executor.RetryPolicy) *executor.Remote {
	ex, err := executor.NewRemote(httptrans.NewClient(url), executor.WithRetryPolicy(policy), executor.WithRemoteLogger(zerolog.Nop()))
	require.NoError(t, err)
	return ex
}

func newOrchestrator(t *testing.T, conf Config, ex executor.Executor, opts ...Option) *Orchestrator {
	o, err := New(conf, ex, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	require.NoError(t, err)
	return o
}

func requireStages(t *testing.T, rep *Report, runs int, names ...string) {
	t.Helper()
	require.Len(t, rep.Stages, len(names))
	for i, name := range names {
		require.Equal(t, name, rep.Stages[i].Operation)
		require.Equal(t, runs, rep.Stages[i].Runs)
	}
}

// Scenario A: local addition.
func TestLocalWorkflow(t *testing.T) {
	o := newOrchestrator(t, testOrchestratorConfig(), executor.NewLocal())
	rep, err := o.Run(context.Background(), scenarioRequest)
	require.NoError(t, err)

	require.Equal(t, executor.ModeLocal, rep.Mode)
	require.Equal(t, Reported, rep.State)
	require.Nil(t, rep.Remote)
	require.Len(t, rep.DecryptedResult, len(scenarioRequest.Expected))
	require.Len(t, rep.RelativeErrors, len(scenarioRequest.Expected))
	require.LessOrEqual(t, rep.MeanRelativeError, maxMeanRelativeError)
	requireStages(t, rep, 1, StageKeyGeneration, StageEncrypt, StageCompute, StageDecrypt)
}

// Scenario B: the same workflow through a remote boundary.
func TestRemoteWorkflow(t *testing.T) {
	srv := newComputeServer(t, fhe.CKKS)
	o := newOrchestrator(t, testOrchestratorConfig(), newRemote(t, srv.URL, fastRetries))

	rep, err := o.Run(context.Background(), scenarioRequest)
	require.NoError(t, err)
	require.Equal(t, executor.ModeRemote, rep.Mode)
	require.Equal(t, Reported, rep.State)
	require.LessOrEqual(t, rep.MeanRelativeError, maxMeanRelativeError)
	requireStages(t, rep, 1, StageKeyGeneration, StageEncrypt, StageCompute, StageDecrypt)

	require.NotNil(t, rep.Remote)
	require.Equal(t, float64(2), rep.Remote.Attempts) // key registration and compute
	require.GreaterOrEqual(t, rep.Remote.ComputationTimeMs, 0.0)
	require.GreaterOrEqual(t, rep.Remote.NetworkOverheadMs, 0.0)
}

// Scenario C: a boundary that never answers in time.
func TestRemoteTimeout(t *testing.T) {
	var mu sync.Mutex
	var calls int
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		// the connection is only watched for client hangups once the body is read
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	defer srv.Close()
	defer close(stop)

	o := newOrchestrator(t, testOrchestratorConfig(), newRemote(t, srv.URL, fastRetries), WithScheme(fhe.Mock))
	rep, err := o.Run(context.Background(), scenarioRequest)
	require.ErrorIs(t, err, errs.TransportExhausted)
	require.ErrorIs(t, rep.Err, errs.TransportExhausted)
	require.Equal(t, Errored, rep.State)
	require.Equal(t, errs.TransportExhausted, rep.ErrorKind)
	require.NotEmpty(t, rep.Error)
	require.Empty(t, rep.DecryptedResult)

	// the encrypt stage completed and the compute stage failed
	requireStages(t, rep, 1, StageKeyGeneration, StageEncrypt, StageCompute)
	require.Zero(t, rep.Stages[1].Failures)
	require.Greater(t, rep.Stages[1].TimeMs.Mean, 0.0)
	require.Equal(t, 1, rep.Stages[2].Failures)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, fastRetries.MaxRetries+1, calls)
}

func TestAllOperations(t *testing.T) {
	for _, s := range []fhe.Scheme{fhe.CKKS, fhe.Mock} {
		for _, op := range fhe.Operations {
			t.Run(fmt.Sprintf("scheme=%s/op=%s", s.Name(), op), func(t *testing.T) {
				o := newOrchestrator(t, testOrchestratorConfig(), executor.NewLocal(), WithScheme(s))
				rep, err := o.Run(context.Background(), Request{
					Input:     scenarioRequest.Input,
					Operation: op,
					Operand:   []float64{1, 5, 2, 0.5, 0.25},
				})
				require.NoError(t, err)
				require.Equal(t, op.Plaintext(scenarioRequest.Input, []float64{1, 5, 2, 0.5, 0.25}), rep.Expected)
				require.LessOrEqual(t, rep.MeanRelativeError, maxMeanRelativeError)
			})
		}
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, testOrchestratorConfig(), executor.NewLocal(), WithScheme(fhe.Mock))

	t.Run("UnknownOperation", func(t *testing.T) {
		rep, err := o.Run(ctx, Request{Input: []float64{1}, Operation: "rotate"})
		require.ErrorIs(t, err, errs.UnsupportedOperation)
		require.Equal(t, Errored, rep.State)
		require.Empty(t, rep.Stages)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		_, err := o.Run(ctx, Request{Operation: fhe.AddPlain})
		require.ErrorIs(t, err, errs.InvalidInput)
	})

	t.Run("ExpectedTooLong", func(t *testing.T) {
		_, err := o.Run(ctx, Request{Input: []float64{1}, Operation: fhe.AddPlain, Expected: []float64{1, 2}})
		require.ErrorIs(t, err, errs.InvalidInput)
	})

	t.Run("NoRuns", func(t *testing.T) {
		_, err := o.RunRepeated(ctx, scenarioRequest, 0)
		require.ErrorIs(t, err, errs.InvalidInput)
	})

	t.Run("LevelExhausted", func(t *testing.T) {
		conf := testOrchestratorConfig()
		conf.Scheme = scheme.Config{Scheme: scheme.SchemeCKKS, PolyModulusDegree: 4096, CoeffModulusBits: []int{50}, ScaleBits: 30}
		o := newOrchestrator(t, conf, executor.NewLocal(), WithScheme(fhe.Mock))
		rep, err := o.Run(ctx, Request{Input: []float64{1}, Operation: fhe.MultiplyPlain, Operand: []float64{2}})
		require.ErrorIs(t, err, errs.LevelExhausted)
		require.Equal(t, errs.LevelExhausted, rep.ErrorKind)
		requireStages(t, rep, 1, StageKeyGeneration, StageEncrypt, StageCompute)
	})

	t.Run("OversizedInput", func(t *testing.T) {
		rep, err := o.Run(ctx, Request{Input: make([]float64, 4096), Operation: fhe.AddPlain})
		require.ErrorIs(t, err, errs.InvalidInput)
		requireStages(t, rep, 1, StageKeyGeneration, StageEncrypt)
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		rep, err := o.Run(ctx, scenarioRequest)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, Errored, rep.State)
	})
}

func TestRunRepeated(t *testing.T) {
	for _, parallelism := range []int{1, 3} {
		t.Run(fmt.Sprintf("parallelism=%d", parallelism), func(t *testing.T) {
			conf := testOrchestratorConfig()
			conf.Parallelism = parallelism

			var mu sync.Mutex
			measured := make(map[string]int)
			observe := func(m monitor.Measurement) {
				mu.Lock()
				defer mu.Unlock()
				measured[m.Operation]++
			}

			srv := newComputeServer(t, fhe.Mock)
			o := newOrchestrator(t, conf, newRemote(t, srv.URL, fastRetries), WithScheme(fhe.Mock), WithMonitorOptions(monitor.WithObserver(observe)))

			const runs = 5
			rep, err := o.RunRepeated(context.Background(), scenarioRequest, runs)
			require.NoError(t, err)
			require.Equal(t, runs, rep.Runs)
			require.Equal(t, Reported, rep.State)
			requireStages(t, rep, runs, StageKeyGeneration, StageEncrypt, StageCompute, StageDecrypt)
			require.InDeltaSlice(t, scenarioRequest.Expected, rep.DecryptedResult, 1e-9)

			// every run has its own context, so each registers its keys
			require.Equal(t, float64(2), rep.Remote.Attempts)

			mu.Lock()
			defer mu.Unlock()
			for _, stage := range []string{StageKeyGeneration, StageEncrypt, StageCompute, StageDecrypt} {
				require.Equal(t, runs, measured[stage], stage)
			}
		})
	}
}

func TestRunRepeatedFailure(t *testing.T) {
	conf := testOrchestratorConfig()
	conf.Parallelism = 2
	o := newOrchestrator(t, conf, failingExecutor{executor.NewLocal()}, WithScheme(fhe.Mock))

	rep, err := o.RunRepeated(context.Background(), scenarioRequest, 4)
	require.ErrorIs(t, err, errs.RemoteComputationError)
	require.Equal(t, Errored, rep.State)
	require.Equal(t, errs.RemoteComputationError, rep.ErrorKind)
	require.NotEmpty(t, rep.Stages)
	require.Equal(t, StageKeyGeneration, rep.Stages[0].Operation)
}

type failingExecutor struct {
	*executor.Local
}

func (failingExecutor) Compute(context.Context, *scheme.Context, *scheme.Ciphertext, fhe.Operation, []float64) (*scheme.Ciphertext, executor.ComputeInfo, error) {
	return nil, executor.ComputeInfo{}, fmt.Errorf("%w: boundary down", errs.RemoteComputationError)
}

// countingExecutor counts the workflows started through it.
type countingExecutor struct {
	*executor.Local

	mu       sync.Mutex
	encrypts int
}

func (c *countingExecutor) Encrypt(ctx context.Context, sc *scheme.Context, input []float64) (*scheme.Ciphertext, error) {
	c.mu.Lock()
	c.encrypts++
	c.mu.Unlock()
	return c.Local.Encrypt(ctx, sc, input)
}

func TestRunRepeatedWarmup(t *testing.T) {
	for _, parallelism := range []int{1, 2} {
		t.Run(fmt.Sprintf("parallelism=%d", parallelism), func(t *testing.T) {
			conf := testOrchestratorConfig()
			conf.Warmup = 3
			conf.Parallelism = parallelism

			var mu sync.Mutex
			var observed int
			observe := func(m monitor.Measurement) {
				mu.Lock()
				defer mu.Unlock()
				if m.Operation == StageEncrypt {
					observed++
				}
			}

			ex := &countingExecutor{Local: executor.NewLocal()}
			o := newOrchestrator(t, conf, ex, WithScheme(fhe.Mock), WithMonitorOptions(monitor.WithObserver(observe)))

			const runs = 4
			rep, err := o.RunRepeated(context.Background(), scenarioRequest, runs)
			require.NoError(t, err)
			require.Equal(t, conf.Warmup, rep.Warmup)
			require.Equal(t, runs, rep.Runs)
			requireStages(t, rep, runs, StageKeyGeneration, StageEncrypt, StageCompute, StageDecrypt)
			require.Greater(t, rep.ThroughputOpsPerSec, 0.0)

			require.Equal(t, conf.Warmup+runs, ex.encrypts)
			mu.Lock()
			defer mu.Unlock()
			require.Equal(t, runs, observed)
		})
	}

	t.Run("Failure", func(t *testing.T) {
		conf := testOrchestratorConfig()
		conf.Warmup = 2
		o := newOrchestrator(t, conf, failingExecutor{executor.NewLocal()}, WithScheme(fhe.Mock))
		rep, err := o.RunRepeated(context.Background(), scenarioRequest, 3)
		require.ErrorIs(t, err, errs.RemoteComputationError)
		require.ErrorContains(t, err, "warmup 1/2")
		require.Equal(t, Errored, rep.State)
		require.Empty(t, rep.Stages)
		require.Zero(t, rep.ThroughputOpsPerSec)
	})
}

func TestSweep(t *testing.T) {
	conf := testOrchestratorConfig()
	conf.Warmup = 1
	o := newOrchestrator(t, conf, executor.NewLocal(), WithScheme(fhe.Mock))

	sizes := []int{1, 10, 100}
	sr, err := o.Sweep(context.Background(), fhe.MultiplyPlain, []float64{2, 0.5}, sizes, 2)
	require.NoError(t, err)
	require.Equal(t, fhe.MultiplyPlain, sr.Operation)
	require.Equal(t, 2, sr.Runs)
	require.Equal(t, 1, sr.Warmup)
	require.Len(t, sr.Points, len(sizes))
	for i, p := range sr.Points {
		require.Equal(t, sizes[i], p.Size)
		require.Equal(t, Reported, p.State)
		require.Len(t, p.Stages, 4)
		require.Equal(t, 2, p.Stages[0].Runs)
		require.LessOrEqual(t, p.MeanRelativeError, maxMeanRelativeError)
		require.Greater(t, p.ThroughputOpsPerSec, 0.0)
		require.Nil(t, p.Remote)
		require.Empty(t, p.Error)
	}

	require.Equal(t, []float64{1.1, 2.1, 3.1}, sweepInput(3))
	require.Equal(t, []float64{2, 0.5, 2}, repeatTo([]float64{2, 0.5}, 3))
	require.Equal(t, []float64{2, 2}, repeatTo(nil, 2))
}

func TestSweepErrors(t *testing.T) {
	o := newOrchestrator(t, testOrchestratorConfig(), executor.NewLocal(), WithScheme(fhe.Mock))
	ctx := context.Background()

	_, err := o.Sweep(ctx, fhe.AddPlain, nil, nil, 1)
	require.ErrorIs(t, err, errs.InvalidInput)
	_, err = o.Sweep(ctx, fhe.AddPlain, nil, []int{4, 0}, 1)
	require.ErrorIs(t, err, errs.InvalidInput)

	// the sweep stops at the first size the scheme cannot encode
	sc, err := scheme.NewContext(testConfig, scheme.WithScheme(fhe.Mock))
	require.NoError(t, err)
	sr, err := o.Sweep(ctx, fhe.AddPlain, nil, []int{2, sc.Slots() + 1, 3}, 1)
	require.ErrorIs(t, err, errs.InvalidInput)
	require.Len(t, sr.Points, 2)
	require.Equal(t, Reported, sr.Points[0].State)
	require.Equal(t, Errored, sr.Points[1].State)
	require.NotEmpty(t, sr.Points[1].Error)
}

func TestReportJSON(t *testing.T) {
	o := newOrchestrator(t, testOrchestratorConfig(), executor.NewLocal(), WithScheme(fhe.Mock))
	rep, err := o.Run(context.Background(), scenarioRequest)
	require.NoError(t, err)

	b, err := json.Marshal(rep)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, "local", out["mode"])
	require.Equal(t, "Reported", out["state"])
	require.Equal(t, "add_plain", out["operation"])
	require.Len(t, out["stages"], 4)
	require.NotContains(t, out, "error")
	require.NotContains(t, out, "remote")
}

func TestRelativeErrors(t *testing.T) {
	require.Equal(t, []float64{0, 0.5, 0.25}, RelativeErrors([]float64{2, 3, 0.25}, []float64{2, 2, 0}))
	require.Equal(t, []float64{1}, RelativeErrors(nil, []float64{4}))
	require.Empty(t, RelativeErrors([]float64{1}, nil))
}

func TestExpectedResult(t *testing.T) {
	req := Request{Input: []float64{1, 2}, Operation: fhe.AddPlain, Operand: []float64{1, 1, 1}}
	require.Equal(t, []float64{2, 3, 1}, expectedResult(req))
	req.Operation = fhe.MultiplyPlain
	require.Equal(t, []float64{1, 2, 0}, expectedResult(req))
}

func TestStateMachine(t *testing.T) {
	sm := &machine{}
	for _, s := range []State{KeyReady, Encrypted, Computed, Decrypted, Reported} {
		require.NoError(t, sm.advance(s))
		require.Equal(t, s, sm.state)
	}
	require.True(t, sm.state.Terminal())
	require.Error(t, sm.advance(Errored))
	sm.fail()
	require.Equal(t, Reported, sm.state)

	sm = &machine{}
	require.Error(t, sm.advance(Encrypted))
	require.NoError(t, sm.advance(KeyReady))
	require.Error(t, sm.advance(KeyReady))
	sm.fail()
	require.Equal(t, Errored, sm.state)
	require.Error(t, sm.advance(Encrypted))

	require.Equal(t, "State(42)", State(42).String())
}

func TestBuildExecutor(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		ex, closer, err := BuildExecutor(DefaultConfig(), zerolog.Nop())
		require.NoError(t, err)
		require.Equal(t, executor.ModeLocal, ex.Mode())
		require.NoError(t, closer())
	})

	t.Run("HTTP", func(t *testing.T) {
		srv := newComputeServer(t, fhe.CKKS)
		conf := testOrchestratorConfig()
		conf.Mode = executor.ModeRemote
		conf.Remote.Address = srv.URL
		conf.Remote.StageDir = t.TempDir()
		ex, closer, err := BuildExecutor(conf, zerolog.Nop())
		require.NoError(t, err)
		defer closer()

		rep, err := newOrchestrator(t, conf, ex).Run(context.Background(), scenarioRequest)
		require.NoError(t, err)
		require.LessOrEqual(t, rep.MeanRelativeError, maxMeanRelativeError)
	})

	t.Run("GRPC", func(t *testing.T) {
		svc, err := compute.NewService(compute.ServiceConfig{}, objectstore.NewMemObjectStore(), compute.WithScheme(fhe.Mock), compute.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		srv := ecd.NewComputeServer(svc)
		go srv.Serve(lis)
		defer srv.Stop()

		conf := testOrchestratorConfig()
		conf.Mode = executor.ModeRemote
		conf.Remote.Transport = TransportGRPC
		conf.Remote.Address = lis.Addr().String()
		ex, closer, err := BuildExecutor(conf, zerolog.Nop())
		require.NoError(t, err)
		defer closer()

		rep, err := newOrchestrator(t, conf, ex, WithScheme(fhe.Mock)).Run(context.Background(), scenarioRequest)
		require.NoError(t, err)
		require.Equal(t, executor.ModeRemote, rep.Mode)
		require.InDeltaSlice(t, scenarioRequest.Expected, rep.DecryptedResult, 1e-9)
	})

	t.Run("Invalid", func(t *testing.T) {
		conf := DefaultConfig()
		conf.Mode = executor.ModeRemote
		conf.Remote.Transport = "carrier-pigeon"
		_, closer, err := BuildExecutor(conf, zerolog.Nop())
		require.ErrorIs(t, err, errs.InvalidConfig)
		require.NoError(t, closer())
	})
}
