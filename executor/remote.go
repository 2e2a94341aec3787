package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChristianMct/ecd/api"
	"github.com/ChristianMct/ecd/codec"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/scheme"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport carries operation requests to a remote compute boundary. An error
// returned by Compute is a transport failure and is retried, unless it wraps an
// errs.Kind. Failures of the computation itself are reported in the result.
type Transport interface {
	Compute(ctx context.Context, req *api.OperationRequest) (*api.OperationResult, error)
}

// KeyRegistrar is implemented by transports whose boundary needs the public
// material of a context before computing on its ciphertexts.
type KeyRegistrar interface {
	RegisterKeys(ctx context.Context, req *api.RegisterKeysRequest) (*api.RegisterKeysResponse, error)
}

// Remote encrypts locally and delegates Compute to a remote boundary through
// a Transport. It is safe for concurrent use if its transport is.
type Remote struct {
	Local

	transport Transport
	policy    RetryPolicy
	logger    zerolog.Logger

	mu         sync.Mutex
	registered map[scheme.Fingerprint]bool
}

// RemoteOption configures a Remote executor.
type RemoteOption func(*Remote)

// WithRetryPolicy sets the retry policy. The default is DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) RemoteOption {
	return func(r *Remote) { r.policy = p }
}

// WithRemoteLogger sets the logger of the executor.
func WithRemoteLogger(l zerolog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// NewRemote returns a remote executor using t.
func NewRemote(t Transport, opts ...RemoteOption) (*Remote, error) {
	r := &Remote{
		transport:  t,
		policy:     DefaultRetryPolicy(),
		logger:     log.Logger,
		registered: make(map[scheme.Fingerprint]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: remote executor requires a transport", errs.InvalidConfig)
	}
	if err := r.policy.Validate(); err != nil {
		return nil, err
	}
	r.logger = r.logger.With().Str("component", "executor").Str("mode", string(ModeRemote)).Logger()
	return r, nil
}

func (*Remote) Mode() Mode { return ModeRemote }

// Compute serializes ct and sends it to the remote boundary along with op and
// operand. The returned artifact is deserialized under sc. Transport failures
// and malformed results are retried according to the retry policy. A failure
// reported by the boundary is returned as errs.RemoteComputationError and is
// not retried, except that a boundary rejecting the context with
// errs.ContextMismatch is handed the public material once more.
func (r *Remote) Compute(ctx context.Context, sc *scheme.Context, ct *scheme.Ciphertext, op fhe.Operation, operand []float64) (*scheme.Ciphertext, ComputeInfo, error) {
	var info ComputeInfo
	if err := ctx.Err(); err != nil {
		return nil, info, err
	}
	if !op.Valid() {
		return nil, info, fmt.Errorf("%w: %q", errs.UnsupportedOperation, op)
	}

	art, err := codec.Serialize(sc, ct)
	if err != nil {
		return nil, info, err
	}

	conf := sc.Config()
	req := &api.OperationRequest{
		Artifact:      art,
		Operation:     op,
		Operand:       append([]float64(nil), operand...),
		ContextParams: &conf,
		RequestID:     uuid.NewString(),
	}
	logger := r.logger.With().Str("request_id", req.RequestID).Str("operation", string(op)).Logger()
	logger.Debug().Int("artifact_size", len(art)).Msg("sending compute request")

	var res *api.OperationResult
	for reregistered := false; ; reregistered = true {
		attempts, err := r.ensureRegistered(ctx, sc)
		info.Attempts += attempts
		if err != nil {
			return nil, info, err
		}

		attempts, err = retry(ctx, r.policy, logger, "compute", func(ctx context.Context) (err error) {
			if res, err = r.transport.Compute(ctx, req); err != nil {
				return err
			}
			return checkResult(res)
		})
		info.Attempts += attempts
		if err != nil {
			return nil, info, err
		}
		if res.Error == "" {
			break
		}

		// a boundary that lost the registered keys, after a restart for instance,
		// gets them once more before the failure is surfaced
		if kind, _ := errs.ParseKind(res.Error); kind == errs.ContextMismatch && !reregistered && r.forget(sc.Fingerprint()) {
			logger.Warn().Str("remote_error", res.Error).Msg("boundary does not know the context, registering again")
			continue
		}
		logger.Warn().Str("remote_error", res.Error).Msg("remote computation failed")
		return nil, info, res.Err()
	}
	info.RemoteComputationMs = res.ComputationTimeMs

	out, err := codec.DeserializeCiphertext(res.Artifact, sc)
	if err != nil {
		return nil, info, fmt.Errorf("remote result: %w", err)
	}
	logger.Debug().Float64("remote_ms", res.ComputationTimeMs).Int("attempts", info.Attempts).Msg("compute request completed")
	return out, info, nil
}

// ensureRegistered registers the public material of sc with the boundary, once
// per context fingerprint, if the transport supports it.
func (r *Remote) ensureRegistered(ctx context.Context, sc *scheme.Context) (int, error) {
	reg, ok := r.transport.(KeyRegistrar)
	if !ok {
		return 0, nil
	}
	fp := sc.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered[fp] {
		return 0, nil
	}

	pm, err := sc.PublicMaterial()
	if err != nil {
		return 0, err
	}
	var resp *api.RegisterKeysResponse
	attempts, err := retry(ctx, r.policy, r.logger, "register_keys", func(ctx context.Context) (err error) {
		resp, err = reg.RegisterKeys(ctx, &api.RegisterKeysRequest{PublicMaterial: pm})
		return err
	})
	if err != nil {
		return attempts, err
	}
	if resp.Fingerprint != fp.String() {
		return attempts, fmt.Errorf("%w: boundary registered keys under %q, expected %q", errs.ContextMismatch, resp.Fingerprint, fp)
	}
	r.registered[fp] = true
	r.logger.Debug().Str("fingerprint", fp.String()).Msg("registered public material")
	return attempts, nil
}

// forget drops the registration of fp, and reports whether the transport can
// register it again.
func (r *Remote) forget(fp scheme.Fingerprint) bool {
	if _, ok := r.transport.(KeyRegistrar); !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, fp)
	return true
}

// errMalformedResult reports a result holding neither an artifact nor an
// error. It wraps no kind, so the call is retried.
var errMalformedResult = errors.New("malformed result: exactly one of artifact and error must be set")

func checkResult(res *api.OperationResult) error {
	if res == nil || (len(res.Artifact) == 0) == (res.Error == "") {
		return errMalformedResult
	}
	return nil
}
