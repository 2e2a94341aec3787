// Package compute implements the remote compute boundary as a service.
// The service holds the public material registered by clients and evaluates
// operations on their ciphertexts. It never holds a secret key, so it cannot
// decrypt the artifacts it receives nor the ones it produces.
package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ChristianMct/ecd/api"
	"github.com/ChristianMct/ecd/codec"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/objectstore"
	"github.com/ChristianMct/ecd/scheme"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceConfig is the configuration of a compute service.
type ServiceConfig struct {
	// Operations restricts the accepted operations. Empty means all of them.
	Operations []fhe.Operation `toml:"operations"`
}

// Service represents a compute service instance.
type Service struct {
	config  ServiceConfig
	allowed map[fhe.Operation]bool
	scheme  fhe.Scheme
	logger  zerolog.Logger

	objs objectstore.ObjectStore

	contextsMu sync.RWMutex
	contexts   map[scheme.Fingerprint]*evalContext
}

// evalContext serializes the use of an evaluation context, whose backend is
// not safe for concurrent use.
type evalContext struct {
	sync.Mutex
	*scheme.Context
}

// Option configures a Service.
type Option func(*Service)

// WithScheme sets the scheme of the evaluation contexts. The default is fhe.CKKS.
func WithScheme(s fhe.Scheme) Option {
	return func(srv *Service) { srv.scheme = s }
}

// WithLogger sets the logger of the service.
func WithLogger(l zerolog.Logger) Option {
	return func(srv *Service) { srv.logger = l }
}

// NewService creates a new compute service storing public material in objs.
func NewService(conf ServiceConfig, objs objectstore.ObjectStore, opts ...Option) (*Service, error) {
	if objs == nil {
		return nil, fmt.Errorf("%w: compute service requires an object store", errs.InvalidConfig)
	}
	s := &Service{
		config:   conf,
		allowed:  make(map[fhe.Operation]bool),
		scheme:   fhe.CKKS,
		logger:   log.Logger,
		objs:     objs,
		contexts: make(map[scheme.Fingerprint]*evalContext),
	}
	for _, opt := range opts {
		opt(s)
	}
	ops := conf.Operations
	if len(ops) == 0 {
		ops = fhe.Operations
	}
	for _, op := range ops {
		if !op.Valid() {
			return nil, fmt.Errorf("%w: unknown operation %q", errs.InvalidConfig, op)
		}
		s.allowed[op] = true
	}
	s.logger = s.logger.With().Str("component", "compute").Logger()
	RegisterMetrics()
	return s, nil
}

// RegisterKeys stores pm and returns the fingerprint of the contexts it was
// exported from. Registering the same material twice is a no-op.
func (s *Service) RegisterKeys(ctx context.Context, pm scheme.PublicMaterial) (fp scheme.Fingerprint, err error) {
	defer func() { recordRegistration(err) }()
	if err := ctx.Err(); err != nil {
		return fp, err
	}
	if err := pm.Config.Validate(); err != nil {
		return fp, err
	}
	sc, err := scheme.NewEvaluationContext(pm, scheme.WithScheme(s.scheme), scheme.WithLogger(s.logger))
	if err != nil {
		return fp, err
	}
	fp = sc.Fingerprint()

	s.contextsMu.Lock()
	defer s.contextsMu.Unlock()
	if _, exists := s.contexts[fp]; exists {
		return fp, nil
	}
	if err := s.objs.Store(fp.String(), pm); err != nil {
		return fp, fmt.Errorf("cannot store public material: %w", err)
	}
	s.contexts[fp] = &evalContext{Context: sc}
	s.logger.Info().Str("fingerprint", fp.String()).Bool("relinearization_key", sc.HasRelinearizationKey()).Msg("registered public material")
	return fp, nil
}

// Compute evaluates req. Failures are reported in the Error field of the
// result, prefixed by their error kind.
func (s *Service) Compute(ctx context.Context, req *api.OperationRequest) *api.OperationResult {
	start := time.Now()
	res, err := s.compute(ctx, req)
	recordCompute(req.Operation, err, time.Since(start))

	logger := s.logger.With().Str("request_id", req.RequestID).Str("operation", string(req.Operation)).Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("compute request failed")
		return &api.OperationResult{Error: errorString(err)}
	}
	logger.Debug().Float64("computation_time_ms", res.ComputationTimeMs).Msg("compute request completed")
	return res
}

func (s *Service) compute(ctx context.Context, req *api.OperationRequest) (*api.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	op := req.Operation
	if !op.Valid() || !s.allowed[op] {
		return nil, fmt.Errorf("%w: %q", errs.UnsupportedOperation, op)
	}

	hdr, err := codec.PeekHeader(req.Artifact)
	if err != nil {
		return nil, err
	}
	ec, err := s.evalContext(hdr.Fingerprint)
	if err != nil {
		return nil, err
	}
	if req.ContextParams != nil && !req.ContextParams.Equal(ec.Config()) {
		return nil, fmt.Errorf("%w: request parameters differ from the registered ones", errs.ContextMismatch)
	}

	ec.Lock()
	defer ec.Unlock()

	ct, err := codec.DeserializeCiphertext(req.Artifact, ec.Context)
	if err != nil {
		return nil, err
	}
	evalStart := time.Now()
	operand, err := ec.EncodeOperand(op, ct, req.Operand)
	if err != nil {
		return nil, err
	}
	out, err := ec.Evaluate(op, ct, operand)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(evalStart)

	art, err := codec.Serialize(ec.Context, out)
	if err != nil {
		return nil, err
	}
	return &api.OperationResult{
		Artifact:          art,
		ComputationTimeMs: float64(elapsed.Nanoseconds()) / float64(time.Millisecond),
	}, nil
}

// evalContext returns the evaluation context of fp, from the cache or from the
// object store.
func (s *Service) evalContext(fp scheme.Fingerprint) (*evalContext, error) {
	s.contextsMu.RLock()
	ec, ok := s.contexts[fp]
	s.contextsMu.RUnlock()
	if ok {
		return ec, nil
	}

	var pm scheme.PublicMaterial
	if err := s.objs.Load(fp.String(), &pm); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: no public material registered for context %s", errs.ContextMismatch, fp)
		}
		return nil, fmt.Errorf("cannot load public material: %w", err)
	}
	sc, err := scheme.NewEvaluationContext(pm, scheme.WithScheme(s.scheme), scheme.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	if sc.Fingerprint() != fp {
		return nil, fmt.Errorf("%w: stored public material does not match context %s", errs.ContextMismatch, fp)
	}

	s.contextsMu.Lock()
	defer s.contextsMu.Unlock()
	if ec, ok := s.contexts[fp]; ok {
		return ec, nil
	}
	ec = &evalContext{Context: sc}
	s.contexts[fp] = ec
	s.logger.Debug().Str("fingerprint", fp.String()).Msg("loaded public material from object store")
	return ec, nil
}

// errorString formats err with its kind as a prefix, so that clients can
// recover the kind with errs.ParseKind.
func errorString(err error) string {
	msg := err.Error()
	k, ok := errs.KindOf(err)
	if !ok || strings.HasPrefix(msg, string(k)) {
		return msg
	}
	return fmt.Sprintf("%s: %s", k, msg)
}
