// Package scheme implements the scheme context: a frozen configuration, the key
// bundle generated for it, and the primitives bound to them.
//
// A Context is not safe for concurrent use. Independent Contexts share no state.
package scheme

import (
	"fmt"
	"math"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Context owns a scheme configuration and the key bundle generated for it.
type Context struct {
	config      Config
	params      fhe.Parameters
	scheme      fhe.Scheme
	backend     fhe.Backend
	fingerprint Fingerprint
	logger      zerolog.Logger
}

type options struct {
	scheme fhe.Scheme
	logger zerolog.Logger
}

// Option configures a Context.
type Option func(*options)

// WithScheme sets the backend scheme. The default is fhe.CKKS.
func WithScheme(s fhe.Scheme) Option {
	return func(o *options) { o.scheme = s }
}

// WithLogger sets the logger of the context.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{scheme: fhe.CKKS, logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewContext validates conf and generates a fresh key bundle for it.
func NewContext(conf Config, opts ...Option) (*Context, error) {
	o := newOptions(opts)
	params, err := conf.Parameters()
	if err != nil {
		return nil, err
	}

	backend, err := o.scheme.GenerateKeys(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.InvalidConfig, err)
	}

	c := &Context{config: conf.Clone(), params: params, scheme: o.scheme, backend: backend}
	if err := c.init(o.logger); err != nil {
		return nil, err
	}
	c.logger.Debug().Int("slots", backend.Slots()).Int("max_level", backend.MaxLevel()).Msg("generated key bundle")
	return c, nil
}

// NewEvaluationContext returns a context for pm that can encode, encrypt and
// evaluate, but not decrypt. It has the same fingerprint as the context pm was
// exported from.
func NewEvaluationContext(pm PublicMaterial, opts ...Option) (*Context, error) {
	o := newOptions(opts)
	params, err := pm.Config.Parameters()
	if err != nil {
		return nil, err
	}

	backend, err := o.scheme.FromPublic(params, fhe.PublicKeys{PublicKey: pm.PublicKey, RelinearizationKey: pm.RelinearizationKey})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.InvalidConfig, err)
	}

	c := &Context{config: pm.Config.Clone(), params: params, scheme: o.scheme, backend: backend}
	if err := c.init(o.logger); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) init(logger zerolog.Logger) error {
	keys, err := c.backend.PublicKeys()
	if err != nil {
		return fmt.Errorf("cannot export public key: %w", err)
	}
	if c.fingerprint, err = fingerprint(c.config, keys.PublicKey); err != nil {
		return err
	}
	c.logger = logger.With().Str("component", "scheme").Str("context", c.fingerprint.String()[:12]).Logger()
	return nil
}

// Config returns a copy of the context configuration.
func (c *Context) Config() Config { return c.config.Clone() }

// Fingerprint returns the fingerprint of the context.
func (c *Context) Fingerprint() Fingerprint { return c.fingerprint }

// SchemeName returns the name of the backend scheme.
func (c *Context) SchemeName() string { return c.scheme.Name() }

// Scheme returns the backend scheme.
func (c *Context) Scheme() fhe.Scheme { return c.scheme }

// Slots returns the maximum length of an encoded vector.
func (c *Context) Slots() int { return c.backend.Slots() }

// MaxLevel returns the level of freshly encrypted ciphertexts.
func (c *Context) MaxLevel() int { return c.backend.MaxLevel() }

// DefaultScale returns the encoding scale.
func (c *Context) DefaultScale() float64 { return c.backend.DefaultScale() }

// CanDecrypt returns whether the context holds a secret key.
func (c *Context) CanDecrypt() bool { return c.backend.CanDecrypt() }

// HasRelinearizationKey returns whether ciphertext-ciphertext products are available.
func (c *Context) HasRelinearizationKey() bool { return c.backend.HasRelinearizationKey() }

// PublicMaterial exports the public key and, if present, the relinearization key.
// This is the only way key material leaves a Context.
func (c *Context) PublicMaterial() (PublicMaterial, error) {
	keys, err := c.backend.PublicKeys()
	if err != nil {
		return PublicMaterial{}, err
	}
	return PublicMaterial{Config: c.config.Clone(), PublicKey: keys.PublicKey, RelinearizationKey: keys.RelinearizationKey}, nil
}

// SecretKeyBytes returns the serialized secret key. It is meant for in-process
// leakage checks and must never be written to a transport.
func (c *Context) SecretKeyBytes() ([]byte, error) {
	return c.backend.SecretKeyBytes()
}

// Encode encodes values at the top level and default scale.
func (c *Context) Encode(values []float64) (*Plaintext, error) {
	return c.EncodeAt(values, c.MaxLevel(), c.DefaultScale())
}

// EncodeAt encodes values at the given level and scale.
func (c *Context) EncodeAt(values []float64, level int, scale float64) (*Plaintext, error) {
	if len(values) == 0 || len(values) > c.Slots() {
		return nil, fmt.Errorf("%w: vector of length %d, must be in [1, %d]", errs.InvalidInput, len(values), c.Slots())
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: value %d is not finite", errs.InvalidInput, i)
		}
	}
	obj, err := c.backend.Encode(values, level, scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.InvalidInput, err)
	}
	return &Plaintext{handle{obj: obj, owner: c, length: len(values)}}, nil
}

// Decode decodes pt and returns as many values as were encoded.
func (c *Context) Decode(pt *Plaintext) ([]float64, error) {
	if err := c.owns(pt); err != nil {
		return nil, err
	}
	values, err := c.backend.Decode(pt.obj)
	if err != nil {
		return nil, err
	}
	return values[:pt.length], nil
}

// Encrypt encrypts pt under the public key of the context.
func (c *Context) Encrypt(pt *Plaintext) (*Ciphertext, error) {
	if err := c.owns(pt); err != nil {
		return nil, err
	}
	obj, err := c.backend.Encrypt(pt.obj)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{handle{obj: obj, owner: c, length: pt.length}}, nil
}

// Decrypt decrypts ct with the secret key of the context.
func (c *Context) Decrypt(ct *Ciphertext) (*Plaintext, error) {
	if err := c.owns(ct); err != nil {
		return nil, err
	}
	if !c.CanDecrypt() {
		return nil, fmt.Errorf("%w: decrypt: context holds no secret key", errs.UnsupportedOperation)
	}
	obj, err := c.backend.Decrypt(ct.obj)
	if err != nil {
		return nil, err
	}
	return &Plaintext{handle{obj: obj, owner: c, length: ct.length}}, nil
}

// EncodeOperand encodes values as an operand of op for ct: at the level of ct,
// at the scale op requires, and encrypted if op takes a ciphertext operand.
func (c *Context) EncodeOperand(op fhe.Operation, ct *Ciphertext, values []float64) (Handle, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %q", errs.UnsupportedOperation, op)
	}
	if err := c.owns(ct); err != nil {
		return nil, err
	}
	pt, err := c.EncodeAt(values, ct.Level(), c.backend.OperandScale(op, ct.obj))
	if err != nil {
		return nil, err
	}
	if !op.CipherOperand() {
		return pt, nil
	}
	return c.Encrypt(pt)
}

// Evaluate applies op to ct and operand. It fails with errs.UnsupportedOperation
// for unknown or unavailable operations, with errs.LevelExhausted if ct has no
// level left for a multiplicative op, and with errs.OperandMismatch if the
// operand does not have the kind, level and scale op requires.
func (c *Context) Evaluate(op fhe.Operation, ct *Ciphertext, operand Handle) (*Ciphertext, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %q", errs.UnsupportedOperation, op)
	}
	if err := c.owns(ct); err != nil {
		return nil, err
	}
	if err := c.owns(operand); err != nil {
		return nil, err
	}
	if op == fhe.MultiplyCipher && !c.HasRelinearizationKey() {
		return nil, fmt.Errorf("%w: %s requires a relinearization key", errs.UnsupportedOperation, op)
	}
	if op.IsMultiplicative() && ct.Level() == 0 {
		return nil, fmt.Errorf("%w: %s on a ciphertext at level 0", errs.LevelExhausted, op)
	}

	wantKind := fhe.KindPlaintext
	if op.CipherOperand() {
		wantKind = fhe.KindCiphertext
	}
	if operand.Kind() != wantKind {
		return nil, fmt.Errorf("%w: %s takes a %s operand, got a %s", errs.OperandMismatch, op, wantKind, operand.Kind())
	}
	if operand.Level() != ct.Level() {
		return nil, fmt.Errorf("%w: %s operand at level %d, ciphertext at level %d", errs.OperandMismatch, op, operand.Level(), ct.Level())
	}
	if want := c.backend.OperandScale(op, ct.obj); !scaleEqual(operand.Scale(), want) {
		return nil, fmt.Errorf("%w: %s operand at scale 2^%.2f, requires 2^%.2f", errs.OperandMismatch, op, math.Log2(operand.Scale()), math.Log2(want))
	}

	obj, err := c.backend.Evaluate(op, ct.obj, operand.object())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Ciphertext{handle{obj: obj, owner: c, length: max(ct.length, operand.Len())}}, nil
}

// Save serializes the backend representation of h.
func (c *Context) Save(h Handle) ([]byte, error) {
	if err := c.owns(h); err != nil {
		return nil, err
	}
	return c.backend.Save(h.object())
}

// Load reconstructs a handle of the given kind and vector length from data
// produced by Save.
func (c *Context) Load(kind fhe.ObjectKind, data []byte, length int) (Handle, error) {
	if length < 1 || length > c.Slots() {
		return nil, fmt.Errorf("%w: vector of length %d, must be in [1, %d]", errs.InvalidInput, length, c.Slots())
	}
	obj, err := c.backend.Load(kind, data)
	if err != nil {
		return nil, err
	}
	if obj.Level() > c.MaxLevel() {
		return nil, fmt.Errorf("%w: level %d above maximum level %d", errs.InvalidInput, obj.Level(), c.MaxLevel())
	}
	h := handle{obj: obj, owner: c, length: length}
	if kind == fhe.KindCiphertext {
		return &Ciphertext{h}, nil
	}
	return &Plaintext{h}, nil
}

func (c *Context) owns(h Handle) error {
	if h == nil || !h.valid() {
		return fmt.Errorf("%w: nil handle", errs.InvalidInput)
	}
	if h.Owner() != c {
		return fmt.Errorf("%w: %s belongs to another context", errs.ContextMismatch, h.Kind())
	}
	return nil
}

func scaleEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}
