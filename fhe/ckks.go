package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

type ckksScheme struct{}

// CKKS is the lattigo CKKS scheme.
var CKKS Scheme = ckksScheme{}

func (ckksScheme) Name() string { return "ckks" }

func ckksParameters(p Parameters) (ckks.Parameters, error) {
	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            p.LogN,
		LogQ:            p.LogQ,
		LogP:            p.LogP,
		LogDefaultScale: p.LogDefaultScale,
	})
	if err != nil {
		return ckks.Parameters{}, fmt.Errorf("invalid ckks parameters: %w", err)
	}
	return params, nil
}

func (ckksScheme) GenerateKeys(p Parameters) (Backend, error) {
	params, err := ckksParameters(p)
	if err != nil {
		return nil, err
	}
	if p.RelinearizationKey && params.PCount() == 0 {
		return nil, fmt.Errorf("relinearization key requires a special modulus")
	}

	kgen := ckks.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	b := &ckksBackend{params: params, sk: sk, pk: pk}
	if p.RelinearizationKey {
		b.rlk = kgen.GenRelinearizationKeyNew(sk)
	}
	b.decryptor = ckks.NewDecryptor(params, sk)
	b.init()
	return b, nil
}

func (ckksScheme) FromPublic(p Parameters, keys PublicKeys) (Backend, error) {
	params, err := ckksParameters(p)
	if err != nil {
		return nil, err
	}

	b := &ckksBackend{params: params}
	b.pk = new(rlwe.PublicKey)
	if err := b.pk.UnmarshalBinary(keys.PublicKey); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	if len(keys.RelinearizationKey) > 0 {
		b.rlk = new(rlwe.RelinearizationKey)
		if err := b.rlk.UnmarshalBinary(keys.RelinearizationKey); err != nil {
			return nil, fmt.Errorf("invalid relinearization key: %w", err)
		}
	}
	b.init()
	return b, nil
}

// ckksBackend holds the lattigo primitives configured against one key bundle.
// sk and decryptor are nil for evaluation-only backends.
type ckksBackend struct {
	params ckks.Parameters

	sk  *rlwe.SecretKey
	pk  *rlwe.PublicKey
	rlk *rlwe.RelinearizationKey

	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	evaluator *ckks.Evaluator
}

func (b *ckksBackend) init() {
	b.encoder = ckks.NewEncoder(b.params)
	b.encryptor = ckks.NewEncryptor(b.params, b.pk)
	if b.rlk != nil {
		b.evaluator = ckks.NewEvaluator(b.params, rlwe.NewMemEvaluationKeySet(b.rlk))
	} else {
		b.evaluator = ckks.NewEvaluator(b.params, nil)
	}
}

type ckksCiphertext struct{ *rlwe.Ciphertext }

func (c ckksCiphertext) Kind() ObjectKind { return KindCiphertext }
func (c ckksCiphertext) Level() int       { return c.Ciphertext.Level() }
func (c ckksCiphertext) Scale() float64   { return c.Ciphertext.Scale.Float64() }

type ckksPlaintext struct{ *rlwe.Plaintext }

func (p ckksPlaintext) Kind() ObjectKind { return KindPlaintext }
func (p ckksPlaintext) Level() int       { return p.Plaintext.Level() }
func (p ckksPlaintext) Scale() float64   { return p.Plaintext.Scale.Float64() }

func (b *ckksBackend) Slots() int                  { return b.params.MaxSlots() }
func (b *ckksBackend) MaxLevel() int               { return b.params.MaxLevel() }
func (b *ckksBackend) DefaultScale() float64       { return b.params.DefaultScale().Float64() }
func (b *ckksBackend) HasRelinearizationKey() bool { return b.rlk != nil }
func (b *ckksBackend) CanDecrypt() bool            { return b.decryptor != nil }

func (b *ckksBackend) Encode(values []float64, level int, scale float64) (Object, error) {
	if level < 0 || level > b.params.MaxLevel() {
		return nil, fmt.Errorf("level %d out of range [0, %d]", level, b.params.MaxLevel())
	}
	pt := ckks.NewPlaintext(b.params, level)
	pt.Scale = rlwe.NewScale(scale)
	if err := b.encoder.Encode(values, pt); err != nil {
		return nil, err
	}
	return ckksPlaintext{pt}, nil
}

func (b *ckksBackend) Decode(obj Object) ([]float64, error) {
	pt, ok := obj.(ckksPlaintext)
	if !ok {
		return nil, fmt.Errorf("cannot decode %T", obj)
	}
	values := make([]float64, b.params.MaxSlots())
	if err := b.encoder.Decode(pt.Plaintext, values); err != nil {
		return nil, err
	}
	return values, nil
}

func (b *ckksBackend) Encrypt(obj Object) (Object, error) {
	pt, ok := obj.(ckksPlaintext)
	if !ok {
		return nil, fmt.Errorf("cannot encrypt %T", obj)
	}
	ct, err := b.encryptor.EncryptNew(pt.Plaintext)
	if err != nil {
		return nil, err
	}
	return ckksCiphertext{ct}, nil
}

func (b *ckksBackend) Decrypt(obj Object) (Object, error) {
	if b.decryptor == nil {
		return nil, fmt.Errorf("backend holds no secret key")
	}
	ct, ok := obj.(ckksCiphertext)
	if !ok {
		return nil, fmt.Errorf("cannot decrypt %T", obj)
	}
	return ckksPlaintext{b.decryptor.DecryptNew(ct.Ciphertext)}, nil
}

// OperandScale returns the scale of ct for additions. For multiplications it
// returns the last prime of ct's modulus chain, so that the rescale following
// the product restores the scale of ct.
func (b *ckksBackend) OperandScale(op Operation, ct Object) float64 {
	if op.IsMultiplicative() {
		return float64(b.params.Q()[ct.Level()])
	}
	return ct.Scale()
}

func (b *ckksBackend) Evaluate(op Operation, obj, operand Object) (Object, error) {
	ct, ok := obj.(ckksCiphertext)
	if !ok {
		return nil, fmt.Errorf("cannot evaluate on %T", obj)
	}

	var op1 rlwe.Operand
	switch operand := operand.(type) {
	case ckksPlaintext:
		op1 = operand.Plaintext
	case ckksCiphertext:
		op1 = operand.Ciphertext
	default:
		return nil, fmt.Errorf("invalid operand %T", operand)
	}

	var out *rlwe.Ciphertext
	var err error
	switch op {
	case AddPlain, AddCipher:
		if out, err = b.evaluator.AddNew(ct.Ciphertext, op1); err != nil {
			return nil, err
		}
	case MultiplyPlain:
		if out, err = b.evaluator.MulNew(ct.Ciphertext, op1); err != nil {
			return nil, err
		}
		if err = b.evaluator.Rescale(out, out); err != nil {
			return nil, err
		}
	case MultiplyCipher:
		if b.rlk == nil {
			return nil, fmt.Errorf("no relinearization key")
		}
		if out, err = b.evaluator.MulRelinNew(ct.Ciphertext, op1); err != nil {
			return nil, err
		}
		if err = b.evaluator.Rescale(out, out); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	return ckksCiphertext{out}, nil
}

func (b *ckksBackend) Save(obj Object) ([]byte, error) {
	switch obj := obj.(type) {
	case ckksCiphertext:
		return obj.MarshalBinary()
	case ckksPlaintext:
		return obj.MarshalBinary()
	}
	return nil, fmt.Errorf("cannot save %T", obj)
}

func (b *ckksBackend) Load(kind ObjectKind, data []byte) (Object, error) {
	switch kind {
	case KindCiphertext:
		ct := new(rlwe.Ciphertext)
		if err := ct.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		if ct.Degree() != 1 || ct.N() != b.params.N() {
			return nil, fmt.Errorf("ciphertext of degree %d and ring degree %d does not match parameters", ct.Degree(), ct.N())
		}
		return ckksCiphertext{ct}, nil
	case KindPlaintext:
		pt := new(rlwe.Plaintext)
		if err := pt.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		if pt.N() != b.params.N() {
			return nil, fmt.Errorf("plaintext of ring degree %d does not match parameters", pt.N())
		}
		return ckksPlaintext{pt}, nil
	}
	return nil, fmt.Errorf("unknown object kind %s", kind)
}

func (b *ckksBackend) PublicKeys() (keys PublicKeys, err error) {
	if keys.PublicKey, err = b.pk.MarshalBinary(); err != nil {
		return keys, err
	}
	if b.rlk != nil {
		if keys.RelinearizationKey, err = b.rlk.MarshalBinary(); err != nil {
			return keys, err
		}
	}
	return keys, nil
}

func (b *ckksBackend) SecretKeyBytes() ([]byte, error) {
	if b.sk == nil {
		return nil, fmt.Errorf("backend holds no secret key")
	}
	return b.sk.MarshalBinary()
}
