package fhe

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

type mockScheme struct{}

// Mock is a scheme that keeps slot values in the clear while tracking levels,
// scales and key ownership like a real scheme. It performs no cryptography and
// is meant for exercising the orchestration logic.
var Mock Scheme = mockScheme{}

const mockKeySize = 32

func (mockScheme) Name() string { return "mock" }

func (mockScheme) validate(p Parameters) error {
	if p.LogN < 1 || len(p.LogQ) == 0 {
		return fmt.Errorf("invalid mock parameters: LogN=%d, len(LogQ)=%d", p.LogN, len(p.LogQ))
	}
	if p.RelinearizationKey && len(p.LogP) == 0 {
		return fmt.Errorf("relinearization key requires a special modulus")
	}
	return nil
}

func (s mockScheme) GenerateKeys(p Parameters) (Backend, error) {
	if err := s.validate(p); err != nil {
		return nil, err
	}
	b := &mockBackend{params: p, sk: make([]byte, mockKeySize), pk: make([]byte, mockKeySize)}
	if _, err := rand.Read(b.sk); err != nil {
		return nil, err
	}
	if _, err := rand.Read(b.pk); err != nil {
		return nil, err
	}
	if p.RelinearizationKey {
		b.rlk = make([]byte, mockKeySize)
		if _, err := rand.Read(b.rlk); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s mockScheme) FromPublic(p Parameters, keys PublicKeys) (Backend, error) {
	if err := s.validate(p); err != nil {
		return nil, err
	}
	if len(keys.PublicKey) != mockKeySize {
		return nil, fmt.Errorf("invalid public key size %d", len(keys.PublicKey))
	}
	return &mockBackend{params: p, pk: keys.PublicKey, rlk: keys.RelinearizationKey}, nil
}

type mockBackend struct {
	params      Parameters
	sk, pk, rlk []byte
}

type mockObject struct {
	kind   ObjectKind
	level  int
	scale  float64
	values []float64
}

func (o *mockObject) Kind() ObjectKind { return o.kind }
func (o *mockObject) Level() int       { return o.level }
func (o *mockObject) Scale() float64   { return o.scale }

func (b *mockBackend) Slots() int                  { return 1 << (b.params.LogN - 1) }
func (b *mockBackend) MaxLevel() int               { return len(b.params.LogQ) - 1 }
func (b *mockBackend) DefaultScale() float64       { return math.Exp2(float64(b.params.LogDefaultScale)) }
func (b *mockBackend) HasRelinearizationKey() bool { return len(b.rlk) > 0 }
func (b *mockBackend) CanDecrypt() bool            { return b.sk != nil }

func (b *mockBackend) Encode(values []float64, level int, scale float64) (Object, error) {
	if len(values) > b.Slots() {
		return nil, fmt.Errorf("cannot encode %d values on %d slots", len(values), b.Slots())
	}
	if level < 0 || level > b.MaxLevel() {
		return nil, fmt.Errorf("level %d out of range [0, %d]", level, b.MaxLevel())
	}
	vals := make([]float64, b.Slots())
	copy(vals, values)
	return &mockObject{kind: KindPlaintext, level: level, scale: scale, values: vals}, nil
}

func (b *mockBackend) Decode(obj Object) ([]float64, error) {
	o, ok := obj.(*mockObject)
	if !ok || o.kind != KindPlaintext {
		return nil, fmt.Errorf("cannot decode %T", obj)
	}
	return append([]float64(nil), o.values...), nil
}

func (b *mockBackend) Encrypt(obj Object) (Object, error) {
	o, ok := obj.(*mockObject)
	if !ok || o.kind != KindPlaintext {
		return nil, fmt.Errorf("cannot encrypt %T", obj)
	}
	return &mockObject{kind: KindCiphertext, level: o.level, scale: o.scale, values: append([]float64(nil), o.values...)}, nil
}

func (b *mockBackend) Decrypt(obj Object) (Object, error) {
	if b.sk == nil {
		return nil, fmt.Errorf("backend holds no secret key")
	}
	o, ok := obj.(*mockObject)
	if !ok || o.kind != KindCiphertext {
		return nil, fmt.Errorf("cannot decrypt %T", obj)
	}
	return &mockObject{kind: KindPlaintext, level: o.level, scale: o.scale, values: append([]float64(nil), o.values...)}, nil
}

func (b *mockBackend) OperandScale(op Operation, ct Object) float64 {
	if op.IsMultiplicative() {
		return math.Exp2(float64(b.params.LogQ[ct.Level()]))
	}
	return ct.Scale()
}

func (b *mockBackend) Evaluate(op Operation, obj, operand Object) (Object, error) {
	ct, ok := obj.(*mockObject)
	if !ok || ct.kind != KindCiphertext {
		return nil, fmt.Errorf("cannot evaluate on %T", obj)
	}
	w, ok := operand.(*mockObject)
	if !ok {
		return nil, fmt.Errorf("invalid operand %T", operand)
	}
	if op.CipherOperand() != (w.kind == KindCiphertext) {
		return nil, fmt.Errorf("operation %s does not accept a %s operand", op, w.kind)
	}
	if op == MultiplyCipher && !b.HasRelinearizationKey() {
		return nil, fmt.Errorf("no relinearization key")
	}
	if op.IsMultiplicative() && ct.level == 0 {
		return nil, fmt.Errorf("cannot rescale at level 0")
	}

	out := &mockObject{kind: KindCiphertext, level: ct.level, scale: ct.scale, values: op.Plaintext(ct.values, w.values)}
	if op.IsMultiplicative() {
		out.level--
	}
	return out, nil
}

// Save encodes kind, level, scale and slot values. Key material is never written.
func (b *mockBackend) Save(obj Object) ([]byte, error) {
	o, ok := obj.(*mockObject)
	if !ok {
		return nil, fmt.Errorf("cannot save %T", obj)
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(o.kind))
	hdr := []any{uint32(o.level), o.scale, uint32(len(o.values)), o.values}
	for _, v := range hdr {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (b *mockBackend) Load(kind ObjectKind, data []byte) (Object, error) {
	r := bytes.NewReader(data)
	k, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if ObjectKind(k) != kind {
		return nil, fmt.Errorf("expected %s but data holds %s", kind, ObjectKind(k))
	}
	var level, n uint32
	o := &mockObject{kind: kind}
	if err := binary.Read(r, binary.BigEndian, &level); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &o.scale); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if int(n) != b.Slots() {
		return nil, fmt.Errorf("object holds %d slots, expected %d", n, b.Slots())
	}
	o.level = int(level)
	o.values = make([]float64, n)
	if err := binary.Read(r, binary.BigEndian, o.values); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return o, nil
}

func (b *mockBackend) PublicKeys() (PublicKeys, error) {
	return PublicKeys{PublicKey: b.pk, RelinearizationKey: b.rlk}, nil
}

func (b *mockBackend) SecretKeyBytes() ([]byte, error) {
	if b.sk == nil {
		return nil, fmt.Errorf("backend holds no secret key")
	}
	return b.sk, nil
}
