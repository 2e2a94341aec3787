package scheme

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{
	Scheme:              SchemeCKKS,
	PolyModulusDegree:   4096,
	CoeffModulusBits:    []int{50, 35, 35, 50},
	ScaleBits:           30,
	MultiplicativeDepth: 2,
}

var testSchemes = []fhe.Scheme{fhe.CKKS, fhe.Mock}

func TestConfigValidate(t *testing.T) {
	mutate := func(f func(c *Config)) Config {
		c := testConfig.Clone()
		f(&c)
		return c
	}

	for _, tc := range []struct {
		name  string
		conf  Config
		valid bool
	}{
		{"valid", testConfig, true},
		{"default", DefaultConfig(), true},
		{"single-modulus", Config{Scheme: SchemeCKKS, PolyModulusDegree: 4096, CoeffModulusBits: []int{50}, ScaleBits: 30}, true},
		{"scheme", mutate(func(c *Config) { c.Scheme = "bfv" }), false},
		{"degree-small", mutate(func(c *Config) { c.PolyModulusDegree = 512 }), false},
		{"degree-not-pow2", mutate(func(c *Config) { c.PolyModulusDegree = 3000 }), false},
		{"empty-modulus", mutate(func(c *Config) { c.CoeffModulusBits = nil }), false},
		{"modulus-too-large", mutate(func(c *Config) { c.CoeffModulusBits = []int{61, 40, 61} }), false},
		{"depth", mutate(func(c *Config) { c.MultiplicativeDepth = 3 }), false},
		{"scale-equal", mutate(func(c *Config) { c.ScaleBits = 35 }), false},
		{"scale-zero", mutate(func(c *Config) { c.ScaleBits = 0 }), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.conf.Validate()
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errs.InvalidConfig)
			_, err = NewContext(tc.conf, WithScheme(fhe.Mock))
			require.ErrorIs(t, err, errs.InvalidConfig)
		})
	}
}

func TestConfigParameters(t *testing.T) {
	p, err := testConfig.Parameters()
	require.NoError(t, err)
	require.Equal(t, 12, p.LogN)
	require.Equal(t, []int{50, 35, 35}, p.LogQ)
	require.Equal(t, []int{50}, p.LogP)
	require.True(t, p.RelinearizationKey)

	p, err = Config{Scheme: SchemeCKKS, PolyModulusDegree: 4096, CoeffModulusBits: []int{50}, ScaleBits: 30}.Parameters()
	require.NoError(t, err)
	require.Equal(t, []int{50}, p.LogQ)
	require.Empty(t, p.LogP)
	require.False(t, p.RelinearizationKey)

	// no ciphertext products at depth 0, so no relinearization key either
	noMul := testConfig.Clone()
	noMul.MultiplicativeDepth = 0
	p, err = noMul.Parameters()
	require.NoError(t, err)
	require.Equal(t, []int{50}, p.LogP)
	require.False(t, p.RelinearizationKey)

	for _, s := range testSchemes {
		sc, err := NewContext(noMul, WithScheme(s))
		require.NoError(t, err)
		require.False(t, sc.HasRelinearizationKey(), s.Name())
		pm, err := sc.PublicMaterial()
		require.NoError(t, err)
		require.Empty(t, pm.RelinearizationKey)
	}
}

func TestContextIsolation(t *testing.T) {
	for _, s := range testSchemes {
		t.Run(s.Name(), func(t *testing.T) {
			c1, err := NewContext(testConfig, WithScheme(s))
			require.NoError(t, err)
			c2, err := NewContext(testConfig, WithScheme(s))
			require.NoError(t, err)
			require.NotEqual(t, c1.Fingerprint(), c2.Fingerprint())

			pt, err := c1.Encode([]float64{1, 2, 3})
			require.NoError(t, err)
			ct, err := c1.Encrypt(pt)
			require.NoError(t, err)

			_, err = c2.Decrypt(ct)
			require.ErrorIs(t, err, errs.ContextMismatch)
		})
	}
}

func TestMonotoneLevels(t *testing.T) {
	for _, s := range testSchemes {
		for _, op := range []fhe.Operation{fhe.MultiplyPlain, fhe.MultiplyCipher} {
			t.Run(fmt.Sprintf("%s/%s", s.Name(), op), func(t *testing.T) {
				c, err := NewContext(testConfig, WithScheme(s))
				require.NoError(t, err)

				values := []float64{1.5, -2, 3}
				pt, err := c.Encode(values)
				require.NoError(t, err)
				ct, err := c.Encrypt(pt)
				require.NoError(t, err)
				require.Equal(t, c.MaxLevel(), ct.Level())

				expected := values
				for k := 1; k <= c.MaxLevel(); k++ {
					operand, err := c.EncodeOperand(op, ct, []float64{2, 2, 2})
					require.NoError(t, err)
					ct, err = c.Evaluate(op, ct, operand)
					require.NoError(t, err)
					require.Equal(t, c.MaxLevel()-k, ct.Level())
					require.InEpsilon(t, c.DefaultScale(), ct.Scale(), 1e-6)
					expected = op.Plaintext(expected, []float64{2, 2, 2})
				}

				operand, err := c.EncodeOperand(op, ct, []float64{2, 2, 2})
				require.NoError(t, err)
				_, err = c.Evaluate(op, ct, operand)
				require.ErrorIs(t, err, errs.LevelExhausted)

				// additions remain available at level 0
				operand, err = c.EncodeOperand(fhe.AddPlain, ct, []float64{1, 1, 1})
				require.NoError(t, err)
				ct, err = c.Evaluate(fhe.AddPlain, ct, operand)
				require.NoError(t, err)

				pt, err = c.Decrypt(ct)
				require.NoError(t, err)
				got, err := c.Decode(pt)
				require.NoError(t, err)
				require.Len(t, got, len(values))
				for i := range expected {
					require.InDelta(t, expected[i]+1, got[i], 1e-2)
				}
			})
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	c, err := NewContext(testConfig, WithScheme(fhe.Mock))
	require.NoError(t, err)
	pt, err := c.Encode([]float64{1, 2})
	require.NoError(t, err)
	ct, err := c.Encrypt(pt)
	require.NoError(t, err)

	_, err = c.EncodeOperand("rotate", ct, []float64{1})
	require.ErrorIs(t, err, errs.UnsupportedOperation)
	_, err = c.Evaluate("rotate", ct, pt)
	require.ErrorIs(t, err, errs.UnsupportedOperation)
	require.Contains(t, err.Error(), "rotate")

	// plaintext operand for a ciphertext operation
	_, err = c.Evaluate(fhe.AddCipher, ct, pt)
	require.ErrorIs(t, err, errs.OperandMismatch)

	// wrong level
	low, err := c.EncodeAt([]float64{1}, ct.Level()-1, ct.Scale())
	require.NoError(t, err)
	_, err = c.Evaluate(fhe.AddPlain, ct, low)
	require.ErrorIs(t, err, errs.OperandMismatch)

	// wrong scale
	scaled, err := c.EncodeAt([]float64{1}, ct.Level(), 2*ct.Scale())
	require.NoError(t, err)
	_, err = c.Evaluate(fhe.AddPlain, ct, scaled)
	require.ErrorIs(t, err, errs.OperandMismatch)

	// oversized input
	_, err = c.Encode(make([]float64, c.Slots()+1))
	require.ErrorIs(t, err, errs.InvalidInput)

	// ciphertext products without relinearization key
	single, err := NewContext(Config{Scheme: SchemeCKKS, PolyModulusDegree: 4096, CoeffModulusBits: []int{50}, ScaleBits: 30}, WithScheme(fhe.Mock))
	require.NoError(t, err)
	require.False(t, single.HasRelinearizationKey())
	spt, err := single.Encode([]float64{1})
	require.NoError(t, err)
	sct, err := single.Encrypt(spt)
	require.NoError(t, err)
	_, err = single.Evaluate(fhe.MultiplyCipher, sct, sct)
	require.ErrorIs(t, err, errs.UnsupportedOperation)
	w, err := single.EncodeOperand(fhe.MultiplyPlain, sct, []float64{2})
	require.NoError(t, err)
	_, err = single.Evaluate(fhe.MultiplyPlain, sct, w)
	require.ErrorIs(t, err, errs.LevelExhausted)
}

func TestPublicMaterial(t *testing.T) {
	for _, s := range testSchemes {
		t.Run(s.Name(), func(t *testing.T) {
			c, err := NewContext(testConfig, WithScheme(s))
			require.NoError(t, err)

			pm, err := c.PublicMaterial()
			require.NoError(t, err)
			sk, err := c.SecretKeyBytes()
			require.NoError(t, err)

			data, err := pm.MarshalBinary()
			require.NoError(t, err)
			require.NotContains(t, string(data), string(sk))

			var pm2 PublicMaterial
			require.NoError(t, pm2.UnmarshalBinary(data))
			require.True(t, pm.Config.Equal(pm2.Config))
			require.Equal(t, pm.PublicKey, pm2.PublicKey)
			require.Equal(t, pm.RelinearizationKey, pm2.RelinearizationKey)

			fp, err := pm2.Fingerprint()
			require.NoError(t, err)
			require.Equal(t, c.Fingerprint(), fp)

			ec, err := NewEvaluationContext(pm2, WithScheme(s))
			require.NoError(t, err)
			require.Equal(t, c.Fingerprint(), ec.Fingerprint())
			require.False(t, ec.CanDecrypt())

			pt, err := ec.Encode([]float64{1})
			require.NoError(t, err)
			ct, err := ec.Encrypt(pt)
			require.NoError(t, err)
			_, err = ec.Decrypt(ct)
			require.True(t, errors.Is(err, errs.UnsupportedOperation))
		})
	}
}

func TestParseFingerprint(t *testing.T) {
	c, err := NewContext(testConfig, WithScheme(fhe.Mock))
	require.NoError(t, err)
	fp, err := ParseFingerprint(c.Fingerprint().String())
	require.NoError(t, err)
	require.Equal(t, c.Fingerprint(), fp)
	_, err = ParseFingerprint("abcd")
	require.Error(t, err)
}
