package scheme

import (
	"fmt"
	"math/bits"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
)

const (
	// SchemeCKKS is the only supported scheme kind.
	SchemeCKKS = "ckks"

	MinPolyModulusDegree  = 1024
	MaxModulusBits        = 60
	MaxSpecialModulusBits = 61
)

// Config is the user-facing scheme configuration.
//
// CoeffModulusBits follows the usual convention of approximate-arithmetic
// libraries: with a single entry, it is the whole ciphertext modulus. With n >= 2
// entries, the first n-1 entries form the ciphertext modulus chain and the last one
// is the special modulus used for key switching, which leaves n-2 levels for
// multiplications.
type Config struct {
	Scheme              string `toml:"scheme" json:"scheme"`
	PolyModulusDegree   int    `toml:"poly_modulus_degree" json:"poly_modulus_degree"`
	CoeffModulusBits    []int  `toml:"coeff_modulus_bits" json:"coeff_modulus_bits"`
	ScaleBits           int    `toml:"scale_bits" json:"scale_bits"`
	MultiplicativeDepth int    `toml:"multiplicative_depth" json:"multiplicative_depth"`
}

// DefaultConfig returns a configuration supporting two multiplications.
func DefaultConfig() Config {
	return Config{
		Scheme:              SchemeCKKS,
		PolyModulusDegree:   8192,
		CoeffModulusBits:    []int{60, 40, 40, 60},
		ScaleBits:           30,
		MultiplicativeDepth: 2,
	}
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	c.CoeffModulusBits = append([]int(nil), c.CoeffModulusBits...)
	return c
}

// Equal returns whether the two configurations are identical.
func (c Config) Equal(other Config) bool {
	if c.Scheme != other.Scheme || c.PolyModulusDegree != other.PolyModulusDegree ||
		c.ScaleBits != other.ScaleBits || c.MultiplicativeDepth != other.MultiplicativeDepth ||
		len(c.CoeffModulusBits) != len(other.CoeffModulusBits) {
		return false
	}
	for i := range c.CoeffModulusBits {
		if c.CoeffModulusBits[i] != other.CoeffModulusBits[i] {
			return false
		}
	}
	return true
}

// AvailableDepth returns the number of multiplications the modulus chain supports.
func (c Config) AvailableDepth() int {
	if n := len(c.CoeffModulusBits); n > 2 {
		return n - 2
	}
	return 0
}

// Validate checks the configuration and returns an error wrapping errs.InvalidConfig
// if it is malformed.
func (c Config) Validate() error {
	if c.Scheme != SchemeCKKS {
		return fmt.Errorf("%w: unsupported scheme %q", errs.InvalidConfig, c.Scheme)
	}
	if c.PolyModulusDegree < MinPolyModulusDegree || bits.OnesCount(uint(c.PolyModulusDegree)) != 1 {
		return fmt.Errorf("%w: polynomial modulus degree %d is not a power of two >= %d", errs.InvalidConfig, c.PolyModulusDegree, MinPolyModulusDegree)
	}
	n := len(c.CoeffModulusBits)
	if n == 0 {
		return fmt.Errorf("%w: empty coefficient modulus", errs.InvalidConfig)
	}
	minBits := c.CoeffModulusBits[0]
	for i, b := range c.CoeffModulusBits {
		limit := MaxModulusBits
		if n > 1 && i == n-1 {
			limit = MaxSpecialModulusBits
		}
		if b <= 0 || b > limit {
			return fmt.Errorf("%w: coefficient modulus %d has %d bits, must be in [1, %d]", errs.InvalidConfig, i, b, limit)
		}
		minBits = min(minBits, b)
	}
	if c.MultiplicativeDepth < 0 || c.MultiplicativeDepth > c.AvailableDepth() {
		return fmt.Errorf("%w: multiplicative depth %d not supported by %d coefficient moduli (max %d)",
			errs.InvalidConfig, c.MultiplicativeDepth, n, c.AvailableDepth())
	}
	if c.ScaleBits <= 0 || c.ScaleBits >= minBits {
		return fmt.Errorf("%w: scale of %d bits must be positive and smaller than the smallest coefficient modulus (%d bits)",
			errs.InvalidConfig, c.ScaleBits, minBits)
	}
	return nil
}

// Parameters validates the configuration and maps it to backend parameters.
func (c Config) Parameters() (fhe.Parameters, error) {
	if err := c.Validate(); err != nil {
		return fhe.Parameters{}, err
	}
	p := fhe.Parameters{
		LogN:            bits.TrailingZeros(uint(c.PolyModulusDegree)),
		LogDefaultScale: c.ScaleBits,
	}
	n := len(c.CoeffModulusBits)
	if n == 1 {
		p.LogQ = []int{c.CoeffModulusBits[0]}
		return p, nil
	}
	p.LogQ = append([]int(nil), c.CoeffModulusBits[:n-1]...)
	p.LogP = []int{c.CoeffModulusBits[n-1]}
	p.RelinearizationKey = c.MultiplicativeDepth >= 1
	return p, nil
}
