package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/executor"
	"github.com/ChristianMct/ecd/scheme"
)

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config is the configuration of an orchestrator and of its executor.
type Config struct {
	Scheme scheme.Config
	Mode   executor.Mode
	Remote RemoteConfig
	// Runs is the number of workflow repetitions of a measurement campaign.
	Runs int
	// Parallelism bounds the number of concurrent runs. Runs are sequential if
	// it is at most one.
	Parallelism int
	// Warmup is the number of workflows run before a campaign and left out of
	// its statistics.
	Warmup int
	// Sizes, if set, are the input lengths of a data-size sweep.
	Sizes []int
}

// RemoteConfig configures the remote executor and its transport.
type RemoteConfig struct {
	Transport string
	Address   string
	// StageDir, if set, makes the HTTP transport stage request bodies in
	// temporary files under it.
	StageDir string
	Retry    executor.RetryPolicy
}

// DefaultConfig returns a configuration running a single local workflow with
// the default scheme configuration.
func DefaultConfig() Config {
	return Config{
		Scheme: scheme.DefaultConfig(),
		Mode:   executor.ModeLocal,
		Remote: RemoteConfig{
			Transport: TransportHTTP,
			Address:   "http://localhost:8080",
			Retry:     executor.DefaultRetryPolicy(),
		},
		Runs:        1,
		Parallelism: 1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Scheme.Validate(); err != nil {
		return err
	}
	if _, err := executor.ParseMode(string(c.Mode)); err != nil {
		return fmt.Errorf("%w: %w", errs.InvalidConfig, err)
	}
	if c.Runs < 1 {
		return fmt.Errorf("%w: runs must be positive, got %d", errs.InvalidConfig, c.Runs)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("%w: parallelism must be positive, got %d", errs.InvalidConfig, c.Parallelism)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("%w: warmup must not be negative, got %d", errs.InvalidConfig, c.Warmup)
	}
	if err := validateSizes(c.Sizes); err != nil {
		return fmt.Errorf("%w: %w", errs.InvalidConfig, err)
	}
	if c.Mode != executor.ModeRemote {
		return nil
	}
	if c.Remote.Transport != TransportHTTP && c.Remote.Transport != TransportGRPC {
		return fmt.Errorf("%w: unknown transport %q", errs.InvalidConfig, c.Remote.Transport)
	}
	if c.Remote.Address == "" {
		return fmt.Errorf("%w: remote mode requires an address", errs.InvalidConfig)
	}
	return c.Remote.Retry.Validate()
}

type fileConfig struct {
	Scheme      scheme.Config    `toml:"scheme"`
	Mode        string           `toml:"mode"`
	Remote      fileRemoteConfig `toml:"remote"`
	Runs        int              `toml:"runs"`
	Parallelism int              `toml:"parallelism"`
	Warmup      int              `toml:"warmup"`
	Sizes       []int            `toml:"sizes"`
}

type fileRemoteConfig struct {
	Transport  string  `toml:"transport"`
	Address    string  `toml:"address"`
	StageDir   string  `toml:"stage_dir"`
	Timeout    string  `toml:"timeout"`
	MaxRetries int     `toml:"max_retries"`
	BaseDelay  string  `toml:"base_delay"`
	MaxDelay   string  `toml:"max_delay"`
	Multiplier float64 `toml:"multiplier"`
	Jitter     float64 `toml:"jitter"`
}

// LoadConfig reads the TOML file at path over DefaultConfig and validates the
// result. Keys absent from the file keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: load config: %w", errs.InvalidConfig, err)
	}

	if meta.IsDefined("scheme", "scheme") {
		cfg.Scheme.Scheme = strings.TrimSpace(raw.Scheme.Scheme)
	}
	if meta.IsDefined("scheme", "poly_modulus_degree") {
		cfg.Scheme.PolyModulusDegree = raw.Scheme.PolyModulusDegree
	}
	if meta.IsDefined("scheme", "coeff_modulus_bits") {
		cfg.Scheme.CoeffModulusBits = raw.Scheme.CoeffModulusBits
	}
	if meta.IsDefined("scheme", "scale_bits") {
		cfg.Scheme.ScaleBits = raw.Scheme.ScaleBits
	}
	if meta.IsDefined("scheme", "multiplicative_depth") {
		cfg.Scheme.MultiplicativeDepth = raw.Scheme.MultiplicativeDepth
	}

	if meta.IsDefined("mode") {
		cfg.Mode = executor.Mode(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("runs") {
		cfg.Runs = raw.Runs
	}
	if meta.IsDefined("parallelism") {
		cfg.Parallelism = raw.Parallelism
	}
	if meta.IsDefined("warmup") {
		cfg.Warmup = raw.Warmup
	}
	if meta.IsDefined("sizes") {
		cfg.Sizes = raw.Sizes
	}

	if meta.IsDefined("remote", "transport") {
		cfg.Remote.Transport = strings.TrimSpace(raw.Remote.Transport)
	}
	if meta.IsDefined("remote", "address") {
		cfg.Remote.Address = strings.TrimSpace(raw.Remote.Address)
	}
	if meta.IsDefined("remote", "stage_dir") {
		cfg.Remote.StageDir = strings.TrimSpace(raw.Remote.StageDir)
	}
	if meta.IsDefined("remote", "max_retries") {
		cfg.Remote.Retry.MaxRetries = raw.Remote.MaxRetries
	}
	if meta.IsDefined("remote", "multiplier") {
		cfg.Remote.Retry.Backoff.Multiplier = raw.Remote.Multiplier
	}
	if meta.IsDefined("remote", "jitter") {
		cfg.Remote.Retry.Backoff.Jitter = raw.Remote.Jitter
	}
	for _, d := range []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"timeout", raw.Remote.Timeout, &cfg.Remote.Retry.Timeout},
		{"base_delay", raw.Remote.BaseDelay, &cfg.Remote.Retry.Backoff.BaseDelay},
		{"max_delay", raw.Remote.MaxDelay, &cfg.Remote.Retry.Backoff.MaxDelay},
	} {
		if !meta.IsDefined("remote", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse remote.%s: %w", errs.InvalidConfig, d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
