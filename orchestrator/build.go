package orchestrator

import (
	"fmt"

	"github.com/ChristianMct/ecd"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/executor"
	"github.com/ChristianMct/ecd/transport/httptrans"
	"github.com/rs/zerolog"
)

// BuildExecutor returns the executor described by conf, along with a function
// releasing its resources.
func BuildExecutor(conf Config, logger zerolog.Logger) (executor.Executor, func() error, error) {
	noop := func() error { return nil }
	if err := conf.Validate(); err != nil {
		return nil, noop, err
	}
	if conf.Mode == executor.ModeLocal {
		return executor.NewLocal(), noop, nil
	}

	var (
		t      executor.Transport
		closer = noop
	)
	switch conf.Remote.Transport {
	case TransportHTTP:
		var opts []httptrans.ClientOption
		if conf.Remote.StageDir != "" {
			opts = append(opts, httptrans.WithStageDir(conf.Remote.StageDir))
		}
		t = httptrans.NewClient(conf.Remote.Address, opts...)
	case TransportGRPC:
		cc := ecd.NewComputeClient(conf.Remote.Address)
		if err := cc.Connect(); err != nil {
			return nil, noop, err
		}
		t, closer = cc, cc.Disconnect
	default:
		return nil, noop, fmt.Errorf("%w: unknown transport %q", errs.InvalidConfig, conf.Remote.Transport)
	}

	ex, err := executor.NewRemote(t,
		executor.WithRetryPolicy(conf.Remote.Retry),
		executor.WithRemoteLogger(logger.With().Str("transport", conf.Remote.Transport).Logger()))
	if err != nil {
		closer()
		return nil, noop, err
	}
	return ex, closer, nil
}
