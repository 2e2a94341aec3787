package executor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ChristianMct/ecd/errs"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/backoff"
)

// RetryPolicy bounds the transport calls of a remote executor.
type RetryPolicy struct {
	// MaxRetries is the number of calls made after the first one failed.
	MaxRetries int
	// Backoff configures the delay between two calls.
	Backoff backoff.Config
	// Timeout bounds each call. Zero means no bound besides the caller's context.
	Timeout time.Duration
}

// DefaultRetryPolicy returns a policy with three retries, starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff: backoff.Config{
			BaseDelay:  100 * time.Millisecond,
			Multiplier: 2,
			Jitter:     0.2,
			MaxDelay:   5 * time.Second,
		},
		Timeout: 30 * time.Second,
	}
}

// Validate checks that the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: negative retry count %d", errs.InvalidConfig, p.MaxRetries)
	}
	if p.Backoff.BaseDelay < 0 || p.Backoff.MaxDelay < p.Backoff.BaseDelay {
		return fmt.Errorf("%w: backoff delays must satisfy 0 <= base (%s) <= max (%s)", errs.InvalidConfig, p.Backoff.BaseDelay, p.Backoff.MaxDelay)
	}
	if p.Backoff.Multiplier < 1 || p.Backoff.Jitter < 0 || p.Backoff.Jitter > 1 {
		return fmt.Errorf("%w: backoff multiplier must be >= 1 and jitter in [0, 1]", errs.InvalidConfig)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %s", errs.InvalidConfig, p.Timeout)
	}
	return nil
}

// delay returns the backoff before retry number retries, counted from zero.
// It follows the exponential strategy of the gRPC connection backoff.
func (p RetryPolicy) delay(retries int) time.Duration {
	if retries == 0 {
		return p.Backoff.BaseDelay
	}
	d, limit := float64(p.Backoff.BaseDelay), float64(p.Backoff.MaxDelay)
	for d < limit && retries > 0 {
		d *= p.Backoff.Multiplier
		retries--
	}
	if d > limit {
		d = limit
	}
	d *= 1 + p.Backoff.Jitter*(rand.Float64()*2-1)
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// retry calls call until it succeeds or the policy is exhausted, and returns the
// number of calls made. Errors wrapping an errs.Kind are permanent and returned
// as is. A cancellation of ctx stops the retries and returns the context error.
// Exhaustion returns an errs.TransportExhausted error wrapping
// the last failure.
func retry(ctx context.Context, p RetryPolicy, logger zerolog.Logger, name string, call func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		err = callOnce(ctx, p.Timeout, call)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if _, permanent := errs.KindOf(err); permanent {
			return attempt, err
		}
		if attempt > p.MaxRetries {
			return attempt, fmt.Errorf("%w: %s failed after %d attempts: %w", errs.TransportExhausted, name, attempt, err)
		}

		wait := p.delay(attempt - 1)
		logger.Warn().Err(err).Str("call", name).Int("attempt", attempt).Dur("backoff", wait).Msg("transport call failed, retrying")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

func callOnce(ctx context.Context, timeout time.Duration, call func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return call(ctx)
}
