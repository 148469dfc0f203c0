package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// RetryPolicy retries operations that fail with a session failure or a
// retryable fetch error, backing off exponentially between attempts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NewRetryPolicy builds the policy from the engine config. max_retries counts
// retries, so the first attempt comes on top.
func NewRetryPolicy(cfg config.EngineConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  cfg.MaxRetries + 1,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Multiplier:   2,
	}
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < retry; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. onRetry is called with the failure before each retry.
// Exhaustion returns an error wrapping both types.ErrRetriesExhausted and
// the last failure.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error, onRetry func(error)) error {
	attempts := max(p.MaxAttempts, 1)

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !types.IsRetryable(err) {
			return err
		}
		last = err
		if attempt == attempts {
			break
		}

		if onRetry != nil {
			onRetry(err)
		}
		delay := p.Delay(attempt)
		var fe *types.FetchError
		if errors.As(err, &fe) && fe.RetryAfter > delay {
			delay = fe.RetryAfter
		}
		logger.Warn("retrying", "op", op, "attempt", attempt+1, "max_attempts", attempts, "delay", delay, "error", err)
		if err := pause(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, types.ErrRetriesExhausted, attempts, last)
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
