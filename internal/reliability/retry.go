package reliability

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// ErrTimeout is returned when an attempt exceeds the per-call deadline.
var ErrTimeout = errors.New("operation timed out")

// Operation is one attempt against a tool server. It must honor ctx
// cancellation: an abandoned attempt is waited on until it settles.
type Operation func(ctx context.Context) (json.RawMessage, error)

// retryable is implemented by errors that carry their own retry
// classification (see gateway.Error). Errors that don't are treated as
// transient, except ErrCircuitOpen.
type retryable interface {
	Retryable() bool
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

// WithTimeout races op against a deadline. On timeout the attempt's context
// is cancelled and the call blocks until op settles, so the caller's resource
// accounting (the concurrency slot) is released exactly once, when the
// underlying operation has truly finished.
func WithTimeout(ctx context.Context, timeout time.Duration, op Operation) (json.RawMessage, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := op(attemptCtx)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		cancel()
		// Wait for the abandoned attempt to settle before returning.
		<-done
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}
}

// WithRetry invokes op up to MaxAttempts times with exponential backoff.
// Permission, validation, and circuit-open failures are permanent and
// returned immediately; exhausting attempts surfaces the last error.
func WithRetry(ctx context.Context, pol RetryPolicy, op Operation) (json.RawMessage, error) {
	if pol.MaxAttempts < 1 {
		pol.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pol.InitialDelay
	bo.Multiplier = pol.BackoffMultiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var result json.RawMessage
	attempt := 0

	err := backoff.Retry(func() error {
		attempt++
		res, err := op(ctx)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			log.Debug().Int("attempt", attempt).Err(err).Msg("retryable failure")
			return err
		}
		result = res
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(pol.MaxAttempts-1)), ctx))

	if err != nil {
		return nil, err
	}
	return result, nil
}
