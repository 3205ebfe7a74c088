package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"pincollector/internal/models"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.InitialBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// do runs fn until it succeeds, returns a non transient error, or the
// attempt budget is spent. It returns the number of attempts made.
func (p RetryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++
		err := safeCall(ctx, fn)
		if err != nil && isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return attempts, err
}

func isTransient(err error) bool {
	return models.ErrUnavailable.Has(err)
}

// Redeliverable reports whether an execution that failed with err may
// succeed if the pin is handed to Resume again. Missing executions and
// conflicting records never will.
func Redeliverable(err error) bool {
	return isTransient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isInterrupted(ctx context.Context) bool {
	return ctx.Err() != nil
}

func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
