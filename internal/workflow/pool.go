package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Dispatch once Run has returned.
var ErrPoolClosed = errors.New("workflow pool closed")

// Pool is an in-process Dispatcher backed by a fixed set of workers.
type Pool struct {
	log     *zap.Logger
	workers int
	queue   chan string
	done    chan struct{}
	// retryDelay is the pause before a pin whose execution failed with a
	// redeliverable error is queued again.
	retryDelay time.Duration
}

func NewPool(log *zap.Logger, workers, buffer int, retryDelay time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Pool{
		log:        log,
		workers:    workers,
		queue:      make(chan string, buffer),
		done:       make(chan struct{}),
		retryDelay: retryDelay,
	}
}

// Dispatch queues pinID, blocking while the buffer is full.
func (p *Pool) Dispatch(ctx context.Context, pinID string) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case p.queue <- pinID:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued workflows with handle until ctx is canceled. A pin
// whose execution fails with a redeliverable error is queued again after
// the retry delay; other failures are logged and dropped.
func (p *Pool) Run(ctx context.Context, handle Handler) error {
	defer close(p.done)

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case pinID := <-p.queue:
					err := handle(ctx, pinID)
					switch {
					case err == nil || ctx.Err() != nil:
					case Redeliverable(err):
						p.log.Warn("workflow execution failed, requeueing",
							zap.String("pin_id", pinID), zap.Duration("delay", p.retryDelay), zap.Error(err))
						group.Go(func() error {
							p.requeue(ctx, pinID)
							return nil
						})
					default:
						p.log.Error("workflow execution failed", zap.String("pin_id", pinID), zap.Error(err))
					}
				}
			}
		})
	}
	return group.Wait()
}

func (p *Pool) requeue(ctx context.Context, pinID string) {
	timer := time.NewTimer(p.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	select {
	case p.queue <- pinID:
	case <-ctx.Done():
	}
}
