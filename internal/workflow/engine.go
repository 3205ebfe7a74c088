// Package workflow drives pins through the ingestion pipeline and keeps a
// durable checkpoint per completed step so that execution can resume after
// a crash.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pincollector/internal/models"
)

// Handle identifies a started workflow for status polling.
type Handle struct {
	PinID string `json:"id"`
}

// StepResult is the classified result of a step execution.
type StepResult struct {
	Outcome  StepOutcome
	Attempts int
	Err      error
}

// Succeeded reports whether the step may be checkpointed.
func (r StepResult) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded || r.Outcome == OutcomeNotSupported
}

type Engine struct {
	log        *zap.Logger
	states     StateStore
	steps      []Step
	dispatcher Dispatcher
	retry      RetryPolicy
	metrics    *Metrics

	mu     sync.Mutex
	active map[string]struct{}
}

func NewEngine(log *zap.Logger, states StateStore, steps []Step, dispatcher Dispatcher, retry RetryPolicy, metrics *Metrics) *Engine {
	return &Engine{
		log:        log,
		states:     states,
		steps:      steps,
		dispatcher: dispatcher,
		retry:      retry,
		metrics:    metrics,
		active:     make(map[string]struct{}),
	}
}

// Start records the initial state of item's workflow and hands execution to
// the dispatcher. It does not wait for any step.
func (e *Engine) Start(ctx context.Context, item *models.PinItem) (Handle, error) {
	const op = "workflow.Start"

	if _, err := e.retry.do(ctx, func(ctx context.Context) error {
		return e.states.CreateExecution(ctx, item)
	}); err != nil {
		return Handle{}, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("workflow started", zap.String("pin_id", item.ID))

	if err := e.dispatcher.Dispatch(ctx, item.ID); err != nil {
		// the execution is durable and Running; Recover picks it up
		e.log.Warn("dispatch failed, workflow left for recovery",
			zap.String("pin_id", item.ID), zap.Error(err))
	}
	return Handle{PinID: item.ID}, nil
}

// Status returns a snapshot of the workflow state.
func (e *Engine) Status(ctx context.Context, pinID string) (*models.WorkflowExecutionState, error) {
	const op = "workflow.Status"

	state, err := e.states.LoadState(ctx, pinID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return state.Clone(), nil
}

// Recover dispatches every workflow still marked running, typically after
// a restart.
func (e *Engine) Recover(ctx context.Context) error {
	const op = "workflow.Recover"

	ids, err := e.states.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, id := range ids {
		if err := e.dispatcher.Dispatch(ctx, id); err != nil {
			return fmt.Errorf("%s: dispatch %s: %w", op, id, err)
		}
	}
	if len(ids) > 0 {
		e.log.Info("recovered running workflows", zap.Int("count", len(ids)))
	}
	return nil
}

// Resume executes the remaining steps of the pin's workflow. It is a no-op
// for terminal workflows and for workflows already executing in this process.
func (e *Engine) Resume(ctx context.Context, pinID string) error {
	const op = "workflow.Resume"

	if !e.acquire(pinID) {
		e.log.Debug("workflow already executing", zap.String("pin_id", pinID))
		return nil
	}
	defer e.release(pinID)

	state, err := e.states.LoadState(ctx, pinID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if state.IsTerminal() {
		return nil
	}
	item, err := e.states.LoadItem(ctx, pinID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log := e.log.With(zap.String("pin_id", pinID))
	for _, step := range e.steps {
		if state.HasCompleted(step.Name) {
			log.Debug("step already completed", zap.String("step", string(step.Name)))
			continue
		}

		result := e.runStep(ctx, log, step, item)
		switch {
		case result.Outcome == OutcomeInterrupted:
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case !result.Succeeded():
			lastError := fmt.Sprintf("%s: %v", step.Name, result.Err)
			if err := e.finish(ctx, pinID, models.StatusFailed, lastError); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			log.Error("workflow failed",
				zap.String("step", string(step.Name)),
				zap.String("outcome", string(result.Outcome)),
				zap.Int("attempts", result.Attempts),
				zap.Error(result.Err))
			return nil
		}

		if err := e.checkpoint(ctx, pinID, step.Name); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		state.CompletedSteps = append(state.CompletedSteps, step.Name)

		if step.Name == models.StepUploadOriginal {
			if err := e.states.ReleasePayload(ctx, pinID); err != nil {
				log.Warn("failed to release staged payload", zap.Error(err))
			}
		}
	}

	if err := e.finish(ctx, pinID, models.StatusCompleted, ""); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("workflow completed")
	return nil
}

func (e *Engine) runStep(ctx context.Context, log *zap.Logger, step Step, item *models.PinItem) StepResult {
	started := time.Now()
	var outcome StepOutcome
	attempts, err := e.retry.do(ctx, func(ctx context.Context) error {
		var runErr error
		outcome, runErr = step.Run(ctx, item)
		if runErr != nil && isTransient(runErr) {
			log.Warn("step attempt failed",
				zap.String("step", string(step.Name)),
				zap.Error(runErr))
		}
		return runErr
	})

	result := StepResult{Outcome: outcome, Attempts: attempts, Err: err}
	switch {
	case err == nil:
		if result.Outcome == "" {
			result.Outcome = OutcomeSucceeded
		}
	case isInterrupted(ctx):
		result.Outcome = OutcomeInterrupted
	case isTransient(err):
		result.Outcome = OutcomeTransient
	default:
		result.Outcome = OutcomePermanent
	}

	took := time.Since(started)
	e.metrics.observeStep(step.Name, result.Outcome, took)
	log.Info("step finished",
		zap.String("step", string(step.Name)),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", attempts),
		zap.Duration("duration", took))
	return result
}

func (e *Engine) checkpoint(ctx context.Context, pinID string, step models.StepName) error {
	_, err := e.retry.do(ctx, func(ctx context.Context) error {
		return e.states.AppendCheckpoint(ctx, pinID, step)
	})
	return err
}

func (e *Engine) finish(ctx context.Context, pinID string, status models.WorkflowStatus, lastError string) error {
	_, err := e.retry.do(ctx, func(ctx context.Context) error {
		return e.states.Finish(ctx, pinID, status, lastError)
	})
	if err != nil {
		return err
	}
	e.metrics.observeWorkflow(status)
	return nil
}

func (e *Engine) acquire(pinID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[pinID]; ok {
		return false
	}
	e.active[pinID] = struct{}{}
	return true
}

func (e *Engine) release(pinID string) {
	e.mu.Lock()
	delete(e.active, pinID)
	e.mu.Unlock()
}
