package workflow_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pincollector/internal/models"
	"pincollector/internal/workflow"
	"pincollector/internal/workflow/workflowtest"
)

func TestPool_RunsDispatchedWorkflows(t *testing.T) {
	log := zaptest.NewLogger(t)
	states := workflowtest.NewStates()
	metadata := workflowtest.NewMetadata()
	blobs := workflowtest.NewBlobs(imageContainer, thumbContainer)
	pool := workflow.NewPool(log, 3, 16, 10*time.Millisecond)

	steps := workflow.NewSteps(workflow.StepConfig{
		PartitionKey:       partitionKey,
		ImageContainer:     imageContainer,
		ThumbnailContainer: thumbContainer,
		ThumbnailWidth:     50,
	}, metadata, blobs)
	engine := workflow.NewEngine(log, states, steps, pool, workflow.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}, workflow.NewMetrics(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, pool.Run(ctx, engine.Resume))
	}()

	ids := []string{"p1", "p2", "p3", "p4", "p5"}
	for _, id := range ids {
		_, err := engine.Start(ctx, pinItem(id, "image/png", pngBytes(t, 120, 60)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			state, err := engine.Status(ctx, id)
			if err != nil || state.Status != models.StatusCompleted {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)

	assert.Len(t, metadata.Records(), len(ids))
	assert.Len(t, blobs.Keys(thumbContainer), len(ids))

	cancel()
	wg.Wait()

	err := pool.Dispatch(context.Background(), "late")
	require.ErrorIs(t, err, workflow.ErrPoolClosed)
}

func startPool(t *testing.T, pool *workflow.Pool, handle workflow.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, pool.Run(ctx, handle))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPool_RequeuesAfterCheckpointOutage(t *testing.T) {
	log := zaptest.NewLogger(t)
	states := workflowtest.NewStates()
	metadata := workflowtest.NewMetadata()
	blobs := workflowtest.NewBlobs(imageContainer, thumbContainer)
	pool := workflow.NewPool(log, 1, 4, 5*time.Millisecond)

	// the first four checkpoint writes fail, outlasting two resumes
	var failures atomic.Int32
	states.CheckpointHook = func(string, models.StepName) error {
		if failures.Add(1) <= 4 {
			return models.ErrUnavailable.New("database restarting")
		}
		return nil
	}

	steps := workflow.NewSteps(workflow.StepConfig{
		PartitionKey:       partitionKey,
		ImageContainer:     imageContainer,
		ThumbnailContainer: thumbContainer,
		ThumbnailWidth:     50,
	}, metadata, blobs)
	engine := workflow.NewEngine(log, states, steps, pool, workflow.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}, workflow.NewMetrics(prometheus.NewRegistry()))

	var resumes atomic.Int32
	startPool(t, pool, func(ctx context.Context, pinID string) error {
		resumes.Add(1)
		return engine.Resume(ctx, pinID)
	})

	ctx := context.Background()
	_, err := engine.Start(ctx, pinItem("p1", "image/png", pngBytes(t, 100, 50)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := engine.Status(ctx, "p1")
		return err == nil && state.Status == models.StatusCompleted
	}, 10*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(3), resumes.Load())
	assert.Len(t, metadata.Records(), 1)
	assert.Equal(t, []string{"p1.thumb.png"}, blobs.Keys(thumbContainer))
}

func TestPool_DropsPermanentFailures(t *testing.T) {
	pool := workflow.NewPool(zaptest.NewLogger(t), 1, 4, time.Millisecond)

	var mu sync.Mutex
	calls := map[string]int{}
	startPool(t, pool, func(ctx context.Context, pinID string) error {
		mu.Lock()
		calls[pinID]++
		mu.Unlock()
		if pinID == "ghost" {
			return models.ErrNotFound.New("execution %s", pinID)
		}
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Dispatch(ctx, "ghost"))
	require.NoError(t, pool.Dispatch(ctx, "p1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["p1"] == 1
	}, 5*time.Second, time.Millisecond)

	// a requeue would have happened well within this window
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls["ghost"])
}
