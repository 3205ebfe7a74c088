package workflow

import (
	"context"

	"pincollector/internal/models"
)

// MetadataStore persists pin records.
type MetadataStore interface {
	// InsertIfAbsent inserts record. When a record with the same key already
	// exists it is returned and nothing is written.
	InsertIfAbsent(ctx context.Context, record models.PinRecord) (*models.PinRecord, error)
}

// BlobStore persists image bytes by container and key.
type BlobStore interface {
	Exists(ctx context.Context, container string) (bool, error)
	Put(ctx context.Context, container, key string, data []byte, contentType string) error
	Get(ctx context.Context, container, key string) ([]byte, error)
}

// StateStore is the durable checkpoint log of workflow executions.
type StateStore interface {
	// CreateExecution records a running execution together with the staged item.
	CreateExecution(ctx context.Context, item *models.PinItem) error
	LoadState(ctx context.Context, pinID string) (*models.WorkflowExecutionState, error)
	// LoadItem returns the staged item. ImageBytes is nil once the payload
	// has been released.
	LoadItem(ctx context.Context, pinID string) (*models.PinItem, error)
	// AppendCheckpoint records step as completed. Appending an existing
	// checkpoint is a no-op.
	AppendCheckpoint(ctx context.Context, pinID string, step models.StepName) error
	ReleasePayload(ctx context.Context, pinID string) error
	Finish(ctx context.Context, pinID string, status models.WorkflowStatus, lastError string) error
	ListRunning(ctx context.Context) ([]string, error)
}

// Dispatcher hands a workflow over to an asynchronous executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, pinID string) error
}

// Handler executes the workflow of a single pin.
type Handler func(ctx context.Context, pinID string) error
