package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pincollector/internal/models"
	"pincollector/internal/storage"
	"pincollector/internal/workflow"
)

var (
	_ workflow.StateStore    = (*storage.Storage)(nil)
	_ workflow.MetadataStore = (*storage.Storage)(nil)
)

func openStorage(t *testing.T) *storage.Storage {
	t.Helper()
	dsn := os.Getenv("PINCOLLECTOR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PINCOLLECTOR_TEST_DATABASE_URL not set")
	}
	db, err := storage.NewStorage(context.Background(), zaptest.NewLogger(t), dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestStorage_InsertIfAbsent(t *testing.T) {
	db := openStorage(t)
	ctx := context.Background()

	partition := "test-" + uuid.NewString()
	record := models.PinRecord{
		PartitionKey: partition,
		RowKey:       uuid.NewString(),
		Country:      "Japan",
		City:         "Tokyo",
		ImageKey:     "x.png",
	}

	existing, err := db.InsertIfAbsent(ctx, record)
	require.NoError(t, err)
	assert.Nil(t, existing)

	existing, err = db.InsertIfAbsent(ctx, record)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, record, *existing)

	records, err := db.ListPins(ctx, partition)
	require.NoError(t, err)
	assert.Equal(t, []models.PinRecord{record}, records)
}

func TestStorage_CheckpointLog(t *testing.T) {
	db := openStorage(t)
	ctx := context.Background()

	item := &models.PinItem{
		ID:          uuid.NewString(),
		Country:     "Japan",
		City:        "Tokyo",
		ContentType: "image/png",
		ImageFormat: "png",
		ImageBytes:  []byte{1, 2, 3},
	}
	require.NoError(t, db.CreateExecution(ctx, item))

	require.NoError(t, db.CreateExecution(ctx, item))

	other := *item
	other.City = "Osaka"
	err := db.CreateExecution(ctx, &other)
	require.Error(t, err)
	assert.True(t, models.ErrConflict.Has(err))

	state, err := db.LoadState(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, state.Status)
	assert.Empty(t, state.CompletedSteps)

	running, err := db.ListRunning(ctx)
	require.NoError(t, err)
	assert.Contains(t, running, item.ID)

	require.NoError(t, db.AppendCheckpoint(ctx, item.ID, models.StepWriteMetadata))
	require.NoError(t, db.AppendCheckpoint(ctx, item.ID, models.StepUploadOriginal))
	require.NoError(t, db.AppendCheckpoint(ctx, item.ID, models.StepWriteMetadata))

	state, err = db.LoadState(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.StepName{models.StepWriteMetadata, models.StepUploadOriginal}, state.CompletedSteps)

	loaded, err := db.LoadItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item, loaded)

	require.NoError(t, db.ReleasePayload(ctx, item.ID))
	loaded, err = db.LoadItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.ImageBytes)

	require.NoError(t, db.Finish(ctx, item.ID, models.StatusFailed, "boom"))
	require.NoError(t, db.Finish(ctx, item.ID, models.StatusCompleted, ""))
	state, err = db.LoadState(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, "boom", state.LastError)

	err = db.Finish(ctx, uuid.NewString(), models.StatusCompleted, "")
	assert.True(t, models.ErrNotFound.Has(err))

	_, err = db.LoadState(ctx, uuid.NewString())
	assert.True(t, models.ErrNotFound.Has(err))

	err = db.AppendCheckpoint(ctx, uuid.NewString(), models.StepWriteMetadata)
	assert.True(t, models.ErrNotFound.Has(err))
}
