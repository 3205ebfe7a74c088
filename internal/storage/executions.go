// internal/storage/executions.go
package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"pincollector/internal/models"
)

// CreateExecution stores item as a running execution. Creating the same
// item again succeeds; a different item under the same id is a conflict.
func (s *Storage) CreateExecution(ctx context.Context, item *models.PinItem) error {
	const op = "storage.CreateExecution"

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_executions (pin_id, country, city, content_type, image_format, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pin_id) DO NOTHING`,
		item.ID, item.Country, item.City, item.ContentType, item.ImageFormat, item.ImageBytes, models.StatusRunning)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// A retried insert whose first attempt committed finds its own row.
	var existing models.PinItem
	err = s.pool.QueryRow(ctx,
		`SELECT country, city, content_type, image_format FROM workflow_executions WHERE pin_id = $1`,
		item.ID).Scan(&existing.Country, &existing.City, &existing.ContentType, &existing.ImageFormat)
	if err != nil {
		return classify(op, err)
	}
	if !sameExecution(&existing, item) {
		return models.ErrConflict.New("%s: execution %s exists", op, item.ID)
	}
	return nil
}

func sameExecution(a, b *models.PinItem) bool {
	return a.Country == b.Country && a.City == b.City &&
		a.ContentType == b.ContentType && a.ImageFormat == b.ImageFormat
}

func (s *Storage) LoadState(ctx context.Context, pinID string) (*models.WorkflowExecutionState, error) {
	const op = "storage.LoadState"

	state := models.WorkflowExecutionState{PinID: pinID}
	var lastError *string
	err := s.pool.QueryRow(ctx,
		`SELECT status, last_error, created_at, updated_at FROM workflow_executions WHERE pin_id = $1`,
		pinID).Scan(&state.Status, &lastError, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, classify(op, err)
	}
	if lastError != nil {
		state.LastError = *lastError
	}

	rows, err := s.pool.Query(ctx,
		`SELECT step FROM workflow_checkpoints WHERE pin_id = $1 ORDER BY id`, pinID)
	if err != nil {
		return nil, classify(op, err)
	}
	steps, err := pgx.CollectRows(rows, pgx.RowTo[models.StepName])
	if err != nil {
		return nil, classify(op, err)
	}
	state.CompletedSteps = steps
	return &state, nil
}

func (s *Storage) LoadItem(ctx context.Context, pinID string) (*models.PinItem, error) {
	const op = "storage.LoadItem"

	item := models.PinItem{ID: pinID}
	err := s.pool.QueryRow(ctx,
		`SELECT country, city, content_type, image_format, payload FROM workflow_executions WHERE pin_id = $1`,
		pinID).Scan(&item.Country, &item.City, &item.ContentType, &item.ImageFormat, &item.ImageBytes)
	if err != nil {
		return nil, classify(op, err)
	}
	return &item, nil
}

// AppendCheckpoint adds step to the pin's checkpoint log.
func (s *Storage) AppendCheckpoint(ctx context.Context, pinID string, step models.StepName) error {
	const op = "storage.AppendCheckpoint"

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE workflow_executions SET updated_at = now() WHERE pin_id = $1`, pinID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_checkpoints (pin_id, step) VALUES ($1, $2)
			ON CONFLICT (pin_id, step) DO NOTHING`, pinID, step)
		return err
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (s *Storage) ReleasePayload(ctx context.Context, pinID string) error {
	const op = "storage.ReleasePayload"

	_, err := s.pool.Exec(ctx,
		`UPDATE workflow_executions SET payload = NULL WHERE pin_id = $1`, pinID)
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// Finish moves a running execution to a terminal status. Terminal
// executions are left untouched.
func (s *Storage) Finish(ctx context.Context, pinID string, status models.WorkflowStatus, lastError string) error {
	const op = "storage.Finish"

	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_executions
		SET status = $2, last_error = NULLIF($3, ''), payload = NULL, updated_at = now()
		WHERE pin_id = $1 AND status = $4`,
		pinID, status, lastError, models.StatusRunning)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE pin_id = $1)`, pinID).Scan(&exists)
	if err != nil {
		return classify(op, err)
	}
	if !exists {
		return models.ErrNotFound.New("%s: execution %s", op, pinID)
	}
	return nil
}

func (s *Storage) ListRunning(ctx context.Context) ([]string, error) {
	const op = "storage.ListRunning"

	rows, err := s.pool.Query(ctx,
		`SELECT pin_id FROM workflow_executions WHERE status = $1 ORDER BY created_at`, models.StatusRunning)
	if err != nil {
		return nil, classify(op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(op, err)
	}
	return ids, nil
}
