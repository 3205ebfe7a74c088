// internal/storage/metadata.go
package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"pincollector/internal/models"
)

func (s *Storage) InsertIfAbsent(ctx context.Context, record models.PinRecord) (*models.PinRecord, error) {
	const op = "storage.InsertIfAbsent"

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pins (partition_key, row_key, country, city, image_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (partition_key, row_key) DO NOTHING`,
		record.PartitionKey, record.RowKey, record.Country, record.City, record.ImageKey)
	if err != nil {
		return nil, classify(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	existing := models.PinRecord{PartitionKey: record.PartitionKey, RowKey: record.RowKey}
	err = s.pool.QueryRow(ctx,
		`SELECT country, city, image_key FROM pins WHERE partition_key = $1 AND row_key = $2`,
		record.PartitionKey, record.RowKey).Scan(&existing.Country, &existing.City, &existing.ImageKey)
	if err != nil {
		return nil, classify(op, err)
	}
	return &existing, nil
}

// ListPins returns every pin of the partition, oldest first.
func (s *Storage) ListPins(ctx context.Context, partitionKey string) ([]models.PinRecord, error) {
	const op = "storage.ListPins"

	rows, err := s.pool.Query(ctx,
		`SELECT partition_key, row_key, country, city, image_key
		FROM pins WHERE partition_key = $1 ORDER BY created_at, row_key`, partitionKey)
	if err != nil {
		return nil, classify(op, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PinRecord, error) {
		var r models.PinRecord
		err := row.Scan(&r.PartitionKey, &r.RowKey, &r.Country, &r.City, &r.ImageKey)
		return r, err
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return records, nil
}
