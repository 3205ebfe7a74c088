package workflow

import (
	"context"
	"fmt"

	"pincollector/internal/imagecodec"
	"pincollector/internal/models"
)

// StepOutcome is what a successful step run reports.
type StepOutcome string

const (
	OutcomeSucceeded    StepOutcome = "succeeded"
	OutcomeNotSupported StepOutcome = "not_supported"
	OutcomeTransient    StepOutcome = "transient_failure"
	OutcomePermanent    StepOutcome = "permanent_failure"
	OutcomeInterrupted  StepOutcome = "interrupted"
)

// Step is one unit of the pipeline. Run must be idempotent: it can be
// executed again after a crash that happened before its checkpoint.
type Step struct {
	Name models.StepName
	Run  func(ctx context.Context, item *models.PinItem) (StepOutcome, error)
}

// StepConfig holds the step tunables.
type StepConfig struct {
	PartitionKey       string
	ImageContainer     string
	ThumbnailContainer string
	ThumbnailWidth     int
}

type pipeline struct {
	cfg      StepConfig
	metadata MetadataStore
	blobs    BlobStore
}

// NewSteps builds the fixed pin ingestion pipeline.
func NewSteps(cfg StepConfig, metadata MetadataStore, blobs BlobStore) []Step {
	p := &pipeline{cfg: cfg, metadata: metadata, blobs: blobs}
	return []Step{
		{Name: models.StepWriteMetadata, Run: p.writeMetadata},
		{Name: models.StepUploadOriginal, Run: p.uploadOriginal},
		{Name: models.StepGenerateThumbnail, Run: p.generateThumbnail},
	}
}

func (p *pipeline) writeMetadata(ctx context.Context, item *models.PinItem) (StepOutcome, error) {
	const op = "workflow.writeMetadata"

	record := models.PinRecord{
		PartitionKey: p.cfg.PartitionKey,
		RowKey:       item.ID,
		Country:      item.Country,
		City:         item.City,
		ImageKey:     item.OriginalKey(),
	}
	existing, err := p.metadata.InsertIfAbsent(ctx, record)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil && *existing != record {
		return "", models.ErrConflict.New("pin %s already recorded as %s/%s", item.ID, existing.Country, existing.City)
	}
	return OutcomeSucceeded, nil
}

func (p *pipeline) uploadOriginal(ctx context.Context, item *models.PinItem) (StepOutcome, error) {
	const op = "workflow.uploadOriginal"

	if err := p.ensureContainer(ctx, p.cfg.ImageContainer); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if item.ImageBytes == nil {
		// payload already released; the object was stored by an earlier run
		if _, err := p.blobs.Get(ctx, p.cfg.ImageContainer, item.OriginalKey()); err != nil {
			return "", fmt.Errorf("%s: payload released and original missing: %w", op, err)
		}
		return OutcomeSucceeded, nil
	}
	if err := p.blobs.Put(ctx, p.cfg.ImageContainer, item.OriginalKey(), item.ImageBytes, item.ContentType); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return OutcomeSucceeded, nil
}

func (p *pipeline) generateThumbnail(ctx context.Context, item *models.PinItem) (StepOutcome, error) {
	const op = "workflow.generateThumbnail"

	enc, err := imagecodec.DetectEncoder(item.ContentType)
	if err != nil {
		if imagecodec.ErrNotSupported.Has(err) {
			return OutcomeNotSupported, nil
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	data := item.ImageBytes
	if data == nil {
		data, err = p.blobs.Get(ctx, p.cfg.ImageContainer, item.OriginalKey())
		if err != nil {
			return "", fmt.Errorf("%s: read original: %w", op, err)
		}
	}

	thumb, err := imagecodec.Resize(data, enc, p.cfg.ThumbnailWidth)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := p.ensureContainer(ctx, p.cfg.ThumbnailContainer); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := p.blobs.Put(ctx, p.cfg.ThumbnailContainer, item.ThumbnailKey(), thumb.Data, enc.ContentType); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return OutcomeSucceeded, nil
}

func (p *pipeline) ensureContainer(ctx context.Context, container string) error {
	ok, err := p.blobs.Exists(ctx, container)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrUnavailable.New("container %q does not exist", container)
	}
	return nil
}
