// Package ingest is the boundary between request handling and the pin
// ingestion workflow.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pincollector/internal/models"
	"pincollector/internal/workflow"
)

// Workflows starts and reports pin workflows.
type Workflows interface {
	Start(ctx context.Context, item *models.PinItem) (workflow.Handle, error)
	Status(ctx context.Context, pinID string) (*models.WorkflowExecutionState, error)
}

// Catalog lists stored pin records.
type Catalog interface {
	ListPins(ctx context.Context, partitionKey string) ([]models.PinRecord, error)
}

// Objects reads stored images.
type Objects interface {
	Get(ctx context.Context, container, key string) ([]byte, error)
}

type Config struct {
	PartitionKey       string
	ImageContainer     string
	ThumbnailContainer string
}

type Service struct {
	log       *zap.Logger
	cfg       Config
	workflows Workflows
	catalog   Catalog
	objects   Objects
	newID     func() string
}

func NewService(log *zap.Logger, cfg Config, workflows Workflows, catalog Catalog, objects Objects) *Service {
	return &Service{
		log:       log,
		cfg:       cfg,
		workflows: workflows,
		catalog:   catalog,
		objects:   objects,
		newID:     uuid.NewString,
	}
}

// Submit validates sub and starts its ingestion workflow.
func (s *Service) Submit(ctx context.Context, sub models.PinSubmission) (workflow.Handle, error) {
	const op = "ingest.Submit"

	if err := validate(sub); err != nil {
		return workflow.Handle{}, err
	}

	item := &models.PinItem{
		ID:          s.newID(),
		Country:     strings.TrimSpace(sub.Country),
		City:        strings.TrimSpace(sub.City),
		ContentType: strings.TrimSpace(sub.ImageContentType),
		ImageFormat: models.FormatFromContentType(sub.ImageContentType),
		ImageBytes:  sub.ImageBytes,
	}
	handle, err := s.workflows.Start(ctx, item)
	if err != nil {
		return workflow.Handle{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("pin submitted",
		zap.String("pin_id", item.ID),
		zap.String("country", item.Country),
		zap.String("city", item.City),
		zap.Int("size", len(item.ImageBytes)))
	return handle, nil
}

func validate(sub models.PinSubmission) error {
	switch {
	case strings.TrimSpace(sub.Country) == "":
		return models.ErrInvalidSubmission.New("country is required")
	case strings.TrimSpace(sub.City) == "":
		return models.ErrInvalidSubmission.New("city is required")
	case len(sub.ImageBytes) == 0:
		return models.ErrInvalidSubmission.New("image is required")
	case strings.TrimSpace(sub.ImageContentType) == "":
		return models.ErrInvalidSubmission.New("image content type is required")
	case models.FormatFromContentType(sub.ImageContentType) == "":
		return models.ErrInvalidSubmission.New("content type %q is not an image", sub.ImageContentType)
	}
	return nil
}

// Status returns the workflow state behind handle.
func (s *Service) Status(ctx context.Context, handle string) (*models.WorkflowExecutionState, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, models.ErrNotFound.New("empty handle")
	}
	return s.workflows.Status(ctx, handle)
}

// List returns all recorded pins.
func (s *Service) List(ctx context.Context) ([]models.PinRecord, error) {
	return s.catalog.ListPins(ctx, s.cfg.PartitionKey)
}

// Original returns the full size image stored under key.
func (s *Service) Original(ctx context.Context, key string) ([]byte, error) {
	return s.objects.Get(ctx, s.cfg.ImageContainer, key)
}

// Thumbnail returns the resized image stored under key.
func (s *Service) Thumbnail(ctx context.Context, key string) ([]byte, error) {
	return s.objects.Get(ctx, s.cfg.ThumbnailContainer, key)
}
