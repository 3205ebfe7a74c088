// internal/models/pin.go
package models

import (
	"slices"
	"strings"
	"time"
)

// PinSubmission is a validated upload handed over by the request boundary.
type PinSubmission struct {
	Country          string
	City             string
	ImageBytes       []byte
	ImageContentType string
}

// PinItem is the unit of work driven through the ingestion workflow.
type PinItem struct {
	ID          string `json:"id"`
	Country     string `json:"country"`
	City        string `json:"city"`
	ContentType string `json:"content_type"`
	// ImageFormat is the content-type subtype ("png", "jpeg", "bmp", ...).
	ImageFormat string `json:"image_format"`
	ImageBytes  []byte `json:"-"`
}

// OriginalKey is the blob key of the full size image.
func (p *PinItem) OriginalKey() string {
	return OriginalKey(p.ID, p.ImageFormat)
}

// ThumbnailKey is the blob key of the resized image.
func (p *PinItem) ThumbnailKey() string {
	return ThumbnailKey(p.ID, p.ImageFormat)
}

func OriginalKey(id, format string) string {
	return id + "." + format
}

func ThumbnailKey(id, format string) string {
	return id + ".thumb." + format
}

// FormatFromContentType returns the subtype of an image content type, or ""
// when the value is not of the form image/<subtype>.
func FormatFromContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	subtype, ok := strings.CutPrefix(ct, "image/")
	if !ok {
		return ""
	}
	// keys are built from the subtype, keep it path safe
	var b strings.Builder
	for _, r := range subtype {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PinRecord is the metadata row written for every pin.
type PinRecord struct {
	PartitionKey string `json:"-"`
	RowKey       string `json:"id"`
	Country      string `json:"country"`
	City         string `json:"city"`
	ImageKey     string `json:"image"`
}

type StepName string

const (
	StepWriteMetadata     StepName = "write_metadata"
	StepUploadOriginal    StepName = "upload_original"
	StepGenerateThumbnail StepName = "generate_thumbnail"
)

// Steps is the fixed pipeline order.
var Steps = []StepName{StepWriteMetadata, StepUploadOriginal, StepGenerateThumbnail}

type WorkflowStatus string

const (
	StatusRunning   WorkflowStatus = "running"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
)

// WorkflowExecutionState is the persisted control state of one pin's workflow.
type WorkflowExecutionState struct {
	PinID          string         `json:"pin_id"`
	CompletedSteps []StepName     `json:"completed_steps"`
	Status         WorkflowStatus `json:"status"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (s *WorkflowExecutionState) HasCompleted(step StepName) bool {
	return slices.Contains(s.CompletedSteps, step)
}

func (s *WorkflowExecutionState) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

func (s *WorkflowExecutionState) Clone() *WorkflowExecutionState {
	c := *s
	c.CompletedSteps = slices.Clone(s.CompletedSteps)
	return &c
}
