// Package workflowtest provides in-memory stores for workflow tests.
package workflowtest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"pincollector/internal/models"
)

// States is an in-memory workflow.StateStore.
type States struct {
	mu    sync.Mutex
	state map[string]*models.WorkflowExecutionState
	items map[string]*models.PinItem

	// CheckpointHook, when set, runs before a checkpoint is appended and
	// can fail it.
	CheckpointHook func(pinID string, step models.StepName) error
	// CreatedHook, when set, runs after an execution is stored and its
	// error is returned in place of success.
	CreatedHook func(pinID string) error
}

func NewStates() *States {
	return &States{
		state: make(map[string]*models.WorkflowExecutionState),
		items: make(map[string]*models.PinItem),
	}
}

func (s *States) CreateExecution(ctx context.Context, item *models.PinItem) error {
	if err := s.create(item); err != nil {
		return err
	}
	if s.CreatedHook != nil {
		return s.CreatedHook(item.ID)
	}
	return nil
}

func (s *States) create(item *models.PinItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[item.ID]; ok {
		if existing.Country != item.Country || existing.City != item.City ||
			existing.ContentType != item.ContentType || existing.ImageFormat != item.ImageFormat {
			return models.ErrConflict.New("execution %s exists", item.ID)
		}
		return nil
	}
	now := time.Now()
	s.state[item.ID] = &models.WorkflowExecutionState{
		PinID:     item.ID,
		Status:    models.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	staged := *item
	staged.ImageBytes = slices.Clone(item.ImageBytes)
	s.items[item.ID] = &staged
	return nil
}

func (s *States) LoadState(ctx context.Context, pinID string) (*models.WorkflowExecutionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.state[pinID]
	if !ok {
		return nil, models.ErrNotFound.New("execution %s", pinID)
	}
	return state.Clone(), nil
}

func (s *States) LoadItem(ctx context.Context, pinID string) (*models.PinItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[pinID]
	if !ok {
		return nil, models.ErrNotFound.New("execution %s", pinID)
	}
	c := *item
	c.ImageBytes = slices.Clone(item.ImageBytes)
	return &c, nil
}

func (s *States) AppendCheckpoint(ctx context.Context, pinID string, step models.StepName) error {
	if s.CheckpointHook != nil {
		if err := s.CheckpointHook(pinID, step); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.state[pinID]
	if !ok {
		return models.ErrNotFound.New("execution %s", pinID)
	}
	if !state.HasCompleted(step) {
		state.CompletedSteps = append(state.CompletedSteps, step)
		state.UpdatedAt = time.Now()
	}
	return nil
}

func (s *States) ReleasePayload(ctx context.Context, pinID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[pinID]; ok {
		item.ImageBytes = nil
	}
	return nil
}

func (s *States) Finish(ctx context.Context, pinID string, status models.WorkflowStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.state[pinID]
	if !ok {
		return models.ErrNotFound.New("execution %s", pinID)
	}
	if state.IsTerminal() {
		return nil
	}
	state.Status = status
	state.LastError = lastError
	state.UpdatedAt = time.Now()
	return nil
}

func (s *States) ListRunning(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, state := range s.state {
		if state.Status == models.StatusRunning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Staged reports whether the payload of pinID is still held.
func (s *States) Staged(pinID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[pinID]
	return ok && item.ImageBytes != nil
}

// Metadata is an in-memory workflow.MetadataStore.
type Metadata struct {
	mu      sync.Mutex
	records map[string]models.PinRecord
	inserts int
}

func NewMetadata() *Metadata {
	return &Metadata{records: make(map[string]models.PinRecord)}
}

func (m *Metadata) InsertIfAbsent(ctx context.Context, record models.PinRecord) (*models.PinRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := record.PartitionKey + "/" + record.RowKey
	if existing, ok := m.records[key]; ok {
		return &existing, nil
	}
	m.records[key] = record
	m.inserts++
	return nil, nil
}

// Inserts counts records actually written by InsertIfAbsent.
func (m *Metadata) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// Put stores record unconditionally.
func (m *Metadata) Put(record models.PinRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.PartitionKey+"/"+record.RowKey] = record
}

func (m *Metadata) Records() []models.PinRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PinRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowKey < out[j].RowKey })
	return out
}

func (m *Metadata) ListPins(ctx context.Context, partitionKey string) ([]models.PinRecord, error) {
	var out []models.PinRecord
	for _, r := range m.Records() {
		if r.PartitionKey == partitionKey {
			out = append(out, r)
		}
	}
	return out, nil
}

// Blob is an object held by Blobs.
type Blob struct {
	Data        []byte
	ContentType string
}

// Blobs is an in-memory workflow.BlobStore.
type Blobs struct {
	mu         sync.Mutex
	containers map[string]map[string]Blob
	puts       int

	// PutHook, when set, runs before every Put and can fail it.
	PutHook func(container, key string) error
}

func NewBlobs(containers ...string) *Blobs {
	b := &Blobs{containers: make(map[string]map[string]Blob)}
	for _, c := range containers {
		b.containers[c] = make(map[string]Blob)
	}
	return b
}

func (b *Blobs) Exists(ctx context.Context, container string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.containers[container]
	return ok, nil
}

func (b *Blobs) Put(ctx context.Context, container, key string, data []byte, contentType string) error {
	if b.PutHook != nil {
		if err := b.PutHook(container, key); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	objects, ok := b.containers[container]
	if !ok {
		return models.ErrUnavailable.New("container %q does not exist", container)
	}
	objects[key] = Blob{Data: slices.Clone(data), ContentType: contentType}
	b.puts++
	return nil
}

func (b *Blobs) Get(ctx context.Context, container, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.containers[container][key]
	if !ok {
		return nil, models.ErrNotFound.New("%s/%s", container, key)
	}
	return slices.Clone(blob.Data), nil
}

// Object returns the stored object and whether it exists.
func (b *Blobs) Object(container, key string) (Blob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.containers[container][key]
	return blob, ok
}

// Keys lists the object keys of container in order.
func (b *Blobs) Keys(container string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.containers[container] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts counts successful Put calls.
func (b *Blobs) Puts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

// RecordingDispatcher records dispatched ids without executing them.
type RecordingDispatcher struct {
	mu  sync.Mutex
	IDs []string
	Err error
}

func (d *RecordingDispatcher) Dispatch(ctx context.Context, pinID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.IDs = append(d.IDs, pinID)
	return nil
}

func (d *RecordingDispatcher) Dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.IDs)
}
