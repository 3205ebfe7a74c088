package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pincollector/internal/models"
	"pincollector/internal/workflow"
)

var (
	_ workflow.Dispatcher = (*Producer)(nil)
	_ messageReader       = (*kafka.Reader)(nil)
)

func TestNewProducer(t *testing.T) {
	p := NewProducer("localhost:9092", "pin-workflows")
	defer func() { _ = p.Close() }()

	assert.Equal(t, "pin-workflows", p.writer.Topic)
	assert.Equal(t, "localhost:9092", p.writer.Addr.String())
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Equal(t, 10*time.Millisecond, p.writer.BatchTimeout)
}

// fakeReader serves queued messages and records commits.
type fakeReader struct {
	messages chan kafka.Message

	mu        sync.Mutex
	committed []string
	closed    bool
}

func newFakeReader(pinIDs ...string) *fakeReader {
	r := &fakeReader{messages: make(chan kafka.Message, len(pinIDs))}
	for _, id := range pinIDs {
		r.messages <- kafka.Message{Key: []byte(id), Value: []byte(id)}
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, string(m.Value))
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) Committed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.committed...)
}

func (r *fakeReader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func runConsumer(t *testing.T, reader *fakeReader, handle workflow.Handler) (stop func()) {
	t.Helper()
	c := &Consumer{log: zaptest.NewLogger(t), reader: reader, retryDelay: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Run(ctx, handle))
	}()
	stop = func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return stop
}

func TestConsumer_CommitsAfterSuccess(t *testing.T) {
	reader := newFakeReader("p1", "p2")

	var mu sync.Mutex
	var handled []string
	stop := runConsumer(t, reader, func(ctx context.Context, pinID string) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, pinID)
		return nil
	})

	require.Eventually(t, func() bool {
		return len(reader.Committed()) == 2
	}, 5*time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{"p1", "p2"}, reader.Committed())
	assert.Equal(t, []string{"p1", "p2"}, handled)
	assert.True(t, reader.Closed())
}

func TestConsumer_RetriesTransientFailure(t *testing.T) {
	reader := newFakeReader("p1")

	var mu sync.Mutex
	var calls int
	var committedDuringFailures []string
	runConsumer(t, reader, func(ctx context.Context, pinID string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			committedDuringFailures = append(committedDuringFailures, reader.Committed()...)
			return models.ErrUnavailable.New("database restarting")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return len(reader.Committed()) == 1
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
	assert.Empty(t, committedDuringFailures)
	assert.Equal(t, []string{"p1"}, reader.Committed())
}

func TestConsumer_CommitsPermanentFailure(t *testing.T) {
	reader := newFakeReader("ghost", "p1")

	var mu sync.Mutex
	calls := map[string]int{}
	runConsumer(t, reader, func(ctx context.Context, pinID string) error {
		mu.Lock()
		defer mu.Unlock()
		calls[pinID]++
		if pinID == "ghost" {
			return models.ErrNotFound.New("execution %s", pinID)
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return len(reader.Committed()) == 2
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ghost", "p1"}, reader.Committed())
	assert.Equal(t, 1, calls["ghost"])
	assert.Equal(t, 1, calls["p1"])
}

func TestConsumer_StopsWhileFailing(t *testing.T) {
	reader := newFakeReader("p1")

	failing := make(chan struct{})
	var once sync.Once
	stop := runConsumer(t, reader, func(ctx context.Context, pinID string) error {
		once.Do(func() { close(failing) })
		return models.ErrUnavailable.New("blob store offline")
	})

	<-failing
	stop()

	assert.Empty(t, reader.Committed())
	assert.True(t, reader.Closed())
}
