package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viant/stepflow/internal/clock"
	"github.com/viant/stepflow/internal/idgen"
	"github.com/viant/stepflow/service/messaging"
)

// Config for the in-memory queue.
type Config struct {
	// QueueBuffer is the channel capacity.
	QueueBuffer int
	// MaxRetries is how many times a nacked message is re-queued before it
	// lands in the dead letter list.
	MaxRetries int
	// NonBlocking makes Publish fail with messaging.ErrQueueFull instead of
	// waiting for buffer space.
	NonBlocking bool
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		QueueBuffer: 100,
		MaxRetries:  3,
	}
}

// Message is a queued payload.
type Message[T any] struct {
	id         string
	payload    T
	queue      *Queue[T]
	retryCount int
	createdAt  time.Time
	mu         sync.Mutex
	processed  bool
}

// ID returns the message identifier.
func (m *Message[T]) ID() string { return m.id }

// T returns the message payload.
func (m *Message[T]) T() *T { return &m.payload }

// Ack marks the message processed.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %v already processed", m.id)
	}
	m.processed = true
	return nil
}

// Nack marks the message failed; it is re-queued until MaxRetries is
// exhausted and then moved to the dead letter list.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	if m.processed {
		m.mu.Unlock()
		return fmt.Errorf("message %v already processed", m.id)
	}
	m.processed = true
	m.mu.Unlock()

	if m.retryCount < m.queue.config.MaxRetries {
		retry := &Message[T]{id: m.id, payload: m.payload, queue: m.queue, retryCount: m.retryCount + 1, createdAt: clock.Now()}
		select {
		case m.queue.messages <- retry:
			return nil
		default:
		}
	}
	m.queue.dlqMu.Lock()
	m.queue.dlq = append(m.queue.dlq, m)
	m.queue.dlqMu.Unlock()
	return nil
}

// Queue is an in-memory messaging.Queue.
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config
	dlq      []*Message[T]
	dlqMu    sync.Mutex
}

// NewQueue creates a queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue[T]{
		messages: make(chan *Message[T], config.QueueBuffer),
		config:   config,
	}
}

// Publish adds a copy of t to the queue.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &Message[T]{id: idgen.New(), payload: *t, queue: q, createdAt: clock.Now()}
	if q.config.NonBlocking {
		select {
		case q.messages <- msg:
			return nil
		default:
			return messaging.ErrQueueFull
		}
	}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume waits for a single message.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of queued messages.
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// DLQSize returns the number of dead letters.
func (q *Queue[T]) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
