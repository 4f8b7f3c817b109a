package event

import (
	"context"

	"github.com/viant/stepflow/internal/clock"
	"github.com/viant/stepflow/service/messaging"
	"github.com/viant/stepflow/service/messaging/memory"
)

// Publisher publishes typed events onto a queue.
type Publisher[T any] struct {
	queue messaging.Queue[Event[T]]
}

// NewPublisher creates a publisher backed by queue.
func NewPublisher[T any](queue messaging.Queue[Event[T]]) *Publisher[T] {
	return &Publisher[T]{queue: queue}
}

// NewMemoryPublisher creates a publisher backed by a new in-memory queue.
func NewMemoryPublisher[T any](config memory.Config) *Publisher[T] {
	return NewPublisher[T](memory.NewQueue[Event[T]](config))
}

// Publish stamps and enqueues the event.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	event.CreatedAt = clock.Now()
	return p.queue.Publish(ctx, event)
}

// Receive waits for the next message; the caller acknowledges it with Ack, or
// with Nack to have it redelivered.
func (p *Publisher[T]) Receive(ctx context.Context) (messaging.Message[Event[T]], error) {
	return p.queue.Consume(ctx)
}

// Consume waits for the next event and acknowledges it.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	msg, err := p.Receive(ctx)
	if err != nil || msg == nil {
		return nil, err
	}
	if err = msg.Ack(); err != nil {
		return nil, err
	}
	return msg.T(), nil
}

// DeadLetters returns the number of events the queue gave up redelivering, or
// 0 when the queue keeps no dead letters.
func (p *Publisher[T]) DeadLetters() int {
	if q, ok := p.queue.(interface{ DLQSize() int }); ok {
		return q.DLQSize()
	}
	return 0
}
