package event

import (
	"context"
	"errors"
	"sync"

	"github.com/viant/stepflow/service/messaging"
	"go.uber.org/zap"
)

// Handler processes one event. A returned error nacks the event so the queue
// redelivers it until its retries run out.
type Handler[T any] func(*Event[T]) error

// Listener drains a publisher on its own goroutine, handing every event to
// handler.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   Handler[T]
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
}

// NewListener creates a listener. A nil logger disables logging.
func NewListener[T any](publisher *Publisher[T], handler Handler[T], logger *zap.Logger) *Listener[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins consuming until Stop is called or ctx is done.
func (l *Listener[T]) Start(ctx context.Context) {
	l.once.Do(func() {
		ctx, l.cancel = context.WithCancel(ctx)
		go l.run(ctx)
	})
}

func (l *Listener[T]) run(ctx context.Context) {
	defer close(l.done)
	for {
		msg, err := l.publisher.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			l.logger.Warn("failed to consume event", zap.Error(err))
			continue
		}
		if msg != nil {
			l.handle(msg)
		}
	}
}

func (l *Listener[T]) handle(msg messaging.Message[Event[T]]) {
	if err := l.handler(msg.T()); err != nil {
		l.logger.Warn("event handler failed", zap.Error(err))
		if err = msg.Nack(err); err != nil {
			l.logger.Warn("failed to nack event", zap.Error(err))
		}
		if dead := l.publisher.DeadLetters(); dead > 0 {
			l.logger.Warn("events dead-lettered", zap.Int("count", dead))
		}
		return
	}
	if err := msg.Ack(); err != nil {
		l.logger.Warn("failed to ack event", zap.Error(err))
	}
}

// Stop cancels consumption and waits for the goroutine to exit.
func (l *Listener[T]) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}
