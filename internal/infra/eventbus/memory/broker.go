// Package memory provides an in-memory implementation of the messaging
// system. It offers a lightweight, non-persistent broker suitable for testing
// and development environments where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/vidflow/internal/domain/processing"
)

type handlerList[T any] []func(context.Context, T) error

// Broker provides an in-memory implementation of the work and status
// channels. Work handlers are keyed by process type, mirroring the durable
// per-type queues of the real broker; status handlers share a single fan-in
// list.
type Broker struct {
	mu sync.RWMutex

	workHandlers   map[processing.ProcessType]handlerList[processing.WorkMessage]
	statusHandlers handlerList[processing.StatusMessage]
}

var (
	_ processing.WorkPublisher    = (*Broker)(nil)
	_ processing.StatusPublisher  = (*Broker)(nil)
	_ processing.WorkSubscriber   = (*Broker)(nil)
	_ processing.StatusSubscriber = (*Broker)(nil)
)

// NewBroker creates and initializes a new in-memory broker.
func NewBroker() *Broker {
	return &Broker{
		workHandlers: make(map[processing.ProcessType]handlerList[processing.WorkMessage]),
	}
}

// publish delivers msg to a copy of the handler list, stopping at the first
// error. Handlers are copied before iteration to prevent deadlocks when a
// handler publishes back into the broker.
func publish[T any](ctx context.Context, mu *sync.RWMutex, handlers handlerList[T], msg T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mu.RLock()
	handlersCopy := make([]func(context.Context, T) error, len(handlers))
	copy(handlersCopy, handlers)
	mu.RUnlock()

	for _, handler := range handlersCopy {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// PublishWork delivers a work message to the handlers registered for its
// process type.
func (b *Broker) PublishWork(ctx context.Context, msg processing.WorkMessage) error {
	b.mu.RLock()
	handlers := b.workHandlers[msg.ProcessType]
	b.mu.RUnlock()

	return publish(ctx, &b.mu, handlers, msg)
}

// PublishStatus delivers a status message to all status handlers.
func (b *Broker) PublishStatus(ctx context.Context, msg processing.StatusMessage) error {
	return publish(ctx, &b.mu, b.statusHandlers, msg)
}

// SubscribeWork registers a handler for work messages of one process type.
func (b *Broker) SubscribeWork(ctx context.Context, processType processing.ProcessType, handler processing.WorkHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	b.workHandlers[processType] = append(b.workHandlers[processType],
		func(ctx context.Context, msg processing.WorkMessage) error { return handler(ctx, msg) })
	b.mu.Unlock()
	return nil
}

// SubscribeStatus registers a handler for status messages.
func (b *Broker) SubscribeStatus(ctx context.Context, handler processing.StatusHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	b.statusHandlers = append(b.statusHandlers,
		func(ctx context.Context, msg processing.StatusMessage) error { return handler(ctx, msg) })
	b.mu.Unlock()
	return nil
}
