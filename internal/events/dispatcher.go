package events

import (
	"context"
	"sync"

	"membership-service/internal/domain/membership"

	"go.uber.org/zap"
)

// Listener reacts to committed lifecycle events.
type Listener interface {
	Handle(ctx context.Context, evt membership.Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, evt membership.Event) error

func (f ListenerFunc) Handle(ctx context.Context, evt membership.Event) error {
	return f(ctx, evt)
}

type registration struct {
	name     string
	listener Listener
}

// Dispatcher fans events out to listeners in registration order. Listener
// errors are logged and never reach the publisher.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []registration
	logger    *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

func (d *Dispatcher) Register(name string, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, registration{name: name, listener: l})
}

func (d *Dispatcher) Publish(ctx context.Context, evt membership.Event) {
	d.mu.RLock()
	listeners := make([]registration, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, reg := range listeners {
		if err := d.deliver(ctx, reg, evt); err != nil {
			d.logger.Warn("event listener failed",
				zap.String("listener", reg.name),
				zap.String("event", string(evt.Type)),
				zap.Int64("user_id", evt.UserID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, reg registration, evt membership.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked",
				zap.String("listener", reg.name),
				zap.Any("panic", r),
			)
		}
	}()
	return reg.listener.Handle(ctx, evt)
}
