package websocket

import (
	"context"
	"fmt"
	"sync"

	wstypes "membership-service/internal/domain/websocket"
)

// MessageHandler serves the client commands it lists in SupportedEvents.
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) error
	SupportedEvents() []wstypes.EventType
}

// HandlerRegistry maps each client command to exactly one handler.
type HandlerRegistry struct {
	mu     sync.RWMutex
	routes map[wstypes.EventType]MessageHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{routes: make(map[wstypes.EventType]MessageHandler)}
}

// Register claims every event the handler supports. Claiming an event that
// another handler already serves is a wiring mistake and panics.
func (r *HandlerRegistry) Register(handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, evt := range handler.SupportedEvents() {
		if owner, taken := r.routes[evt]; taken && owner != handler {
			panic(fmt.Sprintf("websocket: event %q registered twice", evt))
		}
		r.routes[evt] = handler
	}
}

func (r *HandlerRegistry) GetHandler(evt wstypes.EventType) (MessageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.routes[evt]
	return handler, ok
}
