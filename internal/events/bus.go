package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler processes run events
type Handler func(ctx context.Context, evt *Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name      string
	EventType Type
	Handler   Handler
}

// Bus routes events to registered handlers. Publishing is synchronous and
// every handler runs even if an earlier one fails.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]HandlerInfo
	logger   *zap.Logger
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]HandlerInfo),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type with an auto-generated name
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.mu.RLock()
	name := fmt.Sprintf("handler-%d", len(b.handlers[eventType]))
	b.mu.RUnlock()
	b.SubscribeNamed(eventType, name, handler)
}

// SubscribeNamed registers a handler with a specific name
func (b *Bus) SubscribeNamed(eventType Type, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})

	b.logger.Debug("Handler registered",
		zap.String("event_type", eventType.String()),
		zap.String("handler_name", name))
}

// Unsubscribe removes a handler by name
func (b *Bus) Unsubscribe(eventType Type, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered
}

// Publish delivers evt to every handler for its type and returns the joined
// handler errors. A nil bus discards events.
func (b *Bus) Publish(ctx context.Context, evt *Event) error {
	if b == nil || evt == nil {
		return nil
	}

	b.mu.RLock()
	handlers := append([]HandlerInfo(nil), b.handlers[evt.Type]...)
	b.mu.RUnlock()

	var errs []error
	for _, info := range handlers {
		if err := b.safeExecute(ctx, evt, info); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", evt.Type.String()),
				zap.String("event_id", evt.ID),
				zap.String("handler_name", info.Name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("handler %s failed: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ListHandlers returns handler names registered for an event type
func (b *Bus) ListHandlers(eventType Type) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers[eventType]))
	for _, h := range b.handlers[eventType] {
		names = append(names, h.Name)
	}
	return names
}

// safeExecute runs a handler with panic recovery
func (b *Bus) safeExecute(ctx context.Context, evt *Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			b.logger.Error("Handler panic recovered",
				zap.String("event_type", evt.Type.String()),
				zap.String("event_id", evt.ID),
				zap.String("handler_name", info.Name),
				zap.Any("panic", r))
		}
	}()

	return info.Handler(ctx, evt)
}
