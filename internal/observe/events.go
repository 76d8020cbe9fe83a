package observe

import (
	"sync"
	"time"
)

// EventType represents the type of runtime event.
type EventType string

const (
	EventCacheHit        EventType = "cache_hit"
	EventCacheMiss       EventType = "cache_miss"
	EventMediaResolved   EventType = "media_resolved"
	EventMediaFailed     EventType = "media_failed"
	EventWindowAdmit     EventType = "window_admit"
	EventTurnAppended    EventType = "turn_appended"
	EventGenerationStart EventType = "generation_start"
	EventGenerationEnd   EventType = "generation_end"
	EventHistoryCleared  EventType = "history_cleared"
	EventModelDisposed   EventType = "model_disposed"
)

// Event represents a runtime event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      map[string]interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus manages event publication and subscription.
// It provides a decoupled way for runtime components to communicate.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if handlers, ok := eb.handlers[event.Type]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}

	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

// PublishSimple is a convenience method for publishing events without additional data.
func (eb *EventBus) PublishSimple(eventType EventType, sessionID string) {
	eb.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
	})
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, sessionID string, data map[string]interface{}) {
	eb.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}
