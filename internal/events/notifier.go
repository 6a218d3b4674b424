// Package events fans lifecycle events out to registered observers
// and pushes them to WebSocket subscribers.
package events

import (
	"log/slog"
	"sync"
)

// Type tags a lifecycle event.
type Type string

// Lifecycle event types.
const (
	TypeHealthCheck      Type = "health_check"
	TypeIncidentCreated  Type = "incident_created"
	TypeIncidentUpdated  Type = "incident_updated"
	TypeIncidentResolved Type = "incident_resolved"
	TypeServiceAdded     Type = "service_added"
	TypeServiceRemoved   Type = "service_removed"
)

// Payload is the free-form body of a lifecycle event.
type Payload map[string]any

// Observer receives lifecycle events. Implementations must not block
// for long; delivery is best-effort and synchronous.
type Observer interface {
	OnEvent(eventType Type, payload Payload) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(eventType Type, payload Payload) error

// OnEvent calls f.
func (f ObserverFunc) OnEvent(eventType Type, payload Payload) error {
	return f(eventType, payload)
}

// Notifier dispatches events to all registered observers. Observer
// errors and panics are logged and isolated; they never propagate to
// the emitter and never stop delivery to the remaining observers.
type Notifier struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Register appends an observer. Observers cannot be removed; this
// matches their process-long lifetime.
func (n *Notifier) Register(o Observer) {
	n.mu.Lock()
	n.observers = append(n.observers, o)
	n.mu.Unlock()
}

// Emit delivers an event to every observer in registration order.
func (n *Notifier) Emit(eventType Type, payload Payload) {
	n.mu.RLock()
	observers := make([]Observer, len(n.observers))
	copy(observers, n.observers)
	n.mu.RUnlock()

	for _, o := range observers {
		n.dispatch(o, eventType, payload)
	}
}

func (n *Notifier) dispatch(o Observer, eventType Type, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event observer panicked", "event_type", eventType, "panic", r)
		}
	}()

	if err := o.OnEvent(eventType, payload); err != nil {
		slog.Error("event observer failed", "event_type", eventType, "error", err)
	}
}
