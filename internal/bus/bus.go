// Package bus is the in-process event fanout feeding WebSocket
// clients.
package bus

import "sync"

// Event is one server-side event to broadcast.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler receives broadcast events. Handlers must not block;
// slow consumers should buffer on their side.
type EventHandler func(Event)

// Publisher abstracts broadcast + subscription so producers do not
// depend on the concrete bus.
type Publisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Bus is a simple subscriber registry. Subscribing an existing id
// replaces the handler.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]EventHandler
}

func New() *Bus {
	return &Bus{subs: map[string]EventHandler{}}
}

func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	b.subs[id] = handler
	b.mu.Unlock()
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Broadcast delivers the event to every subscriber. Delivery order is
// unspecified.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}
