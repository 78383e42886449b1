package server

import (
	"sync"

	"flash-buyer/internal/purchase"
)

// Hub fans purchase events out to websocket subscribers. Slow subscribers
// lose events rather than stall the run.
type Hub struct {
	mu   sync.Mutex
	subs map[chan purchase.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan purchase.Event]struct{})}
}

// Publish is a purchase.Options.Observer.
func (h *Hub) Publish(ev purchase.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) subscribe() chan purchase.Event {
	ch := make(chan purchase.Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan purchase.Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *Hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
