package ui

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nhle/inboxdigest/internal/bus"
)

// DefaultSubscriberBuffer is the per-subscriber queue used when Subscribe
// is given a non-positive size.
const DefaultSubscriberBuffer = 32

// Hub is the UI side of the bus. It listens as the UI actor only while
// someone is subscribed, so the coordinator sees "no listener" when every
// UI surface is closed, and fans coordinator pushes out to subscribers.
type Hub struct {
	transport bus.Transport

	mu     sync.Mutex
	subs   map[int]chan bus.CoordinatorToUI
	nextID int
	stop   func()
}

// NewHub returns a hub with no subscribers.
func NewHub(t bus.Transport) *Hub {
	return &Hub{
		transport: t,
		subs:      make(map[int]chan bus.CoordinatorToUI),
	}
}

// Subscribe registers a receiver for coordinator pushes. The first
// subscriber starts the UI listener. The returned func unsubscribes and
// closes the channel; the last one to leave stops the listener.
func (h *Hub) Subscribe(buffer int) (<-chan bus.CoordinatorToUI, func(), error) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stop == nil {
		d := bus.NewDispatcher(bus.ActorUI)
		bus.On(d, bus.CoordinatorUI, h.deliver)
		stop, err := h.transport.Listen(bus.ActorUI, d.Handle)
		if err != nil {
			return nil, nil, fmt.Errorf("listening as ui: %w", err)
		}
		h.stop = stop
	}

	id := h.nextID
	h.nextID++
	ch := make(chan bus.CoordinatorToUI, buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() { once.Do(func() { h.unsubscribe(id) }) }, nil
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)

	if len(h.subs) == 0 && h.stop != nil {
		h.stop()
		h.stop = nil
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Send delivers a UI request to the coordinator.
func (h *Hub) Send(ctx context.Context, msg bus.UIToCoordinator) error {
	return bus.Notify(ctx, h.transport, bus.UICoordinator, msg)
}

// deliver runs on the transport's UI mailbox. A subscriber whose queue is
// full misses the message rather than stalling the others.
func (h *Hub) deliver(_ context.Context, m bus.CoordinatorToUI) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- m:
		default:
			log.Printf("[ui] subscriber %d is full, dropped %s", id, m.MessageType())
		}
	}
}
