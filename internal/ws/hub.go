package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"ciphertalk/internal/models"
	"ciphertalk/internal/observability"
)

// Subscriber is a live connection handle registered in a room.
type Subscriber interface {
	// Send queues payload without blocking. It reports false when the
	// subscriber can no longer accept events.
	Send(payload []byte) bool
	// Close tears the subscriber down; it must be safe to call repeatedly.
	Close()
}

// Relay fans room payloads out to other nodes.
type Relay interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

type roomSubs struct {
	mu   sync.RWMutex
	subs map[Subscriber]bool
}

// Hub maintains the per-room subscriber registry of this node.
type Hub struct {
	rooms  map[string]*roomSubs
	mu     sync.RWMutex
	relay  Relay
	logger zerolog.Logger
}

// NewHub creates an empty hub. relay may be nil for a single-node deployment.
func NewHub(relay Relay, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]*roomSubs),
		relay:  relay,
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Join registers sub in room.
func (h *Hub) Join(room string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[room]
	if !ok {
		r = &roomSubs{subs: make(map[Subscriber]bool)}
		h.rooms[room] = r
	}
	r.mu.Lock()
	r.subs[sub] = true
	r.mu.Unlock()
}

// Leave removes sub from room. It reports whether sub was registered.
func (h *Hub) Leave(room string, sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[room]
	if !ok {
		return false
	}
	r.mu.Lock()
	_, present := r.subs[sub]
	delete(r.subs, sub)
	empty := len(r.subs) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, room)
	}
	return present
}

// IsMember reports whether sub is currently registered in room.
func (h *Hub) IsMember(room string, sub Subscriber) bool {
	r := h.room(room)
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[sub]
}

// Members returns the number of local subscribers in room.
func (h *Hub) Members(room string) int {
	r := h.room(room)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Broadcast delivers ev to every subscriber of room, on this node and, when a
// relay is configured, on every other node.
func (h *Hub) Broadcast(ctx context.Context, room string, ev models.Outbound) error {
	return h.BroadcastExcept(ctx, room, ev, nil)
}

// BroadcastExcept is Broadcast without delivering to except.
func (h *Hub) BroadcastExcept(ctx context.Context, room string, ev models.Outbound, except Subscriber) error {
	payload, err := models.Encode(ev)
	if err != nil {
		return err
	}
	h.DeliverLocal(room, payload, except)
	observability.IncWSEvent("out", ev.EventType())

	if h.relay != nil {
		if err := h.relay.Publish(ctx, room, payload); err != nil {
			observability.IncRelayError()
			h.logger.Warn().Err(err).Str("room", room).Msg("relay publish failed")
		}
	}
	return nil
}

// DeliverLocal hands payload to the local subscribers of room. Subscribers
// that refuse it are dropped in the background so the room never stalls.
func (h *Hub) DeliverLocal(room string, payload []byte, except Subscriber) {
	r := h.room(room)
	if r == nil {
		return
	}

	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.subs))
	for sub := range r.subs {
		if sub != except {
			subs = append(subs, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		if !sub.Send(payload) {
			go h.drop(room, sub)
		}
	}
}

// Close shuts every subscriber down; their sessions run their own cleanup.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []Subscriber
	for _, r := range h.rooms {
		r.mu.RLock()
		for sub := range r.subs {
			all = append(all, sub)
		}
		r.mu.RUnlock()
	}
	h.mu.RUnlock()

	for _, sub := range all {
		sub.Close()
	}
}

func (h *Hub) drop(room string, sub Subscriber) {
	if h.Leave(room, sub) {
		observability.IncWSDropped()
		h.logger.Warn().Str("room", room).Msg("dropping unresponsive subscriber")
	}
	sub.Close()
}

func (h *Hub) room(name string) *roomSubs {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[name]
}
