package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/utils"
)

// Hub is the relay registry: it maps identities to live connections and
// forwards call signaling between them. It knows nothing about call pairing.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	stopped bool

	newID func() string
	log   *zerolog.Logger

	relayed atomic.Uint64
	dropped atomic.Uint64
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Clients int    `json:"clients"`
	Relayed uint64 `json:"relayed"`
	Dropped uint64 `json:"dropped"`
}

// NewHub creates a relay hub. A nil logger disables logging.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		clients: make(map[string]*Client),
		newID:   utils.NewID,
		log:     logger,
	}
}

// Register assigns a fresh identity to a new connection and queues the
// identity-assigned event for it.
func (h *Hub) Register(name string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.newID()
	for {
		if _, taken := h.clients[id]; !taken {
			break
		}
		h.log.Warn().Str("client_id", id).Msg("identity collision, regenerating")
		id = h.newID()
	}

	client := NewClient(id, name)
	if h.stopped {
		close(client.Events)
		return client
	}

	h.clients[id] = client
	client.send(&Event{Kind: EventIdentityAssigned, Identity: id})
	h.log.Debug().Str("client_id", id).Int("clients", len(h.clients)).Msg("client registered")
	return client
}

// Unregister removes the client and closes its outbound channel. Safe to call
// more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[client.ID]; !ok || current != client {
		return
	}
	delete(h.clients, client.ID)
	close(client.Events)
	h.log.Debug().Str("client_id", client.ID).Int("clients", len(h.clients)).Msg("client unregistered")
}

// Relay forwards cmd from sender to cmd.Target. Unknown targets and full
// outbound buffers drop the message silently; only malformed commands return
// an error.
func (h *Hub) Relay(sender *Client, cmd Command) error {
	if !cmd.Kind.Valid() {
		return coreError(ErrCodeUnknownKind, "unknown relay kind "+string(cmd.Kind))
	}
	if cmd.Target == "" {
		return coreError(ErrCodeMissingTarget, "target identity is required")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	target, ok := h.clients[cmd.Target]
	if !ok {
		h.dropped.Add(1)
		h.log.Debug().
			Str("from", sender.ID).
			Str("target", cmd.Target).
			Str("kind", string(cmd.Kind)).
			Msg("relay target not registered, dropping")
		return nil
	}

	delivered := target.send(&Event{
		Kind:    EventRelay,
		Relay:   cmd.Kind,
		From:    sender.ID,
		Payload: cmd.Payload,
	})
	if !delivered {
		h.dropped.Add(1)
		h.log.Warn().Str("target", cmd.Target).Str("kind", string(cmd.Kind)).Msg("target outbound buffer full, dropping")
		return nil
	}
	h.relayed.Add(1)
	return nil
}

// Lookup reports whether id is currently registered.
func (h *Hub) Lookup(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients: h.Count(),
		Relayed: h.relayed.Load(),
		Dropped: h.dropped.Load(),
	}
}

// Run blocks until ctx is done, then evicts every client so their transport
// loops observe a closed channel and exit.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for id, client := range h.clients {
		close(client.Events)
		delete(h.clients, id)
	}
	h.log.Info().Msg("hub stopped")
}
