// Package feed fans change events out to the websocket subscribers of
// each user.
package feed

import (
	"context"
	"sync"

	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pixelartvj/officesync/internal/server/models"
)

// DefaultBuffer is the per-subscriber queue length. Events beyond it are
// dropped for that subscriber.
const DefaultBuffer = 32

type Subscription struct {
	C      <-chan models.ChangeEvent
	ch     chan models.ChangeEvent
	userID string
}

// Hub is safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger logging.Logger
	closed bool
}

func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a listener for userID. The returned subscription's
// channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe(userID string) *Subscription {
	ch := make(chan models.ChangeEvent, DefaultBuffer)
	s := &Subscription{C: ch, ch: ch, userID: userID}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][s] = struct{}{}
	return s
}

func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[s.userID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.userID)
	}
	close(s.ch)
}

// Notify delivers ev to every subscriber of userID without blocking.
func (h *Hub) Notify(ctx context.Context, userID string, ev models.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[userID] {
		select {
		case s.ch <- ev:
		default:
			h.logger.Warn(ctx, "feed subscriber lagging, event dropped", "user", userID, "entity", ev.Entity)
		}
	}
}

// Subscribers returns the number of live subscriptions of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			close(s.ch)
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
}
