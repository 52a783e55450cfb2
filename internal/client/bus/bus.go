// Package bus is the in-process publish/subscribe channel between the client
// services: store mutations, sync notifications, UI refresh requests and
// session changes all travel through it as typed events.
package bus

import (
	"context"
	"sync"

	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/logging"
)

// Topic names an event stream.
type Topic string

const (
	// TopicRecordChanged fires after a local create, update or delete.
	TopicRecordChanged Topic = "record.changed"
	// TopicEntityUpdated fires when a sync pulled remote records for Entity.
	TopicEntityUpdated Topic = "cloudsync.update"
	// TopicSyncComplete fires after a full sync pass.
	TopicSyncComplete Topic = "cloudsync.complete"
	// TopicForceRefresh asks views to reload everything (after restore).
	TopicForceRefresh Topic = "ui.refresh"
	// TopicSessionCleared fires when the session is gone, here or elsewhere.
	TopicSessionCleared Topic = "session.cleared"
	// TopicSessionUpdated fires when a session was stored, carrying User.
	TopicSessionUpdated Topic = "session.updated"
)

// Event is the single payload type carried by the bus.
type Event struct {
	Topic    Topic
	Entity   string
	RecordID string
	Op       models.Operation
	User     *models.User
}

const defaultBuffer = 64

// Subscription receives events for the topics it was created with.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	topics map[Topic]struct{}
	bus    *Bus
	once   sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s) })
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and a warning is logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	logger logging.Logger
	buffer int
}

func New(logger logging.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.With("component", "bus"),
		buffer: defaultBuffer,
	}
}

// Subscribe registers interest in topics; no topics means every topic.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{C: ch, ch: ch, bus: b, topics: make(map[Topic]struct{}, len(topics))}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for s := range b.subs {
		if len(s.topics) > 0 {
			if _, ok := s.topics[ev.Topic]; !ok {
				continue
			}
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn(context.Background(), "subscriber buffer full, event dropped", "topic", ev.Topic, "entity", ev.Entity)
		}
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Close closes every subscription; later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
