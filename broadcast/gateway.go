// Package broadcast fans presence and session deltas out to real-time
// subscribers. Delivery is at-most-once and best-effort: a slow subscriber's
// events are dropped rather than blocking the pipeline, and a gateway restart
// loses in-flight events. Clients recover by pulling a snapshot.
package broadcast

import (
	"context"
	"log"
	"sync"

	"focushive/presence-service/store"
)

// Gateway consumes the store's event stream and distributes each event to
// every subscriber of its topic. Events from a single process instance are
// delivered in publish order per topic; across instances sharing a Redis
// store there is no global ordering.
type Gateway struct {
	st     store.PresenceStore
	logger *log.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan store.TopicEvent

	done chan struct{}
}

// NewGateway builds a gateway over the given store.
func NewGateway(st store.PresenceStore, logger *log.Logger) *Gateway {
	return &Gateway{
		st:     st,
		logger: logger,
		subs:   make(map[string]map[uint64]chan store.TopicEvent),
		done:   make(chan struct{}),
	}
}

// Run pumps events from the store until ctx is cancelled. It is the only
// goroutine touching the store's event channel, which is what preserves
// per-topic ordering within this process.
func (g *Gateway) Run(ctx context.Context) error {
	defer close(g.done)
	events, err := g.st.Events(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		g.dispatch(ev)
	}
	return nil
}

// Done is closed when Run exits, whether it drained the stream or failed to
// open it.
func (g *Gateway) Done() <-chan struct{} { return g.done }

func (g *Gateway) dispatch(ev store.TopicEvent) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, ch := range g.subs[ev.Topic] {
		select {
		case ch <- ev:
		default:
			g.logger.Printf("subscriber %d on %s too slow, dropping %s event", id, ev.Topic, ev.Event.Type)
		}
	}
}

// Subscribe registers interest in a topic. The returned cancel func must be
// called exactly once; afterwards the channel is closed.
func (g *Gateway) Subscribe(topic string, buffer int) (<-chan store.TopicEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan store.TopicEvent, buffer)

	g.mu.Lock()
	g.nextID++
	id := g.nextID
	if g.subs[topic] == nil {
		g.subs[topic] = make(map[uint64]chan store.TopicEvent)
	}
	g.subs[topic][id] = ch
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		if subs, ok := g.subs[topic]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
				if len(subs) == 0 {
					delete(g.subs, topic)
				}
			}
		}
		g.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports the number of active subscribers on a topic.
func (g *Gateway) SubscriberCount(topic string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subs[topic])
}
