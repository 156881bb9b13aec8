package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Broker fans events out to in-process subscribers of a single batch.
// Slow subscribers lose events rather than block the run; the final
// TypeRunFinished event is always delivered to subscribers with room for it.
type Broker struct {
	buffer int

	mu     sync.Mutex
	subs   map[uuid.UUID]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch chan *BatchEvent
}

// NewBroker creates a Broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[uuid.UUID]map[*subscription]struct{}),
	}
}

// Subscribe returns a channel of events for batchID and a function that ends
// the subscription. The channel is closed by the returned function, by the
// batch's TypeRunFinished event, or by Close.
func (b *Broker) Subscribe(batchID uuid.UUID) (<-chan *BatchEvent, func()) {
	sub := &subscription{ch: make(chan *BatchEvent, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	if b.subs[batchID] == nil {
		b.subs[batchID] = make(map[*subscription]struct{})
	}
	b.subs[batchID][sub] = struct{}{}

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(batchID, sub)
	}
}

// HandleEvent implements EventHandler.
func (b *Broker) HandleEvent(_ context.Context, event *BatchEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[event.BatchID] {
		select {
		case sub.ch <- event:
		default:
		}
		if event.Type == TypeRunFinished {
			b.remove(event.BatchID, sub)
		}
	}
	return nil
}

// Subscribers returns the number of active subscriptions for batchID.
func (b *Broker) Subscribers(batchID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[batchID])
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, set := range b.subs {
		for sub := range set {
			b.remove(id, sub)
		}
	}
	b.closed = true
}

// remove must be called with b.mu held.
func (b *Broker) remove(batchID uuid.UUID, sub *subscription) {
	set, ok := b.subs[batchID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.subs, batchID)
	}
}
