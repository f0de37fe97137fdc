package events

import (
	"sync"
	"sync/atomic"
)

type subscriber struct {
	userID string
	ch     chan Event
}

// Broadcaster fans events out to in-process subscribers. Slow subscribers
// miss events rather than block the publisher.
type Broadcaster struct {
	subscribers map[uint64]subscriber
	nextID      atomic.Uint64
	mu          sync.RWMutex
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]subscriber),
	}
}

// Subscribe registers for events about userID, or every user when userID
// is empty.
func (b *Broadcaster) Subscribe(userID string) (uint64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, 64)

	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers[id] = subscriber{userID: userID, ch: ch}
	}
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.userID != "" && sub.userID != e.UserID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels. Later subscriptions get a closed
// channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
