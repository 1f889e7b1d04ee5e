package events

import "sync"

// SnapshotPublisher fans values out to all current subscribers and replays a
// snapshot to new ones. Delivery to a subscriber whose buffer is full drops
// the value so a slow consumer can never block the account's event loop;
// consumers needing a consistent view start from the replayed snapshot.
type SnapshotPublisher[T any] struct {
	mu       sync.Mutex
	subs     map[int]chan T
	nextID   int
	snapshot func() []T
}

// NewSnapshotPublisher creates a publisher. snapshot may be nil when there
// is no replayable state; it is invoked under the publisher's lock, so it
// must not call back into the publisher.
func NewSnapshotPublisher[T any](snapshot func() []T) *SnapshotPublisher[T] {
	return &SnapshotPublisher[T]{
		subs:     make(map[int]chan T),
		snapshot: snapshot,
	}
}

// Subscribe registers a subscriber and returns the current snapshot, the
// delivery channel, and a cancel function. The snapshot precedes anything
// later delivered on the channel.
func (p *SnapshotPublisher[T]) Subscribe(buffer int) ([]T, <-chan T, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan T, buffer)
	p.subs[id] = ch

	var snap []T
	if p.snapshot != nil {
		snap = p.snapshot()
	}
	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if ch, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return snap, ch, cancel
}

// Publish delivers a value to every current subscriber.
func (p *SnapshotPublisher[T]) Publish(value T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs {
		select {
		case ch <- value:
		default:
			// Drop for this subscriber; see type comment.
		}
	}
}
