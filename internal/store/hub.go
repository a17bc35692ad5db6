package store

import (
	"context"
	"sync"
)

// Hub fans snapshots out to subscribers. Each subscriber holds at most one
// pending snapshot; a newer one replaces it.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan *Snapshot]struct{}
	latest *Snapshot
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan *Snapshot]struct{})}
}

// Subscribe registers a subscriber primed with initial (or the latest
// published snapshot if newer). The channel closes when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, initial *Snapshot) <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)

	h.mu.Lock()
	first := initial
	if h.latest != nil && (first == nil || h.latest.Revision > first.Revision) {
		first = h.latest
	}
	if first != nil {
		ch <- first
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Publish delivers s to every subscriber. Snapshots not newer than the last
// published one are dropped.
func (h *Hub) Publish(s *Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.latest != nil && s.Revision <= h.latest.Revision {
		return
	}
	h.latest = s
	for ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
