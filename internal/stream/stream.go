// Package stream fans audit entries out to live subscribers (SSE clients).
package stream

import (
	"context"
	"sync"

	"casedesk.org/internal/audit"
)

const subscriberBuffer = 16

// Hub fan-outs events to all active subscribers.
type Hub[T any] struct {
	mu   sync.RWMutex
	subs map[int]chan T
	next int
}

// NewHub initialises an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish never blocks. Slow subscribers miss events.
func (h *Hub[T]) Publish(evt T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Len reports the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// AuditFeed is an audit.Store that publishes every persisted entry to a hub.
type AuditFeed struct {
	audit.Store
	hub *Hub[audit.Entry]
}

var _ audit.Store = (*AuditFeed)(nil)

// NewAuditFeed wraps store. Entries are published only after Append succeeds.
func NewAuditFeed(store audit.Store, hub *Hub[audit.Entry]) *AuditFeed {
	return &AuditFeed{Store: store, hub: hub}
}

func (f *AuditFeed) Append(ctx context.Context, e audit.Entry) error {
	if err := f.Store.Append(ctx, e); err != nil {
		return err
	}
	f.hub.Publish(e)
	return nil
}

// Hub returns the hub entries are published to.
func (f *AuditFeed) Hub() *Hub[audit.Entry] { return f.hub }
