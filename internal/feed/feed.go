package feed

import (
	"context"
	"sync"
	"time"

	"udhaar.org/internal/ledger"
)

// Event describes a ledger write pushed to live dashboard clients.
type Event struct {
	BusinessID string                 `json:"business_id"`
	CustomerID string                 `json:"customer_id"`
	Type       ledger.TransactionType `json:"transaction_type"`
	Amount     int64                  `json:"amount"`
	Balance    int64                  `json:"current_balance"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Feed fan-outs ledger events to all active subscribers (SSE clients).
type Feed struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty feed.
func New() *Feed {
	return &Feed{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (f *Feed) Publish(evt Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
