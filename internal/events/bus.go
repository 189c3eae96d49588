package events

import (
	"context"
	"sync"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
)

const EventTypeOrderSucceeded = "OrderSucceeded"

// OrderSucceeded is raised once per successful order placement, and again
// when payment of a placed order is re-initiated. PaymentRetry events leave
// the cart alone.
type OrderSucceeded struct {
	SessionID    string       `json:"session_id"`
	Order        domain.Order `json:"order"`
	PaymentRetry bool         `json:"payment_retry,omitempty"`
	Origin       string       `json:"origin"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

type Handler func(ctx context.Context, ev OrderSucceeded)

// Bus delivers order-success events to explicit subscribers. Handlers run
// synchronously on the publishing goroutine in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	order    []uint64
	origin   string
}

// NewBus returns a bus stamping events with origin when they carry none.
func NewBus(origin string) *Bus {
	return &Bus{
		handlers: make(map[uint64]Handler),
		origin:   origin,
	}
}

func (b *Bus) Origin() string {
	return b.origin
}

// Subscribe registers h and returns the function that removes it. The
// returned function may be called more than once.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[id] = h
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers ev to the handlers subscribed at call time.
func (b *Bus) Publish(ctx context.Context, ev OrderSucceeded) {
	if ev.Origin == "" {
		ev.Origin = b.origin
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
