// Package events carries post-commit order notifications to interested
// subscribers. Publishing is decoupled from handling through a bounded
// channel so a slow subscriber cannot stall the request path beyond the
// buffer.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valmera/ordercore/internal/domain/order"
)

// Event is a post-commit notification. Name identifies the subscription
// topic.
type Event interface {
	Name() string
}

// OrderStateChanged is published after every successful state transition.
type OrderStateChanged struct {
	OrderID string
	From    order.State
	To      order.State
	At      time.Time
}

func (OrderStateChanged) Name() string { return "order.state_changed" }

// OrderPlaced is published when a transition confirms payment and the order
// leaves its active phase.
type OrderPlaced struct {
	OrderID  string
	PlacedAt time.Time
	Total    int64
}

func (OrderPlaced) Name() string { return "order.placed" }

// CouponApplied is published after a coupon code is attached to an order
// and its price recalculated.
type CouponApplied struct {
	OrderID    string
	CouponCode string
}

func (CouponApplied) Name() string { return "order.coupon_applied" }

// CouponRemoved is published after a coupon code is detached from an order.
type CouponRemoved struct {
	OrderID    string
	CouponCode string
}

func (CouponRemoved) Name() string { return "order.coupon_removed" }

// OrderRecalculated is published after a price recalculation changed at
// least one item.
type OrderRecalculated struct {
	OrderID      string
	Total        int64
	ChangedItems int
}

func (OrderRecalculated) Name() string { return "order.recalculated" }

// Handler consumes one event. Handlers run on bus workers; a returned error
// is logged, never retried.
type Handler func(ctx context.Context, ev Event) error

// Bus fans events out to subscribers over a fixed worker pool. Subscribe
// before Run; Publish is safe from any goroutine.
type Bus struct {
	lg      *zap.Logger
	ch      chan Event
	workers int

	mu   sync.RWMutex
	subs map[string][]Handler
}

// NewBus creates a bus with the given channel buffer and worker count.
func NewBus(lg *zap.Logger, buffer, workers int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if workers <= 0 {
		workers = 1
	}
	return &Bus{
		lg:      lg,
		ch:      make(chan Event, buffer),
		workers: workers,
		subs:    make(map[string][]Handler),
	}
}

// Subscribe registers a handler for the named event.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], h)
}

// Publish enqueues the event. It blocks when the buffer is full and gives
// up when the context is cancelled.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until the context is cancelled, then drains whatever
// is still buffered before returning. It always returns nil; handler errors
// are logged per event.
func (b *Bus) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range b.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					b.drain(context.WithoutCancel(ctx))
					return nil
				case ev := <-b.ch:
					b.dispatch(ctx, ev)
				}
			}
		})
	}
	return g.Wait()
}

// drain dispatches the events buffered at shutdown. Handlers get a context
// detached from the cancelled one so post-commit work can still finish.
func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case ev := <-b.ch:
			b.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := b.subs[ev.Name()]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			b.lg.Error("event handler failed",
				zap.String("event", ev.Name()),
				zap.Error(err))
		}
	}
}
