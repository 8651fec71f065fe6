// Package service hosts the order engine: it serializes work per order,
// loads and saves aggregates, and drives the state machine and the price
// calculator.
package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valmera/ordercore/internal/domain/order"
	"github.com/valmera/ordercore/internal/domain/promotion"
	"github.com/valmera/ordercore/internal/events"
	"github.com/valmera/ordercore/internal/pricing"
)

// Sentinel errors for order mutation.
var (
	ErrNotEditable     = errors.New("order is not in an editable state")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrLineNotFound    = errors.New("order line not found")
)

// Service encapsulates the order lifecycle business logic. All mutating
// methods hold a per-order lock, so at most one transition or
// recalculation is in flight per order.
type Service struct {
	orders     order.Repository
	promotions promotion.Repository
	sm         *order.StateMachine
	calc       *pricing.Calculator
	codes      *promotion.CodeIndex
	bus        *events.Bus
	lg         *zap.Logger

	locks keyedMutex
}

// NewService creates the order service with its domain collaborators. The
// code index and bus are optional; nil disables the coupon fast path and
// event publishing respectively.
func NewService(
	orders order.Repository,
	promotions promotion.Repository,
	sm *order.StateMachine,
	calc *pricing.Calculator,
	codes *promotion.CodeIndex,
	bus *events.Bus,
	lg *zap.Logger,
) *Service {
	return &Service{
		orders:     orders,
		promotions: promotions,
		sm:         sm,
		calc:       calc,
		codes:      codes,
		bus:        bus,
		lg:         lg,
	}
}

// Create starts a new empty order for the customer.
func (s *Service) Create(ctx context.Context, customerID string) (*order.Order, error) {
	o := order.New(uuid.New().String(), customerID)
	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save order")
	}
	return o, nil
}

// Get loads a fully populated order.
func (s *Service) Get(ctx context.Context, orderID string) (*order.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// AddItem adds quantity units of the product variant to the order,
// reusing the existing line for that variant when there is one, and
// recalculates prices.
func (s *Service) AddItem(ctx context.Context, orderID, variantID string, unitPrice int64, quantity int) (*order.Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.editable(ctx, orderID)
	if err != nil {
		return nil, err
	}

	line := o.LineForVariant(variantID)
	if line == nil {
		line = &order.OrderLine{
			ID:               uuid.New().String(),
			ProductVariantID: variantID,
		}
		o.Lines = append(o.Lines, line)
	}
	for range quantity {
		line.Items = append(line.Items, &order.OrderItem{
			ID:        uuid.New().String(),
			UnitPrice: unitPrice,
		})
	}

	if err := s.recalculateAndSave(ctx, o, line); err != nil {
		return nil, err
	}
	return o, nil
}

// AdjustLine sets the line's active quantity: shrinking cancels items
// from the end, growing appends new items at the line's unit price.
func (s *Service) AdjustLine(ctx context.Context, orderID, lineID string, quantity int) (*order.Order, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.editable(ctx, orderID)
	if err != nil {
		return nil, err
	}

	line := o.Line(lineID)
	if line == nil {
		return nil, ErrLineNotFound
	}

	active := line.ActiveItems()
	switch {
	case quantity < len(active):
		for _, it := range active[quantity:] {
			it.Cancelled = true
			it.ClearAdjustments(order.AdjustmentPromotion)
		}
	case quantity > len(active):
		unit := line.UnitPrice()
		for range quantity - len(active) {
			line.Items = append(line.Items, &order.OrderItem{
				ID:        uuid.New().String(),
				UnitPrice: unit,
			})
		}
	}

	if err := s.recalculateAndSave(ctx, o, line); err != nil {
		return nil, err
	}
	return o, nil
}

// RemoveLine cancels every item of the line and drops it from the order.
func (s *Service) RemoveLine(ctx context.Context, orderID, lineID string) (*order.Order, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.editable(ctx, orderID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, l := range o.Lines {
		if l.ID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrLineNotFound
	}
	o.Lines = append(o.Lines[:idx], o.Lines[idx+1:]...)

	if err := s.recalculateAndSave(ctx, o, nil); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyCouponCode attaches a coupon code to the order after checking the
// code exists, is active, and has usage left, then recalculates.
func (s *Service) ApplyCouponCode(ctx context.Context, orderID, code string) (*order.Order, error) {
	if s.codes != nil && !s.codes.MightContain(code) {
		return nil, errors.Wrapf(promotion.ErrNotFound, "coupon %q", code)
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.editable(ctx, orderID)
	if err != nil {
		return nil, err
	}

	p, err := s.promotions.FindByCouponCode(ctx, code)
	if err != nil {
		return nil, errors.Wrapf(err, "coupon %q", code)
	}
	if p.UsageExhausted() {
		return nil, errors.Wrapf(promotion.ErrCouponUsageLimitReached, "coupon %q", code)
	}

	if !o.HasCouponCode(code) {
		o.AddCouponCode(code)
		if err := s.promotions.IncrementUses(ctx, p.ID); err != nil {
			return nil, errors.Wrap(err, "increment coupon uses")
		}
	}

	if err := s.recalculateAndSave(ctx, o, nil); err != nil {
		return nil, err
	}
	s.publish(ctx, events.CouponApplied{OrderID: o.ID, CouponCode: code})
	return o, nil
}

// RemoveCouponCode detaches the code and recalculates. Removing a code
// the order does not carry is a no-op.
func (s *Service) RemoveCouponCode(ctx context.Context, orderID, code string) (*order.Order, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.editable(ctx, orderID)
	if err != nil {
		return nil, err
	}

	had := o.HasCouponCode(code)
	o.RemoveCouponCode(code)

	if err := s.recalculateAndSave(ctx, o, nil); err != nil {
		return nil, err
	}
	if had {
		s.publish(ctx, events.CouponRemoved{OrderID: o.ID, CouponCode: code})
	}
	return o, nil
}

// SetShippingMethod assigns the method and recalculates; the calculator
// falls back to another eligible method when this one does not qualify.
func (s *Service) SetShippingMethod(ctx context.Context, orderID, methodID string) (*order.Order, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.editable(ctx, orderID)
	if err != nil {
		return nil, err
	}

	o.ShippingMethodID = methodID
	if err := s.recalculateAndSave(ctx, o, nil); err != nil {
		return nil, err
	}
	return o, nil
}

// Recalculate re-runs the price calculator against the current active
// promotions and persists the outcome.
func (s *Service) Recalculate(ctx context.Context, orderID string) (*order.Order, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if err := s.recalculateAndSave(ctx, o, nil); err != nil {
		return nil, err
	}
	return o, nil
}

// TransitionTo moves the order to the target state through the state
// machine and persists the result.
func (s *Service) TransitionTo(ctx context.Context, orderID string, to order.State) (*order.Order, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	from := o.State

	if err := s.sm.TransitionTo(ctx, o, to); err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save order")
	}

	s.publish(ctx, events.OrderStateChanged{
		OrderID: o.ID,
		From:    from,
		To:      o.State,
		At:      time.Now(),
	})
	if o.PlacedAt != nil && from == order.StateArrangingPayment {
		s.publish(ctx, events.OrderPlaced{
			OrderID:  o.ID,
			PlacedAt: *o.PlacedAt,
			Total:    o.Total(),
		})
	}
	return o, nil
}

// NextStates lists the states the order may transition to from its
// current state.
func (s *Service) NextStates(ctx context.Context, orderID string) ([]order.State, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return s.sm.NextStates(o), nil
}

// editable loads the order and checks it still accepts content changes.
func (s *Service) editable(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !o.Active || o.State != order.StateAddingItems {
		return nil, ErrNotEditable
	}
	return o, nil
}

func (s *Service) recalculateAndSave(ctx context.Context, o *order.Order, updatedLine *order.OrderLine) error {
	promos, err := s.promotions.Active(ctx)
	if err != nil {
		return errors.Wrap(err, "load active promotions")
	}

	changed, err := s.calc.ApplyPriceAdjustments(ctx, o, promos, updatedLine)
	if err != nil {
		return errors.Wrap(err, "apply price adjustments")
	}

	if err := s.orders.Save(ctx, o); err != nil {
		return errors.Wrap(err, "save order")
	}
	if len(changed) > 0 {
		if err := s.orders.UpdateItems(ctx, changed); err != nil {
			return errors.Wrap(err, "update order items")
		}
		s.publish(ctx, events.OrderRecalculated{
			OrderID:      o.ID,
			Total:        o.Total(),
			ChangedItems: len(changed),
		})
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.lg.Warn("publish event",
			zap.String("event", ev.Name()),
			zap.Error(err))
	}
}
