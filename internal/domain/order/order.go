// Package order defines the order aggregate (lines, items, adjustments,
// payments) and the state machine that governs its lifecycle.
//
// All monetary amounts are signed integers in minor currency units.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// AdjustmentType tags an adjustment with its origin.
type AdjustmentType string

const (
	AdjustmentPromotion AdjustmentType = "promotion"
	AdjustmentShipping  AdjustmentType = "shipping"
	AdjustmentRefund    AdjustmentType = "refund"
)

// Adjustment is an immutable signed monetary delta applied to an order or an
// item, with a reference back to its source (promotion or shipping method).
// Adjustments are replaced, never merged: each recalculation clears the
// relevant type before reapplying.
type Adjustment struct {
	Type        AdjustmentType `json:"type"`
	Amount      int64          `json:"amount"`
	Description string         `json:"description"`
	SourceID    string         `json:"source_id"`
}

// OrderItem is the smallest priceable unit: one physical unit of a line.
// It snapshots the unit price at the time it was added and carries its own
// adjustments, so each unit can receive a different promotion outcome.
type OrderItem struct {
	ID            string       `json:"id"`
	UnitPrice     int64        `json:"unit_price"`
	Adjustments   []Adjustment `json:"adjustments,omitempty"`
	Cancelled     bool         `json:"cancelled,omitempty"`
	FulfillmentID string       `json:"fulfillment_id,omitempty"`
	RefundID      string       `json:"refund_id,omitempty"`
}

// PromotionTotal returns the sum of this item's promotion adjustments.
func (i *OrderItem) PromotionTotal() int64 {
	var sum int64
	for _, a := range i.Adjustments {
		if a.Type == AdjustmentPromotion {
			sum += a.Amount
		}
	}
	return sum
}

// TotalWithPromotions returns the item's effective price after promotion
// adjustments.
func (i *OrderItem) TotalWithPromotions() int64 {
	return i.UnitPrice + i.PromotionTotal()
}

// HasPromotion reports whether the item already carries an adjustment from
// the given promotion.
func (i *OrderItem) HasPromotion(sourceID string) bool {
	for _, a := range i.Adjustments {
		if a.Type == AdjustmentPromotion && a.SourceID == sourceID {
			return true
		}
	}
	return false
}

// ClearAdjustments removes all of the item's adjustments of the given type.
func (i *OrderItem) ClearAdjustments(t AdjustmentType) {
	kept := i.Adjustments[:0]
	for _, a := range i.Adjustments {
		if a.Type != t {
			kept = append(kept, a)
		}
	}
	i.Adjustments = kept
}

// OrderLine groups the items of one order that refer to the same product
// variant. Quantity and unit price are derived from the active items rather
// than stored, so they cannot drift.
type OrderLine struct {
	ID               string       `json:"id"`
	ProductVariantID string       `json:"product_variant_id"`
	Items            []*OrderItem `json:"items"`
}

// ActiveItems returns the non-cancelled items in order.
func (l *OrderLine) ActiveItems() []*OrderItem {
	out := make([]*OrderItem, 0, len(l.Items))
	for _, it := range l.Items {
		if !it.Cancelled {
			out = append(out, it)
		}
	}
	return out
}

// Quantity returns the number of active items.
func (l *OrderLine) Quantity() int {
	n := 0
	for _, it := range l.Items {
		if !it.Cancelled {
			n++
		}
	}
	return n
}

// UnitPrice returns the unit price snapshot of the line's first active item,
// or zero when the line has no active items.
func (l *OrderLine) UnitPrice() int64 {
	for _, it := range l.Items {
		if !it.Cancelled {
			return it.UnitPrice
		}
	}
	return 0
}

// TotalPrice returns the line total: the sum of the active items' prices
// after their promotion adjustments.
func (l *OrderLine) TotalPrice() int64 {
	var sum int64
	for _, it := range l.Items {
		if !it.Cancelled {
			sum += it.TotalWithPromotions()
		}
	}
	return sum
}

// Adjustments returns the adjustments carried by the line's items.
func (l *OrderLine) Adjustments() []Adjustment {
	var out []Adjustment
	for _, it := range l.Items {
		out = append(out, it.Adjustments...)
	}
	return out
}

// HasAdjustments reports whether any item carries an adjustment of the
// given type.
func (l *OrderLine) HasAdjustments(t AdjustmentType) bool {
	for _, it := range l.Items {
		for _, a := range it.Adjustments {
			if a.Type == t {
				return true
			}
		}
	}
	return false
}

// ClearAdjustments removes adjustments of the given type from every item.
func (l *OrderLine) ClearAdjustments(t AdjustmentType) {
	for _, it := range l.Items {
		it.ClearAdjustments(t)
	}
}

// PaymentState enumerates the lifecycle of a payment attached to an order.
type PaymentState string

const (
	PaymentCreated    PaymentState = "created"
	PaymentAuthorized PaymentState = "authorized"
	PaymentSettled    PaymentState = "settled"
	PaymentDeclined   PaymentState = "declined"
)

// Payment is a payment attempt against an order.
type Payment struct {
	ID            string       `json:"id"`
	State         PaymentState `json:"state"`
	Amount        int64        `json:"amount"`
	Method        string       `json:"method"`
	TransactionID string       `json:"transaction_id,omitempty"`
}

// Order is the aggregate root tracked through the lifecycle from item-adding
// to fulfillment or cancellation.
type Order struct {
	ID               string
	State            State
	Active           bool
	PlacedAt         *time.Time
	CustomerID       string
	Lines            []*OrderLine
	CouponCodes      []string
	Adjustments      []Adjustment // order-scoped
	Payments         []*Payment
	PromotionIDs     []string // frozen once payment has progressed
	ShippingMethodID string
	Shipping         int64
	SubTotal         int64
}

// New returns an empty active order in the initial state.
func New(id, customerID string) *Order {
	return &Order{
		ID:         id,
		State:      StateAddingItems,
		Active:     true,
		CustomerID: customerID,
	}
}

// RecomputeSubTotal recalculates the subtotal from the line totals,
// restoring the invariant subtotal == Σ(line.TotalPrice()).
func (o *Order) RecomputeSubTotal() {
	var sum int64
	for _, l := range o.Lines {
		sum += l.TotalPrice()
	}
	o.SubTotal = sum
}

// PromotionTotal returns the sum of the order-scoped promotion adjustments.
func (o *Order) PromotionTotal() int64 {
	var sum int64
	for _, a := range o.Adjustments {
		if a.Type == AdjustmentPromotion {
			sum += a.Amount
		}
	}
	return sum
}

// TotalBeforeShipping returns the subtotal plus order-scoped promotion
// adjustments.
func (o *Order) TotalBeforeShipping() int64 {
	return o.SubTotal + o.PromotionTotal()
}

// Total returns the order total: subtotal + order-scoped promotion
// adjustments + shipping.
func (o *Order) Total() int64 {
	return o.TotalBeforeShipping() + o.Shipping
}

// ClearAdjustments removes the order-scoped adjustments of the given type.
// Line and item adjustments are untouched.
func (o *Order) ClearAdjustments(t AdjustmentType) {
	kept := o.Adjustments[:0]
	for _, a := range o.Adjustments {
		if a.Type != t {
			kept = append(kept, a)
		}
	}
	o.Adjustments = kept
}

// Line returns the line with the given id, or nil.
func (o *Order) Line(id string) *OrderLine {
	for _, l := range o.Lines {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// LineForVariant returns the line referencing the given product variant,
// or nil.
func (o *Order) LineForVariant(variantID string) *OrderLine {
	for _, l := range o.Lines {
		if l.ProductVariantID == variantID {
			return l
		}
	}
	return nil
}

// HasCouponCode reports whether the code is attached to the order.
func (o *Order) HasCouponCode(code string) bool {
	for _, c := range o.CouponCodes {
		if c == code {
			return true
		}
	}
	return false
}

// AddCouponCode attaches the code if not already present.
func (o *Order) AddCouponCode(code string) {
	if !o.HasCouponCode(code) {
		o.CouponCodes = append(o.CouponCodes, code)
	}
}

// RemoveCouponCode detaches the code if present.
func (o *Order) RemoveCouponCode(code string) {
	kept := o.CouponCodes[:0]
	for _, c := range o.CouponCodes {
		if c != code {
			kept = append(kept, c)
		}
	}
	o.CouponCodes = kept
}

// PaymentsTotal returns the sum of payment amounts in the given state.
func (o *Order) PaymentsTotal(state PaymentState) int64 {
	var sum int64
	for _, p := range o.Payments {
		if p.State == state {
			sum += p.Amount
		}
	}
	return sum
}

// Repository defines the persistence collaborator's contract: it supplies a
// fully populated order before calculation and writes back only what the
// calculator reports as changed.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	Save(ctx context.Context, o *Order) error
	UpdateItems(ctx context.Context, items []*OrderItem) error
}
