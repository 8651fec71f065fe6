// Package pricing implements the order price calculator: the algorithm that
// reconciles an order's subtotal, promotion adjustments, and shipping charge
// whenever the order mutates, reporting exactly which items changed so the
// persistence layer can update only those.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/valmera/ordercore/internal/domain/order"
	"github.com/valmera/ordercore/internal/domain/promotion"
	"github.com/valmera/ordercore/internal/domain/shipping"
)

// Calculator orchestrates the promotion and shipping evaluators over an
// order. It is synchronous and performs no I/O beyond the shipping method
// lookup; the hosting layer must serialize invocations per order.
type Calculator struct {
	promotions *promotion.Evaluator
	shipping   *shipping.Evaluator
	methods    shipping.Repository
	lg         *zap.Logger
}

// NewCalculator wires a calculator with its evaluators and the shipping
// method source.
func NewCalculator(
	promotions *promotion.Evaluator,
	shippingEval *shipping.Evaluator,
	methods shipping.Repository,
	lg *zap.Logger,
) *Calculator {
	return &Calculator{
		promotions: promotions,
		shipping:   shippingEval,
		methods:    methods,
		lg:         lg,
	}
}

// ApplyPriceAdjustments recomputes the order's subtotal, re-evaluates the
// given candidate promotions against lines and the whole order, resolves the
// shipping charge, and returns the de-duplicated set of items whose
// adjustments changed. updatedLine, when non-nil, is a line the caller just
// mutated; its items are always included in the result.
//
// Promotions are re-tested against the current order state before every
// application: applying one promotion can change whether the next still
// applies, and an earlier line's adjustments can change the order total a
// later condition reads.
func (c *Calculator) ApplyPriceAdjustments(
	ctx context.Context,
	o *order.Order,
	promotions []*promotion.Promotion,
	updatedLine *order.OrderLine,
) ([]*order.OrderItem, error) {
	changed := make(map[*order.OrderItem]struct{})

	o.ClearAdjustments(order.AdjustmentPromotion)
	o.RecomputeSubTotal()

	if len(o.Lines) > 0 {
		sorted, err := c.promotions.SortByPriority(promotions)
		if err != nil {
			return nil, errors.Wrap(err, "sort promotions")
		}

		if err := c.applyItemPromotions(ctx, o, sorted, changed); err != nil {
			return nil, err
		}
		if err := c.applyOrderPromotions(ctx, o, sorted); err != nil {
			return nil, err
		}
		if err := c.applyShipping(ctx, o); err != nil {
			return nil, err
		}
	}

	o.RecomputeSubTotal()

	if updatedLine != nil {
		for _, it := range updatedLine.Items {
			changed[it] = struct{}{}
		}
	}

	return collectChanged(o, updatedLine, changed), nil
}

// applyItemPromotions runs the per-line pass: for each line, in line order,
// re-test every candidate promotion, clear stale adjustments, and apply the
// currently applicable item-scoped promotions per item.
func (c *Calculator) applyItemPromotions(
	ctx context.Context,
	o *order.Order,
	sorted []*promotion.Promotion,
	changed map[*order.OrderItem]struct{},
) error {
	for _, line := range o.Lines {
		// Re-test against the current order state: prior lines'
		// adjustments may have moved the total.
		applicable, applicableIDs, err := c.testAll(ctx, sorted, o)
		if err != nil {
			return err
		}

		lineHadPromotions := line.HasAdjustments(order.AdjustmentPromotion)

		// A line carrying adjustments from promotions that no longer apply
		// needs a full recheck: clear and mark every item changed.
		if hasStaleAdjustments(line, applicableIDs) {
			line.ClearAdjustments(order.AdjustmentPromotion)
			markAll(line, changed)
			o.RecomputeSubTotal()
		}

		for _, p := range applicable {
			hasItem, err := c.promotions.HasItemAction(p)
			if err != nil {
				return err
			}
			if !hasItem {
				continue
			}

			// Applying an earlier promotion within this loop can invalidate
			// a later one, so re-test immediately before applying.
			ok, err := c.promotions.Test(ctx, p, o)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			applied := false
			for _, it := range line.ActiveItems() {
				adj, err := c.promotions.ApplyToItem(ctx, p, it, line)
				if err != nil {
					return err
				}
				if adj == nil {
					continue
				}
				it.Adjustments = append(it.Adjustments, *adj)
				changed[it] = struct{}{}
				applied = true
			}
			if applied {
				// Subsequent tests must see the updated total.
				o.RecomputeSubTotal()
			}
		}

		// The "discount removed" case must be persisted even though no new
		// adjustment was added.
		if lineHadPromotions && !line.HasAdjustments(order.AdjustmentPromotion) {
			markAll(line, changed)
		}
	}
	return nil
}

// applyOrderPromotions runs the order-scoped pass in priority order.
func (c *Calculator) applyOrderPromotions(ctx context.Context, o *order.Order, sorted []*promotion.Promotion) error {
	o.RecomputeSubTotal()
	o.ClearAdjustments(order.AdjustmentPromotion)

	for _, p := range sorted {
		hasOrder, err := c.promotions.HasOrderAction(p)
		if err != nil {
			return err
		}
		if !hasOrder {
			continue
		}

		ok, err := c.promotions.Test(ctx, p, o)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		adj, err := c.promotions.ApplyToOrder(ctx, p, o)
		if err != nil {
			return err
		}
		if adj == nil {
			continue
		}
		o.Adjustments = append(o.Adjustments, *adj)
		o.RecomputeSubTotal()
	}
	return nil
}

// applyShipping resolves the order's shipping charge: keep the assigned
// method while it remains eligible, otherwise fall back to the first
// eligible method. When nothing is eligible the existing charge is left
// untouched.
func (c *Calculator) applyShipping(ctx context.Context, o *order.Order) error {
	methods, err := c.methods.Active(ctx)
	if err != nil {
		return errors.Wrap(err, "load shipping methods")
	}

	eligible, err := c.shipping.Eligible(ctx, o, methods)
	if err != nil {
		return errors.Wrap(err, "evaluate shipping eligibility")
	}
	if len(eligible) == 0 {
		c.lg.Debug("no eligible shipping methods, keeping existing charge",
			zap.String("order_id", o.ID),
			zap.String("shipping_method_id", o.ShippingMethodID))
		return nil
	}

	selected := eligible[0]
	for _, em := range eligible {
		if em.Method.ID == o.ShippingMethodID {
			selected = em
			break
		}
	}

	o.ShippingMethodID = selected.Method.ID
	o.Shipping = selected.Price
	return nil
}

// testAll re-tests every promotion against the current order state and
// returns the applicable subset with an id lookup set.
func (c *Calculator) testAll(
	ctx context.Context,
	promotions []*promotion.Promotion,
	o *order.Order,
) ([]*promotion.Promotion, map[string]struct{}, error) {
	applicable := make([]*promotion.Promotion, 0, len(promotions))
	ids := make(map[string]struct{}, len(promotions))
	for _, p := range promotions {
		ok, err := c.promotions.Test(ctx, p, o)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			applicable = append(applicable, p)
			ids[p.ID] = struct{}{}
		}
	}
	return applicable, ids, nil
}

// hasStaleAdjustments reports whether the line carries a promotion
// adjustment whose source is not in the applicable set.
func hasStaleAdjustments(line *order.OrderLine, applicableIDs map[string]struct{}) bool {
	for _, a := range line.Adjustments() {
		if a.Type != order.AdjustmentPromotion {
			continue
		}
		if _, ok := applicableIDs[a.SourceID]; !ok {
			return true
		}
	}
	return false
}

func markAll(line *order.OrderLine, changed map[*order.OrderItem]struct{}) {
	for _, it := range line.Items {
		changed[it] = struct{}{}
	}
}

// collectChanged returns the changed items in stable order-graph order.
func collectChanged(o *order.Order, updatedLine *order.OrderLine, changed map[*order.OrderItem]struct{}) []*order.OrderItem {
	out := make([]*order.OrderItem, 0, len(changed))
	seen := make(map[*order.OrderItem]struct{}, len(changed))
	appendLine := func(l *order.OrderLine) {
		for _, it := range l.Items {
			if _, ok := changed[it]; !ok {
				continue
			}
			if _, dup := seen[it]; dup {
				continue
			}
			seen[it] = struct{}{}
			out = append(out, it)
		}
	}
	for _, l := range o.Lines {
		appendLine(l)
	}
	if updatedLine != nil {
		appendLine(updatedLine)
	}
	return out
}
