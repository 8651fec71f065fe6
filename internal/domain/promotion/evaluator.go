package promotion

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
)

// Evaluator tests promotions against orders and produces adjustments. The
// condition and action registries are injected once at configuration time
// and shared across all promotions.
type Evaluator struct {
	conditions *operation.Registry[*Condition]
	actions    *operation.Registry[Action]
	now        func() time.Time
}

// NewEvaluator wires an evaluator with its operation registries.
func NewEvaluator(conditions *operation.Registry[*Condition], actions *operation.Registry[Action]) *Evaluator {
	return &Evaluator{
		conditions: conditions,
		actions:    actions,
		now:        time.Now,
	}
}

// Test reports whether the promotion can apply to the order right now:
// the date window [StartsAt, EndsAt) must contain now, a configured coupon
// code must be attached to the order, and every condition must pass.
// Conditions combine with logical AND in declaration order and short-circuit
// on the first failure. An empty coupon code means "no code required".
func (e *Evaluator) Test(ctx context.Context, p *Promotion, o *order.Order) (bool, error) {
	now := e.now()
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false, nil
	}
	if p.EndsAt != nil && !now.Before(*p.EndsAt) {
		return false, nil
	}

	if p.CouponCode != "" && !o.HasCouponCode(p.CouponCode) {
		return false, nil
	}

	for _, inst := range p.Conditions {
		cond, err := e.conditions.Get(inst.Code)
		if err != nil {
			return false, errors.Wrapf(err, "promotion %q condition", p.ID)
		}
		ok, err := cond.Check(ctx, o, inst.Values())
		if err != nil {
			return false, errors.Wrapf(err, "promotion %q condition %q", p.ID, inst.Code)
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// HasOrderAction reports whether any of the promotion's actions is
// order-scoped.
func (e *Evaluator) HasOrderAction(p *Promotion) (bool, error) {
	return e.hasActionKind(p, true)
}

// HasItemAction reports whether any of the promotion's actions is
// item-scoped.
func (e *Evaluator) HasItemAction(p *Promotion) (bool, error) {
	return e.hasActionKind(p, false)
}

func (e *Evaluator) hasActionKind(p *Promotion, orderScoped bool) (bool, error) {
	for _, inst := range p.Actions {
		act, err := e.actions.Get(inst.Code)
		if err != nil {
			return false, errors.Wrapf(err, "promotion %q action", p.ID)
		}
		switch act.(type) {
		case *OrderAction:
			if orderScoped {
				return true, nil
			}
		case *ItemAction:
			if !orderScoped {
				return true, nil
			}
		}
	}
	return false, nil
}

// ApplyToOrder executes the promotion's order-scoped actions and returns one
// adjustment carrying the promotion's identity when their rounded sum is
// non-zero, or nil when it is zero. Item-scoped actions are ignored here.
func (e *Evaluator) ApplyToOrder(ctx context.Context, p *Promotion, o *order.Order) (*order.Adjustment, error) {
	var amount int64
	for _, inst := range p.Actions {
		act, err := e.actions.Get(inst.Code)
		if err != nil {
			return nil, errors.Wrapf(err, "promotion %q action", p.ID)
		}
		oa, ok := act.(*OrderAction)
		if !ok {
			continue
		}
		delta, err := oa.Execute(ctx, o, inst.Values())
		if err != nil {
			return nil, errors.Wrapf(err, "promotion %q action %q", p.ID, inst.Code)
		}
		amount += delta
	}

	if amount == 0 {
		return nil, nil
	}
	return &order.Adjustment{
		Type:        order.AdjustmentPromotion,
		Amount:      amount,
		Description: p.Name,
		SourceID:    p.ID,
	}, nil
}

// ApplyToItem executes the promotion's item-scoped actions for one item and
// its parent line. An item that already carries this promotion's adjustment
// yields nil, so repeated recalculation of an unchanged order is a no-op.
func (e *Evaluator) ApplyToItem(ctx context.Context, p *Promotion, item *order.OrderItem, line *order.OrderLine) (*order.Adjustment, error) {
	if item.HasPromotion(p.ID) {
		return nil, nil
	}

	var amount int64
	for _, inst := range p.Actions {
		act, err := e.actions.Get(inst.Code)
		if err != nil {
			return nil, errors.Wrapf(err, "promotion %q action", p.ID)
		}
		ia, ok := act.(*ItemAction)
		if !ok {
			continue
		}
		delta, err := ia.Execute(ctx, item, line, inst.Values())
		if err != nil {
			return nil, errors.Wrapf(err, "promotion %q action %q", p.ID, inst.Code)
		}
		amount += delta
	}

	if amount == 0 {
		return nil, nil
	}
	return &order.Adjustment{
		Type:        order.AdjustmentPromotion,
		Amount:      amount,
		Description: p.Name,
		SourceID:    p.ID,
	}, nil
}

// PriorityScore derives the promotion's evaluation priority from the sum of
// its resolved conditions' and actions' priority values. Lower scores
// evaluate first.
func (e *Evaluator) PriorityScore(p *Promotion) (int, error) {
	score := 0
	for _, inst := range p.Conditions {
		cond, err := e.conditions.Get(inst.Code)
		if err != nil {
			return 0, errors.Wrapf(err, "promotion %q condition", p.ID)
		}
		score += cond.Priority
	}
	for _, inst := range p.Actions {
		act, err := e.actions.Get(inst.Code)
		if err != nil {
			return 0, errors.Wrapf(err, "promotion %q action", p.ID)
		}
		score += act.PriorityValue()
	}
	return score, nil
}

// SortByPriority returns the promotions ordered by ascending priority score.
// The order matters: an earlier promotion's total-reducing effect can flip
// the eligibility of a later total-threshold condition. Ties keep their
// input order.
func (e *Evaluator) SortByPriority(promotions []*Promotion) ([]*Promotion, error) {
	type scored struct {
		p     *Promotion
		score int
	}
	items := make([]scored, len(promotions))
	for i, p := range promotions {
		score, err := e.PriorityScore(p)
		if err != nil {
			return nil, err
		}
		items[i] = scored{p: p, score: score}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score < items[j].score })

	out := make([]*Promotion, len(items))
	for i, it := range items {
		out[i] = it.p
	}
	return out, nil
}
