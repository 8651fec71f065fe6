package promotion

import (
	"context"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
)

// ConditionFunc evaluates a condition against an order using the instance's
// argument values.
type ConditionFunc func(ctx context.Context, o *order.Order, args operation.Values) (bool, error)

// Condition is a registered promotion condition implementation.
type Condition struct {
	Definition operation.Definition
	Priority   int
	Check      ConditionFunc
}

// Action is a promotion action implementation. It is a tagged variant with
// exactly two concrete shapes: *OrderAction receives the whole order,
// *ItemAction receives one item plus its parent line. The apply step
// pattern-matches on the concrete type.
type Action interface {
	Def() operation.Definition
	PriorityValue() int
}

// OrderAction computes an order-scoped price delta in minor units. Discounts
// are negative. The result must already be rounded to a whole minor unit.
type OrderAction struct {
	Definition operation.Definition
	Priority   int
	Execute    func(ctx context.Context, o *order.Order, args operation.Values) (int64, error)
}

func (a *OrderAction) Def() operation.Definition { return a.Definition }
func (a *OrderAction) PriorityValue() int        { return a.Priority }

// ItemAction computes a per-item price delta in minor units.
type ItemAction struct {
	Definition operation.Definition
	Priority   int
	Execute    func(ctx context.Context, item *order.OrderItem, line *order.OrderLine, args operation.Values) (int64, error)
}

func (a *ItemAction) Def() operation.Definition { return a.Definition }
func (a *ItemAction) PriorityValue() int        { return a.Priority }
