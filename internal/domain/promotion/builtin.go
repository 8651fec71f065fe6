package promotion

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
)

var hundred = decimal.NewFromInt(100)

// percentOf returns -round(base * pct / 100) in minor units, rounding
// half-up to a whole unit.
func percentOf(base int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(base).Mul(pct).Div(hundred).Round(0).IntPart()
}

// RegisterBuiltinConditions adds the stock condition implementations to the
// registry.
func RegisterBuiltinConditions(reg *operation.Registry[*Condition]) {
	reg.Register("minimum_order_amount", &Condition{
		Definition: operation.Definition{
			Code:        "minimum_order_amount",
			Description: "If order total is greater than or equal to the given amount",
			Args: []operation.ArgDef{
				{Name: "amount", Type: operation.ArgInt, Label: "Minimum amount", UIHint: "currency"},
			},
		},
		// Depends on the order total, so promotions carrying it evaluate
		// after unconditional ones.
		Priority: 10,
		Check: func(_ context.Context, o *order.Order, args operation.Values) (bool, error) {
			amount, err := args.Int("amount")
			if err != nil {
				return false, err
			}
			return o.TotalBeforeShipping() >= amount, nil
		},
	})

	reg.Register("contains_products", &Condition{
		Definition: operation.Definition{
			Code:        "contains_products",
			Description: "If order contains at least the given quantity of the specified product variants",
			Args: []operation.ArgDef{
				{Name: "minimum", Type: operation.ArgInt, Label: "Minimum quantity"},
				{Name: "variants", Type: operation.ArgID, List: true, Label: "Product variants"},
			},
		},
		Check: func(_ context.Context, o *order.Order, args operation.Values) (bool, error) {
			minimum, err := args.Int("minimum")
			if err != nil {
				return false, err
			}
			variants, err := args.IDList("variants")
			if err != nil {
				return false, err
			}
			wanted := make(map[string]struct{}, len(variants))
			for _, v := range variants {
				wanted[v] = struct{}{}
			}
			var qty int64
			for _, l := range o.Lines {
				if _, ok := wanted[l.ProductVariantID]; ok {
					qty += int64(l.Quantity())
				}
			}
			return qty >= minimum, nil
		},
	})
}

// RegisterBuiltinActions adds the stock action implementations to the
// registry.
func RegisterBuiltinActions(reg *operation.Registry[Action]) {
	reg.Register("order_percentage_discount", &OrderAction{
		Definition: operation.Definition{
			Code:        "order_percentage_discount",
			Description: "Discount order by { discount }%",
			Args: []operation.ArgDef{
				{Name: "discount", Type: operation.ArgFloat, Label: "Discount", UIHint: "percentage"},
			},
		},
		Execute: func(_ context.Context, o *order.Order, args operation.Values) (int64, error) {
			pct, err := args.Decimal("discount")
			if err != nil {
				return 0, err
			}
			return -percentOf(o.TotalBeforeShipping(), pct), nil
		},
	})

	reg.Register("order_fixed_discount", &OrderAction{
		Definition: operation.Definition{
			Code:        "order_fixed_discount",
			Description: "Discount order by a fixed amount, capped at the order total",
			Args: []operation.ArgDef{
				{Name: "amount", Type: operation.ArgInt, Label: "Amount", UIHint: "currency"},
			},
		},
		Execute: func(_ context.Context, o *order.Order, args operation.Values) (int64, error) {
			amount, err := args.Int("amount")
			if err != nil {
				return 0, err
			}
			if total := o.TotalBeforeShipping(); amount > total {
				amount = total
			}
			if amount < 0 {
				amount = 0
			}
			return -amount, nil
		},
	})

	reg.Register("fixed_order_total", &OrderAction{
		Definition: operation.Definition{
			Code:        "fixed_order_total",
			Description: "Set the order total to a fixed amount",
			Args: []operation.ArgDef{
				{Name: "total", Type: operation.ArgInt, Label: "Order total", UIHint: "currency"},
			},
		},
		Execute: func(_ context.Context, o *order.Order, args operation.Values) (int64, error) {
			total, err := args.Int("total")
			if err != nil {
				return 0, err
			}
			return total - o.TotalBeforeShipping(), nil
		},
	})

	reg.Register("free_cheapest_item", &OrderAction{
		Definition: operation.Definition{
			Code:        "free_cheapest_item",
			Description: "Remove the cost of the cheapest item in the order",
			Args:        []operation.ArgDef{},
		},
		Execute: func(_ context.Context, o *order.Order, _ operation.Values) (int64, error) {
			var lowest int64
			for _, l := range o.Lines {
				for _, it := range l.ActiveItems() {
					if lowest == 0 || it.UnitPrice < lowest {
						lowest = it.UnitPrice
					}
				}
			}
			return -lowest, nil
		},
	})

	reg.Register("item_percentage_discount", &ItemAction{
		Definition: operation.Definition{
			Code:        "item_percentage_discount",
			Description: "Discount every matching item by { discount }%",
			Args: []operation.ArgDef{
				{Name: "discount", Type: operation.ArgFloat, Label: "Discount", UIHint: "percentage"},
			},
		},
		Execute: func(_ context.Context, item *order.OrderItem, _ *order.OrderLine, args operation.Values) (int64, error) {
			pct, err := args.Decimal("discount")
			if err != nil {
				return 0, err
			}
			return -percentOf(item.UnitPrice, pct), nil
		},
	})
}
