package shipping

import (
	"context"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
)

// RegisterBuiltinCheckers adds the stock eligibility checkers to the
// registry.
func RegisterBuiltinCheckers(reg *operation.Registry[*Checker]) {
	reg.Register("always_eligible", &Checker{
		Definition: operation.Definition{
			Code:        "always_eligible",
			Description: "Eligible for every order",
			Args:        []operation.ArgDef{},
		},
		Check: func(_ context.Context, _ *order.Order, _ operation.Values) (bool, error) {
			return true, nil
		},
	})

	reg.Register("min_order_total", &Checker{
		Definition: operation.Definition{
			Code:        "min_order_total",
			Description: "Eligible when the order total reaches a minimum",
			Args: []operation.ArgDef{
				{Name: "minimum", Type: operation.ArgInt, Label: "Minimum total", UIHint: "currency"},
			},
		},
		Check: func(_ context.Context, o *order.Order, args operation.Values) (bool, error) {
			minimum, err := args.Int("minimum")
			if err != nil {
				return false, err
			}
			return o.TotalBeforeShipping() >= minimum, nil
		},
	})
}

// RegisterBuiltinCalculators adds the stock price calculators to the
// registry.
func RegisterBuiltinCalculators(reg *operation.Registry[*Calculator]) {
	reg.Register("flat_rate", &Calculator{
		Definition: operation.Definition{
			Code:        "flat_rate",
			Description: "A fixed shipping charge",
			Args: []operation.ArgDef{
				{Name: "rate", Type: operation.ArgInt, Label: "Rate", UIHint: "currency"},
			},
		},
		Calculate: func(_ context.Context, _ *order.Order, args operation.Values) (int64, error) {
			return args.Int("rate")
		},
	})

	reg.Register("free_over_threshold", &Calculator{
		Definition: operation.Definition{
			Code:        "free_over_threshold",
			Description: "A fixed charge waived above an order-total threshold",
			Args: []operation.ArgDef{
				{Name: "rate", Type: operation.ArgInt, Label: "Rate", UIHint: "currency"},
				{Name: "threshold", Type: operation.ArgInt, Label: "Free-shipping threshold", UIHint: "currency"},
			},
		},
		Calculate: func(_ context.Context, o *order.Order, args operation.Values) (int64, error) {
			rate, err := args.Int("rate")
			if err != nil {
				return 0, err
			}
			threshold, err := args.Int("threshold")
			if err != nil {
				return 0, err
			}
			if o.TotalBeforeShipping() >= threshold {
				return 0, nil
			}
			return rate, nil
		},
	})
}
