// Package shipping implements shipping methods as behavior sources: each
// method pairs a configurable eligibility checker with a price calculator,
// resolved from injected registries by operation code.
package shipping

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
)

// ErrNotFound is returned when a requested shipping method does not exist.
var ErrNotFound = errors.New("shipping method not found")

// Method is a persisted shipping method: metadata plus the checker and
// calculator operation instances configured by an administrator.
type Method struct {
	ID          string
	Code        string
	Name        string
	Description string
	Checker     operation.Instance
	Calculator  operation.Instance
}

// Checker decides whether a shipping method is eligible for an order.
type Checker struct {
	Definition operation.Definition
	Check      func(ctx context.Context, o *order.Order, args operation.Values) (bool, error)
}

// Calculator computes a shipping method's price for an order, in minor units.
type Calculator struct {
	Definition operation.Definition
	Calculate  func(ctx context.Context, o *order.Order, args operation.Values) (int64, error)
}

// EligibleMethod is a shipping method that passed its eligibility check,
// together with its computed price for the order.
type EligibleMethod struct {
	Method *Method
	Price  int64
}

// Repository provides lookup of shipping method records.
type Repository interface {
	Active(ctx context.Context) ([]*Method, error)
	GetByID(ctx context.Context, id string) (*Method, error)
}

// Evaluator resolves method checkers and calculators against an order.
type Evaluator struct {
	checkers    *operation.Registry[*Checker]
	calculators *operation.Registry[*Calculator]
}

// NewEvaluator wires an evaluator with its operation registries.
func NewEvaluator(checkers *operation.Registry[*Checker], calculators *operation.Registry[*Calculator]) *Evaluator {
	return &Evaluator{checkers: checkers, calculators: calculators}
}

// Eligible returns, in method order, every method whose checker accepts the
// order, each carrying its calculated price.
func (e *Evaluator) Eligible(ctx context.Context, o *order.Order, methods []*Method) ([]EligibleMethod, error) {
	out := make([]EligibleMethod, 0, len(methods))
	for _, m := range methods {
		checker, err := e.checkers.Get(m.Checker.Code)
		if err != nil {
			return nil, errors.Wrapf(err, "method %q checker", m.Code)
		}
		ok, err := checker.Check(ctx, o, m.Checker.Values())
		if err != nil {
			return nil, errors.Wrapf(err, "method %q checker %q", m.Code, m.Checker.Code)
		}
		if !ok {
			continue
		}

		calc, err := e.calculators.Get(m.Calculator.Code)
		if err != nil {
			return nil, errors.Wrapf(err, "method %q calculator", m.Code)
		}
		price, err := calc.Calculate(ctx, o, m.Calculator.Values())
		if err != nil {
			return nil, errors.Wrapf(err, "method %q calculator %q", m.Code, m.Calculator.Code)
		}

		out = append(out, EligibleMethod{Method: m, Price: price})
	}
	return out, nil
}
