// Package promotion implements promotions as adjustment sources: persisted
// records bundling configurable-operation conditions and actions, plus
// scheduling, coupon, and priority metadata. The evaluator tests a promotion
// against an order and produces price adjustments.
package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/valmera/ordercore/internal/domain/operation"
)

var (
	// ErrNotFound is returned when a requested promotion does not exist.
	ErrNotFound = errors.New("promotion not found")
	// ErrCouponUsageLimitReached is returned when a coupon-bearing promotion
	// has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
)

// Promotion is a long-lived configuration record. It stores only operation
// codes and argument values; the condition and action implementations are
// resolved from injected registries at evaluation time.
type Promotion struct {
	ID          string
	Name        string
	Enabled     bool
	CouponCode  string
	StartsAt    *time.Time
	EndsAt      *time.Time
	UsageLimit  int
	Uses        int
	Conditions  []operation.Instance
	Actions     []operation.Instance
}

// UsageExhausted reports whether the promotion's usage limit has been
// reached. A zero limit means unlimited use.
func (p *Promotion) UsageExhausted() bool {
	return p.UsageLimit > 0 && p.Uses >= p.UsageLimit
}

// Repository provides lookup and mutation of promotion records.
type Repository interface {
	Active(ctx context.Context) ([]*Promotion, error)
	FindByCouponCode(ctx context.Context, code string) (*Promotion, error)
	IncrementUses(ctx context.Context, id string) error
}
