package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/order"
	"github.com/valmera/ordercore/internal/domain/promotion"
	"github.com/valmera/ordercore/internal/domain/shipping"
	"github.com/valmera/ordercore/internal/pricing"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	mu           sync.Mutex
	orders       map[string]*order.Order
	saved        int
	updatedItems [][]*order.OrderItem
}

func newMockOrderRepo(orders ...*order.Order) *mockOrderRepo {
	m := &mockOrderRepo{orders: make(map[string]*order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) Save(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	m.saved++
	return nil
}

func (m *mockOrderRepo) UpdateItems(_ context.Context, items []*order.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatedItems = append(m.updatedItems, items)
	return nil
}

type mockPromotionRepo struct {
	active    []*promotion.Promotion
	increment map[string]int
}

func (m *mockPromotionRepo) Active(_ context.Context) ([]*promotion.Promotion, error) {
	return m.active, nil
}

func (m *mockPromotionRepo) FindByCouponCode(_ context.Context, code string) (*promotion.Promotion, error) {
	for _, p := range m.active {
		if p.CouponCode == code {
			return p, nil
		}
	}
	return nil, promotion.ErrNotFound
}

func (m *mockPromotionRepo) IncrementUses(_ context.Context, id string) error {
	if m.increment == nil {
		m.increment = make(map[string]int)
	}
	m.increment[id]++
	return nil
}

type mockMethodRepo struct{}

func (mockMethodRepo) Active(_ context.Context) ([]*shipping.Method, error) {
	return nil, nil
}

func (mockMethodRepo) GetByID(_ context.Context, _ string) (*shipping.Method, error) {
	return nil, shipping.ErrNotFound
}

type mockHistory struct {
	entries []order.HistoryEntry
}

func (m *mockHistory) Record(_ context.Context, e order.HistoryEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type mockStock struct {
	movements []order.StockMovement
}

func (m *mockStock) RecordMovements(_ context.Context, ms []order.StockMovement) error {
	m.movements = append(m.movements, ms...)
	return nil
}

// --- Helpers ---

type fixture struct {
	svc    *Service
	orders *mockOrderRepo
	promos *mockPromotionRepo
	stock  *mockStock
}

func newFixture(t *testing.T, promos ...*promotion.Promotion) *fixture {
	t.Helper()

	conditions := operation.NewRegistry[*promotion.Condition]()
	actions := operation.NewRegistry[promotion.Action]()
	promotion.RegisterBuiltinConditions(conditions)
	promotion.RegisterBuiltinActions(actions)
	checkers := operation.NewRegistry[*shipping.Checker]()
	calculators := operation.NewRegistry[*shipping.Calculator]()
	shipping.RegisterBuiltinCheckers(checkers)
	shipping.RegisterBuiltinCalculators(calculators)

	promoRepo := &mockPromotionRepo{active: promos}
	calc := pricing.NewCalculator(
		promotion.NewEvaluator(conditions, actions),
		shipping.NewEvaluator(checkers, calculators),
		mockMethodRepo{},
		zap.NewNop(),
	)

	stock := &mockStock{}
	sm := order.NewStateMachine(&mockHistory{}, stock, nil)
	orders := newMockOrderRepo()

	return &fixture{
		svc:    NewService(orders, promoRepo, sm, calc, nil, nil, zap.NewNop()),
		orders: orders,
		promos: promoRepo,
		stock:  stock,
	}
}

func args(pairs ...string) []operation.Arg {
	out := make([]operation.Arg, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, operation.Arg{Name: pairs[i], Value: pairs[i+1]})
	}
	return out
}

// --- Tests ---

func TestService_AddItemCreatesAndReusesLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)

	o, err = f.svc.AddItem(ctx, o.ID, "v1", 500, 2)
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 2, o.Lines[0].Quantity())
	assert.Equal(t, int64(1000), o.SubTotal)

	// Same variant lands on the same line.
	o, err = f.svc.AddItem(ctx, o.ID, "v1", 500, 1)
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 3, o.Lines[0].Quantity())

	// A different variant gets its own line.
	o, err = f.svc.AddItem(ctx, o.ID, "v2", 250, 1)
	require.NoError(t, err)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, int64(1750), o.SubTotal)
}

func TestService_AddItemValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, o.ID, "v1", 500, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.svc.AddItem(ctx, "missing", "v1", 500, 1)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestService_AddItemRejectedAfterCheckoutStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, o.ID, "v1", 500, 1)
	require.NoError(t, err)

	_, err = f.svc.TransitionTo(ctx, o.ID, order.StateArrangingPayment)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, o.ID, "v1", 500, 1)
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestService_AdjustLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)
	o, err = f.svc.AddItem(ctx, o.ID, "v1", 100, 3)
	require.NoError(t, err)
	lineID := o.Lines[0].ID

	o, err = f.svc.AdjustLine(ctx, o.ID, lineID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Lines[0].Quantity())
	assert.Equal(t, int64(100), o.SubTotal)

	o, err = f.svc.AdjustLine(ctx, o.ID, lineID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, o.Lines[0].Quantity())
	assert.Equal(t, int64(400), o.SubTotal)

	_, err = f.svc.AdjustLine(ctx, o.ID, "missing", 1)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestService_RemoveLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)
	o, err = f.svc.AddItem(ctx, o.ID, "v1", 100, 1)
	require.NoError(t, err)
	o, err = f.svc.AddItem(ctx, o.ID, "v2", 200, 1)
	require.NoError(t, err)

	o, err = f.svc.RemoveLine(ctx, o.ID, o.Lines[0].ID)
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "v2", o.Lines[0].ProductVariantID)
	assert.Equal(t, int64(200), o.SubTotal)
}

func TestService_ApplyCouponCode(t *testing.T) {
	promo := &promotion.Promotion{
		ID:         "p1",
		Name:       "ten off",
		Enabled:    true,
		CouponCode: "TENOFF",
		Actions:    []operation.Instance{{Code: "order_fixed_discount", Args: args("amount", "10")}},
	}
	f := newFixture(t, promo)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, o.ID, "v1", 100, 1)
	require.NoError(t, err)

	o, err = f.svc.ApplyCouponCode(ctx, o.ID, "TENOFF")
	require.NoError(t, err)
	assert.Equal(t, int64(90), o.Total())
	assert.Equal(t, 1, f.promos.increment["p1"])

	// Re-applying the same code must not consume another use.
	o, err = f.svc.ApplyCouponCode(ctx, o.ID, "TENOFF")
	require.NoError(t, err)
	assert.Equal(t, int64(90), o.Total())
	assert.Equal(t, 1, f.promos.increment["p1"])

	_, err = f.svc.ApplyCouponCode(ctx, o.ID, "NOPE")
	assert.ErrorIs(t, err, promotion.ErrNotFound)
}

func TestService_ApplyCouponCodeUsageLimit(t *testing.T) {
	promo := &promotion.Promotion{
		ID:         "p1",
		Name:       "exhausted",
		Enabled:    true,
		CouponCode: "GONE",
		UsageLimit: 5,
		Uses:       5,
	}
	f := newFixture(t, promo)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, o.ID, "v1", 100, 1)
	require.NoError(t, err)

	_, err = f.svc.ApplyCouponCode(ctx, o.ID, "GONE")
	assert.ErrorIs(t, err, promotion.ErrCouponUsageLimitReached)
}

func TestService_ApplyCouponCodeFastPathReject(t *testing.T) {
	f := newFixture(t)
	idx := promotion.NewCodeIndex(100, 0.01)
	idx.Add("REAL")
	f.svc.codes = idx
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)

	_, err = f.svc.ApplyCouponCode(ctx, o.ID, "UNKNOWN1")
	assert.ErrorIs(t, err, promotion.ErrNotFound)
}

func TestService_RemoveCouponCodeDropsDiscount(t *testing.T) {
	promo := &promotion.Promotion{
		ID:         "p1",
		Name:       "half items",
		Enabled:    true,
		CouponCode: "HALF",
		Actions:    []operation.Instance{{Code: "item_percentage_discount", Args: args("discount", "50")}},
	}
	f := newFixture(t, promo)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, o.ID, "v1", 100, 2)
	require.NoError(t, err)

	o, err = f.svc.ApplyCouponCode(ctx, o.ID, "HALF")
	require.NoError(t, err)
	assert.Equal(t, int64(100), o.SubTotal)

	o, err = f.svc.RemoveCouponCode(ctx, o.ID, "HALF")
	require.NoError(t, err)
	assert.Equal(t, int64(200), o.SubTotal)
	assert.False(t, o.Lines[0].HasAdjustments(order.AdjustmentPromotion))
}

func TestService_TransitionFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)
	o, err = f.svc.AddItem(ctx, o.ID, "v1", 100, 2)
	require.NoError(t, err)

	next, err := f.svc.NextStates(ctx, o.ID)
	require.NoError(t, err)
	assert.Contains(t, next, order.StateArrangingPayment)

	o, err = f.svc.TransitionTo(ctx, o.ID, order.StateArrangingPayment)
	require.NoError(t, err)
	assert.Equal(t, order.StateArrangingPayment, o.State)

	// Settling requires covering payments.
	_, err = f.svc.TransitionTo(ctx, o.ID, order.StatePaymentSettled)
	require.ErrorIs(t, err, order.ErrTransition)

	o.Payments = append(o.Payments, &order.Payment{
		ID: "pay1", State: order.PaymentSettled, Amount: o.Total(),
	})
	o, err = f.svc.TransitionTo(ctx, o.ID, order.StatePaymentSettled)
	require.NoError(t, err)
	assert.False(t, o.Active)
	require.NotNil(t, o.PlacedAt)
	assert.Len(t, f.stock.movements, 1)
	assert.Equal(t, -2, f.stock.movements[0].Delta)
}

func TestService_TransitionTableViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, "cust-1")
	require.NoError(t, err)

	_, err = f.svc.TransitionTo(ctx, o.ID, order.StateFulfilled)
	require.ErrorIs(t, err, order.ErrTransition)
}

func TestKeyedMutex_Serializes(t *testing.T) {
	var km keyedMutex
	const iterations = 200

	counter := 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				unlock := km.lock("same")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8*iterations, counter)
	km.mu.Lock()
	assert.Empty(t, km.entries, "entries are reclaimed after use")
	km.mu.Unlock()
}
