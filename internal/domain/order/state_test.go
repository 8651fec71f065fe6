package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHistorySink struct {
	entries []HistoryEntry
	err     error
}

func (m *mockHistorySink) Record(_ context.Context, e HistoryEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

type mockStockSink struct {
	movements []StockMovement
	err       error
}

func (m *mockStockSink) RecordMovements(_ context.Context, ms []StockMovement) error {
	if m.err != nil {
		return m.err
	}
	m.movements = append(m.movements, ms...)
	return nil
}

func newTestMachine(t *testing.T) (*StateMachine, *mockHistorySink, *mockStockSink) {
	t.Helper()
	history := &mockHistorySink{}
	stock := &mockStockSink{}
	sm := NewStateMachine(history, stock, nil)
	sm.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return sm, history, stock
}

func checkoutReadyOrder() *Order {
	o := New("o1", "cust-1")
	o.Lines = []*OrderLine{newLine("l1", 500, 2)}
	o.RecomputeSubTotal()
	return o
}

func TestTransition_EmptyOrderCannotArrangePayment(t *testing.T) {
	sm, _, _ := newTestMachine(t)
	o := New("o1", "cust-1")

	err := sm.TransitionTo(context.Background(), o, StateArrangingPayment)
	require.ErrorIs(t, err, ErrTransition)
	assert.Contains(t, err.Error(), "order is empty")
	assert.Equal(t, StateAddingItems, o.State)
}

func TestTransition_NoCustomerCannotArrangePayment(t *testing.T) {
	sm, _, _ := newTestMachine(t)
	o := checkoutReadyOrder()
	o.CustomerID = ""

	err := sm.TransitionTo(context.Background(), o, StateArrangingPayment)
	require.ErrorIs(t, err, ErrTransition)
	assert.Contains(t, err.Error(), "no customer")
}

func TestTransition_TableViolation(t *testing.T) {
	sm, history, _ := newTestMachine(t)
	o := checkoutReadyOrder()

	err := sm.TransitionTo(context.Background(), o, StateFulfilled)
	require.ErrorIs(t, err, ErrTransition)
	assert.Equal(t, StateAddingItems, o.State)
	assert.Empty(t, history.entries, "no history on a rejected transition")
}

func TestTransition_PaymentGuards(t *testing.T) {
	sm, _, _ := newTestMachine(t)
	o := checkoutReadyOrder()
	require.NoError(t, sm.TransitionTo(context.Background(), o, StateArrangingPayment))

	// Not covered.
	err := sm.TransitionTo(context.Background(), o, StatePaymentAuthorized)
	require.ErrorIs(t, err, ErrTransition)
	assert.Contains(t, err.Error(), "authorized payments do not cover")

	// Covered.
	o.Payments = []*Payment{{ID: "p1", State: PaymentAuthorized, Amount: o.Total()}}
	require.NoError(t, sm.TransitionTo(context.Background(), o, StatePaymentAuthorized))
	assert.Equal(t, StatePaymentAuthorized, o.State)
}

func TestTransition_PaymentConfirmedSideEffects(t *testing.T) {
	sm, history, stock := newTestMachine(t)
	var frozen bool
	sm.promotions = func(_ context.Context, _ *Order) ([]string, error) {
		frozen = true
		return []string{"promo-1"}, nil
	}

	o := checkoutReadyOrder()
	require.NoError(t, sm.TransitionTo(context.Background(), o, StateArrangingPayment))
	o.Payments = []*Payment{{ID: "p1", State: PaymentSettled, Amount: o.Total()}}
	require.NoError(t, sm.TransitionTo(context.Background(), o, StatePaymentSettled))

	assert.False(t, o.Active, "order deactivated on payment")
	require.NotNil(t, o.PlacedAt)
	assert.Equal(t, 2025, o.PlacedAt.Year())

	require.Len(t, stock.movements, 1)
	assert.Equal(t, StockMovement{OrderID: "o1", LineID: "l1", Delta: -2}, stock.movements[0])

	assert.True(t, frozen)
	assert.Equal(t, []string{"promo-1"}, o.PromotionIDs)

	// Every transition appends a history entry with (from, to).
	require.Len(t, history.entries, 2)
	last := history.entries[1]
	assert.Equal(t, HistoryOrderStateTransition, last.Type)
	assert.Equal(t, string(StateArrangingPayment), last.Data["from"])
	assert.Equal(t, string(StatePaymentSettled), last.Data["to"])
}

func TestTransition_AuthorizedToSettledRunsConfirmationOnce(t *testing.T) {
	sm, _, stock := newTestMachine(t)
	o := checkoutReadyOrder()
	require.NoError(t, sm.TransitionTo(context.Background(), o, StateArrangingPayment))

	o.Payments = []*Payment{{ID: "p1", State: PaymentAuthorized, Amount: o.Total()}}
	require.NoError(t, sm.TransitionTo(context.Background(), o, StatePaymentAuthorized))
	require.Len(t, stock.movements, 1)

	o.Payments[0].State = PaymentSettled
	require.NoError(t, sm.TransitionTo(context.Background(), o, StatePaymentSettled))
	assert.Len(t, stock.movements, 1, "stock decremented only on first payment confirmation")
}

func TestTransition_SideEffectFailureRevertsState(t *testing.T) {
	sm, history, _ := newTestMachine(t)
	history.err = errors.New("audit store down")

	o := checkoutReadyOrder()
	err := sm.TransitionTo(context.Background(), o, StateArrangingPayment)
	require.Error(t, err)
	assert.Equal(t, StateAddingItems, o.State, "failed end hook must not leave a partial transition")
}

func TestTransition_CancelGuards(t *testing.T) {
	sm, _, _ := newTestMachine(t)

	// From AddingItems: always allowed.
	o := checkoutReadyOrder()
	require.NoError(t, sm.TransitionTo(context.Background(), o, StateCancelled))
	assert.False(t, o.Active)
	assert.Empty(t, sm.NextStates(o), "Cancelled is terminal")

	// Past ArrangingPayment: all items must already be cancelled.
	o2 := checkoutReadyOrder()
	require.NoError(t, sm.TransitionTo(context.Background(), o2, StateArrangingPayment))
	o2.Payments = []*Payment{{ID: "p1", State: PaymentSettled, Amount: o2.Total()}}
	require.NoError(t, sm.TransitionTo(context.Background(), o2, StatePaymentSettled))

	err := sm.TransitionTo(context.Background(), o2, StateCancelled)
	require.ErrorIs(t, err, ErrTransition)
	assert.Contains(t, err.Error(), "must be cancelled first")

	for _, it := range o2.Lines[0].Items {
		it.Cancelled = true
	}
	require.NoError(t, sm.TransitionTo(context.Background(), o2, StateCancelled))
}

func TestTransition_FulfillmentGuards(t *testing.T) {
	sm, _, _ := newTestMachine(t)
	o := checkoutReadyOrder()
	require.NoError(t, sm.TransitionTo(context.Background(), o, StateArrangingPayment))
	o.Payments = []*Payment{{ID: "p1", State: PaymentSettled, Amount: o.Total()}}
	require.NoError(t, sm.TransitionTo(context.Background(), o, StatePaymentSettled))

	// Nothing fulfilled yet.
	err := sm.TransitionTo(context.Background(), o, StatePartiallyFulfilled)
	require.ErrorIs(t, err, ErrTransition)

	// One of two fulfilled: partial ok, full rejected.
	o.Lines[0].Items[0].FulfillmentID = "f1"
	err = sm.TransitionTo(context.Background(), o, StateFulfilled)
	require.ErrorIs(t, err, ErrTransition)
	require.NoError(t, sm.TransitionTo(context.Background(), o, StatePartiallyFulfilled))

	// All fulfilled.
	o.Lines[0].Items[1].FulfillmentID = "f2"
	require.NoError(t, sm.TransitionTo(context.Background(), o, StateFulfilled))
}

func TestTransition_BackToAddingItems(t *testing.T) {
	sm, _, _ := newTestMachine(t)
	o := checkoutReadyOrder()
	require.NoError(t, sm.TransitionTo(context.Background(), o, StateArrangingPayment))
	require.NoError(t, sm.TransitionTo(context.Background(), o, StateAddingItems))
	assert.Equal(t, StateAddingItems, o.State)
}

func TestNextStates(t *testing.T) {
	sm, _, _ := newTestMachine(t)
	o := New("o1", "cust-1")

	assert.ElementsMatch(t,
		[]State{StateArrangingPayment, StateCancelled},
		sm.NextStates(o))
	assert.True(t, sm.CanTransitionTo(o, StateArrangingPayment))
	assert.False(t, sm.CanTransitionTo(o, StatePaymentSettled))
}
