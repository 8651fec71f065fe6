package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/valmera/ordercore/internal/fsm"
)

// State enumerates the order lifecycle.
type State string

const (
	StateAddingItems        State = "AddingItems"
	StateArrangingPayment   State = "ArrangingPayment"
	StatePaymentAuthorized  State = "PaymentAuthorized"
	StatePaymentSettled     State = "PaymentSettled"
	StatePartiallyFulfilled State = "PartiallyFulfilled"
	StateFulfilled          State = "Fulfilled"
	StateCancelled          State = "Cancelled"
)

// ErrTransition is the match target for rejected state transitions. The
// wrapped message carries the human-readable reason.
var ErrTransition = errors.New("illegal order state transition")

// Transitions returns the legal order lifecycle moves. Cancelled is reachable
// from every non-terminal state and has no outgoing transitions; AddingItems
// is reachable back from ArrangingPayment so a cart can be edited during
// checkout.
func Transitions() fsm.Transitions[State] {
	return fsm.Transitions[State]{
		StateAddingItems:        {StateArrangingPayment, StateCancelled},
		StateArrangingPayment:   {StateAddingItems, StatePaymentAuthorized, StatePaymentSettled, StateCancelled},
		StatePaymentAuthorized:  {StatePaymentSettled, StatePartiallyFulfilled, StateFulfilled, StateCancelled},
		StatePaymentSettled:     {StatePartiallyFulfilled, StateFulfilled, StateCancelled},
		StatePartiallyFulfilled: {StateFulfilled, StateCancelled},
		StateFulfilled:          {StateCancelled},
		StateCancelled:          {},
	}
}

// History entry types recorded by the state machine.
const HistoryOrderStateTransition = "ORDER_STATE_TRANSITION"

// HistoryEntry is an immutable audit record.
type HistoryEntry struct {
	OrderID string
	Type    string
	Data    map[string]string
	ActorID string
}

// HistorySink receives audit entries. Entries recorded from a transition end
// hook must be persisted in the same unit of work as the state change.
type HistorySink interface {
	Record(ctx context.Context, e HistoryEntry) error
}

// StockMovement records an inventory delta caused by an order line.
type StockMovement struct {
	OrderID string
	LineID  string
	Delta   int
}

// StockSink materializes stock movements. Like HistorySink, it must commit
// with the transition.
type StockSink interface {
	RecordMovements(ctx context.Context, movements []StockMovement) error
}

// ApplicablePromotionsFunc resolves the identities of the promotions that
// currently apply to the order, so they can be frozen onto it when payment
// progresses.
type ApplicablePromotionsFunc func(ctx context.Context, o *Order) ([]string, error)

// StateMachine configures the generic FSM with the order lifecycle's guards
// and side effects.
type StateMachine struct {
	transitions fsm.Transitions[State]
	history     HistorySink
	stock       StockSink
	promotions  ApplicablePromotionsFunc
	now         func() time.Time
}

// NewStateMachine wires the order state machine with its external
// collaborators. promotions may be nil when promotion freezing is not needed
// (e.g. in tools).
func NewStateMachine(history HistorySink, stock StockSink, promotions ApplicablePromotionsFunc) *StateMachine {
	return &StateMachine{
		transitions: Transitions(),
		history:     history,
		stock:       stock,
		promotions:  promotions,
		now:         time.Now,
	}
}

type transitionData struct {
	ctx   context.Context
	order *Order
}

func (sm *StateMachine) machineFor(o *Order) *fsm.FSM[State, transitionData] {
	return fsm.New(fsm.Config[State, transitionData]{
		Transitions:       sm.transitions,
		OnTransitionStart: sm.guard,
		OnTransitionEnd:   sm.sideEffects,
		OnError: func(from, to State, msg string) error {
			if msg == "" {
				return errors.Wrapf(ErrTransition, "from %s to %s", from, to)
			}
			return errors.Wrapf(ErrTransition, "from %s to %s: %s", from, to, msg)
		},
	}, o.State)
}

// NextStates returns the states reachable from the order's current state.
func (sm *StateMachine) NextStates(o *Order) []State {
	return sm.machineFor(o).NextStates()
}

// CanTransitionTo reports whether the transition table permits the move.
// Guards are not consulted.
func (sm *StateMachine) CanTransitionTo(o *Order, to State) bool {
	return sm.machineFor(o).CanTransitionTo(to)
}

// TransitionTo validates and applies a lifecycle transition, running guards
// before and side effects after the state change. On any failure the order's
// state is unchanged and the error (matching ErrTransition for guard and
// table rejections) is returned to the caller.
func (sm *StateMachine) TransitionTo(ctx context.Context, o *Order, to State) error {
	from := o.State
	m := sm.machineFor(o)

	if err := m.TransitionTo(to, transitionData{ctx: ctx, order: o}); err != nil {
		// Side effects set o.State before running; restore on failure.
		o.State = from
		return err
	}

	o.State = to
	return nil
}

func (sm *StateMachine) guard(from, to State, d transitionData) error {
	o := d.order

	switch to {
	case StateArrangingPayment:
		if len(o.Lines) == 0 {
			return errors.New("order is empty")
		}
		if o.CustomerID == "" {
			return errors.New("order has no customer attached")
		}

	case StatePaymentAuthorized:
		if o.PaymentsTotal(PaymentAuthorized) < o.Total() {
			return errors.New("authorized payments do not cover the order total")
		}

	case StatePaymentSettled:
		if o.PaymentsTotal(PaymentSettled) < o.Total() {
			return errors.New("settled payments do not cover the order total")
		}

	case StateCancelled:
		if from != StateAddingItems && from != StateArrangingPayment {
			if n := countActiveItems(o); n > 0 {
				return errors.New("all order items must be cancelled first")
			}
		}

	case StatePartiallyFulfilled:
		fulfilled, active := countFulfilled(o)
		if fulfilled == 0 {
			return errors.New("no order items have been fulfilled")
		}
		if fulfilled == active {
			return errors.New("all order items are already fulfilled")
		}

	case StateFulfilled:
		fulfilled, active := countFulfilled(o)
		if fulfilled < active {
			return errors.New("not all order items have been fulfilled")
		}
	}

	return nil
}

func (sm *StateMachine) sideEffects(from, to State, d transitionData) error {
	o := d.order
	// Side effects may re-read the new state.
	o.State = to

	switch to {
	case StatePaymentAuthorized, StatePaymentSettled:
		if from != StatePaymentAuthorized {
			if err := sm.onPaymentConfirmed(d.ctx, o); err != nil {
				return err
			}
		}
	case StateCancelled:
		o.Active = false
	}

	if err := sm.history.Record(d.ctx, HistoryEntry{
		OrderID: o.ID,
		Type:    HistoryOrderStateTransition,
		Data:    map[string]string{"from": string(from), "to": string(to)},
	}); err != nil {
		return errors.Wrap(err, "record history entry")
	}

	return nil
}

// onPaymentConfirmed deactivates the order, stamps the placement time,
// materializes inventory decrements for every line, and freezes the set of
// applicable promotions so they are no longer re-evaluated against future
// catalog changes.
func (sm *StateMachine) onPaymentConfirmed(ctx context.Context, o *Order) error {
	o.Active = false
	placedAt := sm.now()
	o.PlacedAt = &placedAt

	movements := make([]StockMovement, 0, len(o.Lines))
	for _, l := range o.Lines {
		movements = append(movements, StockMovement{
			OrderID: o.ID,
			LineID:  l.ID,
			Delta:   -l.Quantity(),
		})
	}
	if err := sm.stock.RecordMovements(ctx, movements); err != nil {
		return errors.Wrap(err, "record stock movements")
	}

	if sm.promotions != nil {
		ids, err := sm.promotions(ctx, o)
		if err != nil {
			return errors.Wrap(err, "freeze applicable promotions")
		}
		o.PromotionIDs = ids
	}

	return nil
}

func countActiveItems(o *Order) int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity()
	}
	return n
}

func countFulfilled(o *Order) (fulfilled, active int) {
	for _, l := range o.Lines {
		for _, it := range l.Items {
			if it.Cancelled {
				continue
			}
			active++
			if it.FulfillmentID != "" {
				fulfilled++
			}
		}
	}
	return fulfilled, active
}
