package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valmera/ordercore/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, state, active, placed_at, customer_id, coupon_codes,
		adjustments, promotion_ids, shipping_method_id, shipping, sub_total
		FROM orders WHERE id = $1`

	getOrderLinesSQL = `SELECT id, product_variant_id
		FROM order_lines WHERE order_id = $1 ORDER BY position, id`

	getOrderItemsSQL = `SELECT i.id, i.line_id, i.unit_price, i.adjustments,
		i.cancelled, i.fulfillment_id, i.refund_id
		FROM order_items i
		JOIN order_lines l ON l.id = i.line_id
		WHERE l.order_id = $1 ORDER BY i.id`

	getPaymentsSQL = `SELECT id, state, amount, method, transaction_id
		FROM payments WHERE order_id = $1 ORDER BY created_at, id`

	upsertOrderSQL = `INSERT INTO orders (id, state, active, placed_at, customer_id,
		coupon_codes, adjustments, promotion_ids, shipping_method_id, shipping, sub_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			active = EXCLUDED.active,
			placed_at = EXCLUDED.placed_at,
			coupon_codes = EXCLUDED.coupon_codes,
			adjustments = EXCLUDED.adjustments,
			promotion_ids = EXCLUDED.promotion_ids,
			shipping_method_id = EXCLUDED.shipping_method_id,
			shipping = EXCLUDED.shipping,
			sub_total = EXCLUDED.sub_total,
			updated_at = now()`

	upsertLineSQL = `INSERT INTO order_lines (id, order_id, product_variant_id, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position`

	deleteStaleLinesSQL = `DELETE FROM order_lines
		WHERE order_id = $1 AND NOT (id = ANY($2))`

	upsertItemSQL = `INSERT INTO order_items (id, line_id, unit_price, adjustments,
		cancelled, fulfillment_id, refund_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			adjustments = EXCLUDED.adjustments,
			cancelled = EXCLUDED.cancelled,
			fulfillment_id = EXCLUDED.fulfillment_id,
			refund_id = EXCLUDED.refund_id`

	upsertPaymentSQL = `INSERT INTO payments (id, order_id, state, amount, method, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state`

	updateItemSQL = `UPDATE order_items SET
		adjustments = $2, cancelled = $3, fulfillment_id = $4, refund_id = $5
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Orders
// are stored relationally (orders, order_lines, order_items, payments) with
// adjustment lists serialized into JSONB columns.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID loads a fully populated order aggregate. Returns order.ErrNotFound
// when no order with the id exists.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o := &order.Order{}
	var (
		couponCodes  []byte
		adjustments  []byte
		promotionIDs []byte
	)
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.State, &o.Active, &o.PlacedAt, &o.CustomerID,
		&couponCodes, &adjustments, &promotionIDs,
		&o.ShippingMethodID, &o.Shipping, &o.SubTotal,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting order %q", id)
	}
	if err := unmarshalInto(couponCodes, &o.CouponCodes); err != nil {
		return nil, errors.Wrapf(err, "order %q coupon codes", id)
	}
	if err := unmarshalInto(adjustments, &o.Adjustments); err != nil {
		return nil, errors.Wrapf(err, "order %q adjustments", id)
	}
	if err := unmarshalInto(promotionIDs, &o.PromotionIDs); err != nil {
		return nil, errors.Wrapf(err, "order %q promotion ids", id)
	}

	if err := r.loadLines(ctx, o); err != nil {
		return nil, err
	}
	if err := r.loadPayments(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) loadLines(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, getOrderLinesSQL, o.ID)
	if err != nil {
		return errors.Wrapf(err, "getting lines for order %q", o.ID)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.OrderLine, error) {
		l := &order.OrderLine{}
		err := row.Scan(&l.ID, &l.ProductVariantID)
		return l, err
	})
	if err != nil {
		return errors.Wrapf(err, "scanning lines for order %q", o.ID)
	}
	o.Lines = lines

	byLine := make(map[string]*order.OrderLine, len(lines))
	for _, l := range lines {
		byLine[l.ID] = l
	}

	itemRows, err := r.pool.Query(ctx, getOrderItemsSQL, o.ID)
	if err != nil {
		return errors.Wrapf(err, "getting items for order %q", o.ID)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		it := &order.OrderItem{}
		var (
			lineID      string
			adjustments []byte
		)
		if err := itemRows.Scan(&it.ID, &lineID, &it.UnitPrice, &adjustments,
			&it.Cancelled, &it.FulfillmentID, &it.RefundID); err != nil {
			return errors.Wrapf(err, "scanning item for order %q", o.ID)
		}
		if err := unmarshalInto(adjustments, &it.Adjustments); err != nil {
			return errors.Wrapf(err, "item %q adjustments", it.ID)
		}
		l, ok := byLine[lineID]
		if !ok {
			return errors.Errorf("item %q references unknown line %q", it.ID, lineID)
		}
		l.Items = append(l.Items, it)
	}
	return itemRows.Err()
}

func (r *OrderRepository) loadPayments(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, getPaymentsSQL, o.ID)
	if err != nil {
		return errors.Wrapf(err, "getting payments for order %q", o.ID)
	}
	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*order.Payment, error) {
		p := &order.Payment{}
		err := row.Scan(&p.ID, &p.State, &p.Amount, &p.Method, &p.TransactionID)
		return p, err
	})
	if err != nil {
		return errors.Wrapf(err, "scanning payments for order %q", o.ID)
	}
	o.Payments = payments
	return nil
}

// Save writes the order row, lines, items and payments in one transaction.
// Lines removed from the aggregate are deleted; everything else is upserted.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	couponCodes, err := json.Marshal(emptySlice(o.CouponCodes))
	if err != nil {
		return errors.Wrap(err, "marshaling coupon codes")
	}
	adjustments, err := json.Marshal(emptySlice(o.Adjustments))
	if err != nil {
		return errors.Wrap(err, "marshaling adjustments")
	}
	promotionIDs, err := json.Marshal(emptySlice(o.PromotionIDs))
	if err != nil {
		return errors.Wrap(err, "marshaling promotion ids")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, upsertOrderSQL,
		o.ID, o.State, o.Active, o.PlacedAt, o.CustomerID,
		couponCodes, adjustments, promotionIDs,
		o.ShippingMethodID, o.Shipping, o.SubTotal,
	); err != nil {
		return errors.Wrapf(err, "saving order %q", o.ID)
	}

	lineIDs := make([]string, 0, len(o.Lines))
	for pos, l := range o.Lines {
		lineIDs = append(lineIDs, l.ID)
		if _, err := tx.Exec(ctx, upsertLineSQL, l.ID, o.ID, l.ProductVariantID, pos); err != nil {
			return errors.Wrapf(err, "saving line %q", l.ID)
		}
		for _, it := range l.Items {
			itemAdj, err := json.Marshal(emptySlice(it.Adjustments))
			if err != nil {
				return errors.Wrapf(err, "marshaling item %q adjustments", it.ID)
			}
			if _, err := tx.Exec(ctx, upsertItemSQL,
				it.ID, l.ID, it.UnitPrice, itemAdj,
				it.Cancelled, it.FulfillmentID, it.RefundID,
			); err != nil {
				return errors.Wrapf(err, "saving item %q", it.ID)
			}
		}
	}
	if _, err := tx.Exec(ctx, deleteStaleLinesSQL, o.ID, lineIDs); err != nil {
		return errors.Wrapf(err, "deleting removed lines for order %q", o.ID)
	}

	for _, p := range o.Payments {
		if _, err := tx.Exec(ctx, upsertPaymentSQL,
			p.ID, o.ID, p.State, p.Amount, p.Method, p.TransactionID,
		); err != nil {
			return errors.Wrapf(err, "saving payment %q", p.ID)
		}
	}

	return tx.Commit(ctx)
}

// UpdateItems writes back only the given items' mutable fields.
func (r *OrderRepository) UpdateItems(ctx context.Context, items []*order.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, it := range items {
		adj, err := json.Marshal(emptySlice(it.Adjustments))
		if err != nil {
			return errors.Wrapf(err, "marshaling item %q adjustments", it.ID)
		}
		batch.Queue(updateItemSQL, it.ID, adj, it.Cancelled, it.FulfillmentID, it.RefundID)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close() //nolint:errcheck

	for _, it := range items {
		if _, err := br.Exec(); err != nil {
			return errors.Wrapf(err, "updating item %q", it.ID)
		}
	}
	return nil
}

// unmarshalInto decodes a JSONB column, treating NULL as empty.
func unmarshalInto(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// emptySlice keeps JSONB columns as [] instead of null for nil slices.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
