package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valmera/ordercore/internal/domain/order"
)

const insertHistorySQL = `INSERT INTO order_history (order_id, type, data)
	VALUES ($1, $2, $3)`

var _ order.HistorySink = (*HistoryRepository)(nil)

// HistoryRepository persists order audit entries.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository that uses the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// Record appends one audit entry for the order.
func (r *HistoryRepository) Record(ctx context.Context, e order.HistoryEntry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return errors.Wrap(err, "marshaling history data")
	}
	if _, err := r.pool.Exec(ctx, insertHistorySQL, e.OrderID, e.Type, data); err != nil {
		return errors.Wrapf(err, "recording history for order %q", e.OrderID)
	}
	return nil
}
