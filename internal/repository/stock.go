package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valmera/ordercore/internal/domain/order"
)

const insertStockMovementSQL = `INSERT INTO stock_movements (order_id, line_id, delta)
	VALUES ($1, $2, $3)`

var _ order.StockSink = (*StockRepository)(nil)

// StockRepository persists inventory movements.
type StockRepository struct {
	pool *pgxpool.Pool
}

// NewStockRepository returns a StockRepository that uses the given pool.
func NewStockRepository(pool *pgxpool.Pool) *StockRepository {
	return &StockRepository{pool: pool}
}

// RecordMovements writes the movements in one batch.
func (r *StockRepository) RecordMovements(ctx context.Context, movements []order.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(insertStockMovementSQL, m.OrderID, m.LineID, m.Delta)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close() //nolint:errcheck

	for range movements {
		if _, err := br.Exec(); err != nil {
			return errors.Wrap(err, "recording stock movements")
		}
	}
	return nil
}
