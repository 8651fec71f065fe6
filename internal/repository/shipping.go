package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valmera/ordercore/internal/domain/shipping"
)

const (
	activeShippingMethodsSQL = `SELECT id, code, name, description, checker, calculator
		FROM shipping_methods WHERE enabled = TRUE ORDER BY position, id`

	shippingMethodByIDSQL = `SELECT id, code, name, description, checker, calculator
		FROM shipping_methods WHERE id = $1 AND enabled = TRUE`

	upsertShippingMethodSQL = `INSERT INTO shipping_methods
		(id, code, name, description, checker, calculator, enabled, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, name = EXCLUDED.name,
			description = EXCLUDED.description,
			checker = EXCLUDED.checker, calculator = EXCLUDED.calculator,
			enabled = EXCLUDED.enabled, position = EXCLUDED.position`
)

var _ shipping.Repository = (*ShippingMethodRepository)(nil)

// ShippingMethodRepository implements shipping.Repository backed by
// PostgreSQL. Checker and calculator instances are stored as JSONB.
type ShippingMethodRepository struct {
	pool *pgxpool.Pool
}

// NewShippingMethodRepository returns a ShippingMethodRepository that uses
// the given pool.
func NewShippingMethodRepository(pool *pgxpool.Pool) *ShippingMethodRepository {
	return &ShippingMethodRepository{pool: pool}
}

// Active returns the enabled shipping methods in display order.
func (r *ShippingMethodRepository) Active(ctx context.Context) ([]*shipping.Method, error) {
	rows, err := r.pool.Query(ctx, activeShippingMethodsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing shipping methods")
	}
	methods, err := pgx.CollectRows(rows, scanShippingMethod)
	if err != nil {
		return nil, errors.Wrap(err, "scanning shipping methods")
	}
	return methods, nil
}

// GetByID returns one enabled method or shipping.ErrNotFound.
func (r *ShippingMethodRepository) GetByID(ctx context.Context, id string) (*shipping.Method, error) {
	rows, err := r.pool.Query(ctx, shippingMethodByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting shipping method %q", id)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanShippingMethod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting shipping method %q", id)
	}
	return m, nil
}

// Upsert inserts or replaces a shipping method at the given display position.
func (r *ShippingMethodRepository) Upsert(ctx context.Context, m *shipping.Method, enabled bool, position int) error {
	checker, err := json.Marshal(m.Checker)
	if err != nil {
		return errors.Wrapf(err, "method %q checker", m.ID)
	}
	calculator, err := json.Marshal(m.Calculator)
	if err != nil {
		return errors.Wrapf(err, "method %q calculator", m.ID)
	}
	if _, err := r.pool.Exec(ctx, upsertShippingMethodSQL,
		m.ID, m.Code, m.Name, m.Description, checker, calculator, enabled, position); err != nil {
		return errors.Wrapf(err, "upserting shipping method %q", m.ID)
	}
	return nil
}

func scanShippingMethod(row pgx.CollectableRow) (*shipping.Method, error) {
	m := &shipping.Method{}
	var checker, calculator []byte
	if err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Description, &checker, &calculator); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(checker, &m.Checker); err != nil {
		return nil, errors.Wrapf(err, "method %q checker", m.ID)
	}
	if err := json.Unmarshal(calculator, &m.Calculator); err != nil {
		return nil, errors.Wrapf(err, "method %q calculator", m.ID)
	}
	return m, nil
}
