package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valmera/ordercore/internal/domain/promotion"
)

const (
	activePromotionsSQL = `SELECT id, name, enabled, coupon_code, starts_at, ends_at,
		usage_limit, uses, conditions, actions
		FROM promotions WHERE enabled = TRUE ORDER BY id`

	promotionByCouponSQL = `SELECT id, name, enabled, coupon_code, starts_at, ends_at,
		usage_limit, uses, conditions, actions
		FROM promotions WHERE UPPER(coupon_code) = UPPER($1) AND enabled = TRUE`

	incrementPromotionUsesSQL = `UPDATE promotions SET uses = uses + 1 WHERE id = $1`

	upsertPromotionSQL = `INSERT INTO promotions
		(id, name, enabled, coupon_code, starts_at, ends_at, usage_limit, conditions, actions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, enabled = EXCLUDED.enabled,
			coupon_code = EXCLUDED.coupon_code,
			starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
			usage_limit = EXCLUDED.usage_limit,
			conditions = EXCLUDED.conditions, actions = EXCLUDED.actions`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
// Condition and action instances are stored as JSONB.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// Active returns every enabled promotion. Date windows and usage limits are
// evaluated by the caller, not filtered here.
func (r *PromotionRepository) Active(ctx context.Context) ([]*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, activePromotionsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing active promotions")
	}
	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, errors.Wrap(err, "scanning promotions")
	}
	return promos, nil
}

// FindByCouponCode looks up an enabled promotion by coupon code,
// case-insensitively. Returns promotion.ErrNotFound when no match exists.
func (r *PromotionRepository) FindByCouponCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, promotionByCouponSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "finding promotion by coupon %q", code)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, errors.Wrapf(err, "finding promotion by coupon %q", code)
	}
	return p, nil
}

// IncrementUses atomically increments the promotion's usage counter.
func (r *PromotionRepository) IncrementUses(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, incrementPromotionUsesSQL, id); err != nil {
		return errors.Wrapf(err, "incrementing uses for promotion %q", id)
	}
	return nil
}

// Upsert inserts or replaces a promotion record. The usage counter of an
// existing row is left untouched.
func (r *PromotionRepository) Upsert(ctx context.Context, p *promotion.Promotion) error {
	conditions, err := json.Marshal(emptySlice(p.Conditions))
	if err != nil {
		return errors.Wrapf(err, "promotion %q conditions", p.ID)
	}
	actions, err := json.Marshal(emptySlice(p.Actions))
	if err != nil {
		return errors.Wrapf(err, "promotion %q actions", p.ID)
	}
	if _, err := r.pool.Exec(ctx, upsertPromotionSQL,
		p.ID, p.Name, p.Enabled, p.CouponCode, p.StartsAt, p.EndsAt,
		p.UsageLimit, conditions, actions); err != nil {
		return errors.Wrapf(err, "upserting promotion %q", p.ID)
	}
	return nil
}

// UpsertBatch writes promotions in a single round trip per batch.
func (r *PromotionRepository) UpsertBatch(ctx context.Context, promos []*promotion.Promotion) error {
	batch := &pgx.Batch{}
	for _, p := range promos {
		conditions, err := json.Marshal(emptySlice(p.Conditions))
		if err != nil {
			return errors.Wrapf(err, "promotion %q conditions", p.ID)
		}
		actions, err := json.Marshal(emptySlice(p.Actions))
		if err != nil {
			return errors.Wrapf(err, "promotion %q actions", p.ID)
		}
		batch.Queue(upsertPromotionSQL,
			p.ID, p.Name, p.Enabled, p.CouponCode, p.StartsAt, p.EndsAt,
			p.UsageLimit, conditions, actions)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upserting promotion batch")
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (*promotion.Promotion, error) {
	p := &promotion.Promotion{}
	var conditions, actions []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Enabled, &p.CouponCode,
		&p.StartsAt, &p.EndsAt, &p.UsageLimit, &p.Uses,
		&conditions, &actions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
		return nil, errors.Wrapf(err, "promotion %q conditions", p.ID)
	}
	if err := json.Unmarshal(actions, &p.Actions); err != nil {
		return nil, errors.Wrapf(err, "promotion %q actions", p.ID)
	}
	return p, nil
}
