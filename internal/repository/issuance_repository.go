package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/coupon-issuer/internal/model"
	"github.com/fairyhunter13/coupon-issuer/pkg/database"
)

// ErrDuplicateIssuance is returned when an insert hits either uniqueness
// constraint (coupon_id, or user_id+event_id). The durable writer treats it
// as already-applied: the schema's constraints, not ordering, carry
// correctness under replay.
var ErrDuplicateIssuance = errors.New("issuance already persisted")

// IssuanceRepository provides data access for user coupon rows using pgx.
type IssuanceRepository struct {
	pool PoolInterface
}

// NewIssuanceRepository creates a new IssuanceRepository with the given pool.
func NewIssuanceRepository(pool *pgxpool.Pool) *IssuanceRepository {
	return &IssuanceRepository{pool: pool}
}

// NewIssuanceRepositoryWithPool creates a new IssuanceRepository with a
// custom pool interface. This is primarily used for testing.
func NewIssuanceRepositoryWithPool(pool PoolInterface) *IssuanceRepository {
	return &IssuanceRepository{pool: pool}
}

// Insert materializes one issuance row within a transaction.
// Returns ErrDuplicateIssuance on a uniqueness conflict.
func (r *IssuanceRepository) Insert(ctx context.Context, tx database.TxQuerier, rec model.IssuanceRecord) error {
	query := `INSERT INTO user_coupons (coupon_id, user_id, event_id, issued_at, is_used)
	          VALUES ($1, $2, $3, $4, false)`

	_, err := tx.Exec(ctx, query, rec.CouponID, rec.UserID, rec.EventID, rec.IssuedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIssuance
		}
		return fmt.Errorf("insert issuance: %w", err)
	}
	return nil
}

// CountByEvent returns the number of persisted issuances for an event.
func (r *IssuanceRepository) CountByEvent(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_coupons WHERE event_id = $1`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issuances for %s: %w", eventID, err)
	}
	return count, nil
}

// GetByCouponID retrieves an issuance by its coupon id.
// Returns nil, nil when not found.
func (r *IssuanceRepository) GetByCouponID(ctx context.Context, couponID string) (*model.Issuance, error) {
	query := `SELECT id, coupon_id, user_id, event_id, issued_at, is_used, used_at
	          FROM user_coupons WHERE coupon_id = $1`

	var iss model.Issuance
	err := r.pool.QueryRow(ctx, query, couponID).Scan(
		&iss.ID, &iss.CouponID, &iss.UserID, &iss.EventID,
		&iss.IssuedAt, &iss.IsUsed, &iss.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get issuance by coupon id %s: %w", couponID, err)
	}
	return &iss, nil
}
