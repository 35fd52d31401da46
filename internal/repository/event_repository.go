package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/model"
	"github.com/fairyhunter13/coupon-issuer/internal/service"
	"github.com/fairyhunter13/coupon-issuer/pkg/database"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// EventRepository provides data access for coupon events using pgx.
type EventRepository struct {
	pool PoolInterface
}

// NewEventRepository creates a new EventRepository with the given pool.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// NewEventRepositoryWithPool creates a new EventRepository with a custom pool
// interface. This is primarily used for testing.
func NewEventRepositoryWithPool(pool PoolInterface) *EventRepository {
	return &EventRepository{pool: pool}
}

// Insert inserts a new event row.
// Returns service.ErrEventExists if the event id is already taken.
func (r *EventRepository) Insert(ctx context.Context, event *model.Event) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO coupon_events
		 (event_id, event_name, description, total_stock, remaining_stock, start_time, end_time, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.EventID, event.EventName, event.Description,
		event.TotalStock, event.TotalStock, // remaining_stock starts at total_stock
		event.StartTime, event.EndTime, event.IsActive)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrEventExists
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by its id.
// Returns nil, nil if the event is not found (service layer handles this).
func (r *EventRepository) GetByID(ctx context.Context, eventID string) (*model.Event, error) {
	query := `SELECT event_id, event_name, description, total_stock, remaining_stock,
	                 start_time, end_time, is_active, created_at, updated_at
	          FROM coupon_events WHERE event_id = $1`

	var event model.Event
	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&event.EventID,
		&event.EventName,
		&event.Description,
		&event.TotalStock,
		&event.RemainingStock,
		&event.StartTime,
		&event.EndTime,
		&event.IsActive,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get event by id %s: %w", eventID, err)
	}
	return &event, nil
}

// ListActive returns all events currently flagged active.
func (r *EventRepository) ListActive(ctx context.Context) ([]model.Event, error) {
	query := `SELECT event_id, event_name, description, total_stock, remaining_stock,
	                 start_time, end_time, is_active, created_at, updated_at
	          FROM coupon_events WHERE is_active ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var event model.Event
		if err := rows.Scan(
			&event.EventID, &event.EventName, &event.Description,
			&event.TotalStock, &event.RemainingStock,
			&event.StartTime, &event.EndTime, &event.IsActive,
			&event.CreatedAt, &event.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// SetActive flips the is_active flag on an event.
// Returns service.ErrEventNotFound when no row matches.
func (r *EventRepository) SetActive(ctx context.Context, eventID string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE coupon_events SET is_active = $2, updated_at = now() WHERE event_id = $1`,
		eventID, active)
	if err != nil {
		return fmt.Errorf("set event %s active=%t: %w", eventID, active, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrEventNotFound
	}
	return nil
}

// DecrementRemaining decrements the advisory remaining_stock mirror as
// issuance rows land. The Redis counter stays authoritative; this column is
// never read on the decision path. Must be called within the same transaction
// as the issuance insert.
func (r *EventRepository) DecrementRemaining(ctx context.Context, tx database.TxQuerier, eventID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupon_events
		 SET remaining_stock = GREATEST(remaining_stock - 1, 0), updated_at = now()
		 WHERE event_id = $1`,
		eventID)
	if err != nil {
		return fmt.Errorf("decrement remaining for %s: %w", eventID, err)
	}
	return nil
}

// MarkExhausted retires an event whose stock ran out: zeroes the advisory
// mirror and flips it inactive. Re-applying is a no-op, and a missing row is
// not an error; the marker may be replayed or arrive for an event whose
// metadata was never created.
func (r *EventRepository) MarkExhausted(ctx context.Context, tx database.TxQuerier, eventID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE coupon_events
		 SET remaining_stock = 0, is_active = false, updated_at = now()
		 WHERE event_id = $1`,
		eventID)
	if err != nil {
		return fmt.Errorf("mark %s exhausted: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Warn().Str("event_id", eventID).Msg("exhaustion marker for unknown event")
	}
	return nil
}
