package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/model"
)

// EventRepositoryInterface defines the interface for event metadata access.
type EventRepositoryInterface interface {
	Insert(ctx context.Context, event *model.Event) error
	GetByID(ctx context.Context, eventID string) (*model.Event, error)
	SetActive(ctx context.Context, eventID string, active bool) error
}

// StockSeeder seeds the in-memory stock counter.
type StockSeeder interface {
	InitializeStock(ctx context.Context, eventID string, stock int, ttl time.Duration) (bool, error)
}

// AdminService provides the event lifecycle: create, initialize stock,
// deactivate. Issuance never initializes stock implicitly; these operations
// are the only seeding path.
type AdminService struct {
	events     EventRepositoryInterface
	store      StockSeeder
	defaultTTL time.Duration
	// lagBuffer extends the stock/participant TTL past the event end so the
	// consumer can drain before keys expire; too short a horizon makes
	// reconciliation report false gaps.
	lagBuffer time.Duration
}

// NewAdminService creates a new AdminService.
func NewAdminService(events EventRepositoryInterface, store StockSeeder, defaultTTL time.Duration) *AdminService {
	return &AdminService{
		events:     events,
		store:      store,
		defaultTTL: defaultTTL,
		lagBuffer:  time.Hour,
	}
}

// CreateEvent creates the event metadata row. Stock is not seeded here;
// initialization is a separate explicit action.
// Returns ErrEventExists when the id is taken.
func (s *AdminService) CreateEvent(ctx context.Context, req *model.CreateEventRequest) error {
	if req == nil || req.TotalStock == nil {
		return ErrInvalidRequest
	}
	event := &model.Event{
		EventID:        req.EventID,
		EventName:      req.EventName,
		Description:    req.Description,
		TotalStock:     *req.TotalStock,
		RemainingStock: *req.TotalStock,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		IsActive:       true,
	}
	return s.events.Insert(ctx, event)
}

// InitResult reports what InitializeStock did.
type InitResult struct {
	EventID    string
	TotalStock int
	Seeded     bool // false when the counter already existed (no-op re-run)
}

// InitializeStock writes the metadata row and seeds the in-memory stock key
// as one logical action. Both halves tolerate re-runs: the row insert
// ignores an existing event and the counter is set NX, so retrying after a
// partial failure converges.
func (s *AdminService) InitializeStock(ctx context.Context, eventID string, totalStock int) (*InitResult, error) {
	if eventID == "" || totalStock < 0 {
		return nil, ErrInvalidRequest
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if event == nil {
		// Seeding an id that was never created gets a minimal metadata row
		// so the consumer and reconciler have something to anchor on.
		now := time.Now().UTC()
		event = &model.Event{
			EventID:        eventID,
			EventName:      eventID,
			TotalStock:     totalStock,
			RemainingStock: totalStock,
			StartTime:      now,
			EndTime:        now.Add(24 * time.Hour),
			IsActive:       true,
		}
		if err := s.events.Insert(ctx, event); err != nil && !errors.Is(err, ErrEventExists) {
			return nil, fmt.Errorf("insert event: %w", err)
		}
	}

	// The key horizon must outlive the event end plus expected consumer lag.
	ttl := time.Until(event.EndTime) + s.lagBuffer
	if ttl < s.defaultTTL {
		ttl = s.defaultTTL
	}

	seeded, err := s.store.InitializeStock(ctx, eventID, totalStock, ttl)
	if err != nil {
		return nil, fmt.Errorf("seed stock: %w", err)
	}
	if !seeded {
		log.Info().Str("event_id", eventID).Msg("stock already seeded; initialize is a no-op")
	}

	return &InitResult{EventID: eventID, TotalStock: totalStock, Seeded: seeded}, nil
}

// GetEvent returns the event metadata row.
// Returns ErrEventNotFound when no row exists.
func (s *AdminService) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// DeactivateEvent flips the event inactive. In-memory keys are left to their
// TTL; the issue script keeps failing closed once stock hits zero.
func (s *AdminService) DeactivateEvent(ctx context.Context, eventID string) error {
	if err := s.events.SetActive(ctx, eventID, false); err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return ErrEventNotFound
		}
		return fmt.Errorf("deactivate event: %w", err)
	}
	return nil
}
