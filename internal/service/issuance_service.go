package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/cache"
	"github.com/fairyhunter13/coupon-issuer/internal/model"
)

// DecisionStore is the in-memory store client used on the issuance path.
type DecisionStore interface {
	Issue(ctx context.Context, eventID, userID, couponID string, ttl time.Duration) (cache.Result, error)
	Compensate(ctx context.Context, eventID, userID string) (bool, error)
	Remaining(ctx context.Context, eventID string) (int, bool, error)
	ParticipantsCount(ctx context.Context, eventID string) (int64, error)
	UserCoupon(ctx context.Context, eventID, userID string) (string, error)
}

// EventPublisher appends issuance events to the durable log.
type EventPublisher interface {
	PublishIssuance(ctx context.Context, rec model.IssuanceRecord) error
	PublishExhaustion(ctx context.Context, eventID string) error
}

// IssuanceCounter reads persisted issuance counts.
type IssuanceCounter interface {
	CountByEvent(ctx context.Context, eventID string) (int, error)
}

// IssueResult is the synchronous PASS outcome.
type IssueResult struct {
	CouponID  string
	Remaining int
}

// IssuanceService drives the synchronous request state machine:
// mint id, run the atomic decision, make the event durable, respond.
type IssuanceService struct {
	store     DecisionStore
	publisher EventPublisher
	issuances IssuanceCounter
	couponTTL time.Duration
}

// NewIssuanceService creates a new IssuanceService.
func NewIssuanceService(store DecisionStore, publisher EventPublisher, issuances IssuanceCounter, couponTTL time.Duration) *IssuanceService {
	return &IssuanceService{
		store:     store,
		publisher: publisher,
		issuances: issuances,
		couponTTL: couponTTL,
	}
}

// Issue attempts to grant (user, event) one coupon.
//
// The coupon id is minted before the decision so the same token correlates
// the user cache slot, the log record, and the eventual persistent row.
// The publish waits for durability acknowledgement before the caller sees
// PASS: a success response implies the log record exists. If publishing
// exhausts its budget, the in-memory decision is compensated and the caller
// gets ErrPublishFailed; the user may safely retry.
func (s *IssuanceService) Issue(ctx context.Context, userID, eventID string) (*IssueResult, error) {
	if userID == "" || eventID == "" {
		return nil, ErrInvalidRequest
	}

	couponUUID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("mint coupon id: %w", err)
	}
	couponID := couponUUID.String()

	res, err := s.store.Issue(ctx, eventID, userID, couponID, s.couponTTL)
	if err != nil {
		if errors.Is(err, cache.ErrStoreUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("issue decision: %w", err)
	}

	if !res.Success() {
		switch res.Code {
		case cache.CodeAlreadyParticipated:
			return nil, ErrAlreadyParticipated
		case cache.CodeNoStock:
			return nil, ErrNoStock
		case cache.CodeNotInitialized:
			return nil, ErrStockNotInitialized
		default:
			return nil, fmt.Errorf("issue decision: unexpected code %q", res.Code)
		}
	}

	// Stock has been debited. From here on the request deadline must not
	// abort the publish: either the record becomes durable or the decision
	// is rolled back.
	durableCtx := context.WithoutCancel(ctx)

	rec := model.IssuanceRecord{
		Version:  model.RecordVersion,
		Type:     model.RecordTypeIssuance,
		CouponID: couponID,
		UserID:   userID,
		EventID:  eventID,
		IssuedAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishIssuance(durableCtx, rec); err != nil {
		s.compensate(durableCtx, eventID, userID, couponID)
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	// The last unit just went out: append the exhaustion marker so the
	// writer retires the event row. Best effort; the user's grant is
	// already durable and reconciliation reports a still-active empty
	// event either way.
	if res.Remaining == 0 {
		if err := s.publisher.PublishExhaustion(durableCtx, eventID); err != nil {
			log.Warn().Err(err).Str("event_id", eventID).Msg("exhaustion marker publish failed")
		}
	}

	return &IssueResult{CouponID: couponID, Remaining: res.Remaining}, nil
}

// compensate rolls back a PASS whose record never became durable. Failure
// here is surfaced to the operator and left for reconciliation; the client
// still receives a retryable error either way.
func (s *IssuanceService) compensate(ctx context.Context, eventID, userID, couponID string) {
	undone, err := s.store.Compensate(ctx, eventID, userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", eventID).
			Str("user_id", userID).
			Str("coupon_id", couponID).
			Msg("compensation failed; reconciliation will report the orphaned participant")
		return
	}
	log.Warn().
		Bool("undone", undone).
		Str("event_id", eventID).
		Str("user_id", userID).
		Str("coupon_id", couponID).
		Msg("issuance compensated after publish failure")
}

// Status returns the live counters for an event: remaining stock and
// participant count from the store, persisted issuance count from the
// database.
func (s *IssuanceService) Status(ctx context.Context, eventID string) (*model.EventStatusResponse, error) {
	remaining, found, err := s.store.Remaining(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("read remaining: %w", err)
	}
	if !found {
		remaining = 0
	}

	participants, err := s.store.ParticipantsCount(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("read participants: %w", err)
	}

	issued, err := s.issuances.CountByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count issued: %w", err)
	}

	return &model.EventStatusResponse{
		EventID:           eventID,
		RemainingStock:    remaining,
		TotalParticipants: int(participants),
		TotalIssued:       issued,
	}, nil
}

// UserCoupon returns the coupon cached for (user, event), if any.
func (s *IssuanceService) UserCoupon(ctx context.Context, userID, eventID string) (*model.UserCouponResponse, error) {
	couponID, err := s.store.UserCoupon(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("get user coupon: %w", err)
	}
	resp := &model.UserCouponResponse{UserID: userID, EventID: eventID, CouponID: couponID}
	if couponID == "" {
		resp.Message = "no coupon found"
	}
	return resp, nil
}
