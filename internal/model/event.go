package model

import "time"

// Event is a coupon campaign with a finite stock.
type Event struct {
	EventID        string    `json:"event_id"`
	EventName      string    `json:"event_name"`
	Description    string    `json:"description"`
	TotalStock     int       `json:"total_stock"`
	RemainingStock int       `json:"remaining_stock"` // advisory mirror; Redis is authoritative
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// Issuance is the durable record of a successful coupon grant.
type Issuance struct {
	ID       int64      `json:"id"`
	CouponID string     `json:"coupon_id"`
	UserID   string     `json:"user_id"`
	EventID  string     `json:"event_id"`
	IssuedAt time.Time  `json:"issued_at"`
	IsUsed   bool       `json:"is_used"`
	UsedAt   *time.Time `json:"used_at,omitempty"`
}

// IssueCouponRequest is the DTO for POST /api/v1/coupons/issue.
type IssueCouponRequest struct {
	UserID  string `json:"user_id" validate:"required,notblank,max=255"`
	EventID string `json:"event_id" validate:"required,notblank,max=255"`
}

// IssueCouponResponse is the synchronous PASS/FAIL response.
// CouponID and Remaining are only set on success; Reason only on failure.
type IssueCouponResponse struct {
	Success   bool   `json:"success"`
	CouponID  string `json:"coupon_id,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// EventStatusResponse is the DTO for GET /api/v1/coupons/status/:event_id.
// The first two counters come from Redis, the third from Postgres.
type EventStatusResponse struct {
	EventID           string `json:"event_id"`
	RemainingStock    int    `json:"remaining_stock"`
	TotalParticipants int    `json:"total_participants"`
	TotalIssued       int    `json:"total_issued"`
}

// CreateEventRequest is the DTO for POST /api/v1/admin/events.
type CreateEventRequest struct {
	EventID     string    `json:"event_id" validate:"required,notblank,max=50"`
	EventName   string    `json:"event_name" validate:"required,notblank,max=200"`
	Description string    `json:"description" validate:"max=2000"`
	TotalStock  *int      `json:"total_stock" validate:"required,gte=0"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

// UserCouponResponse is the DTO for GET /api/v1/coupons/user/:user_id/event/:event_id.
type UserCouponResponse struct {
	UserID   string `json:"user_id"`
	EventID  string `json:"event_id"`
	CouponID string `json:"coupon_id,omitempty"`
	Message  string `json:"message,omitempty"`
}
