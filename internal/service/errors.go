package service

import "errors"

var (
	// ErrEventExists is returned when creating an event whose id is taken
	ErrEventExists = errors.New("event already exists")

	// ErrEventNotFound is returned when an event cannot be found
	ErrEventNotFound = errors.New("event not found")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyParticipated is returned when a user attempts to obtain a
	// second coupon for the same event
	ErrAlreadyParticipated = errors.New("user already participated in event")

	// ErrNoStock is returned when an event has no remaining stock
	ErrNoStock = errors.New("no stock available")

	// ErrStockNotInitialized is returned when the stock counter for an event
	// has never been seeded; seeding is an explicit admin action
	ErrStockNotInitialized = errors.New("stock not initialized")

	// ErrStoreUnavailable is returned when the decision store cannot be
	// reached before the atomic script was evaluated
	ErrStoreUnavailable = errors.New("decision store unavailable")

	// ErrPublishFailed is returned when the issuance event could not be made
	// durable; the in-memory decision has been compensated (or compensation
	// has been handed to reconciliation)
	ErrPublishFailed = errors.New("issuance event publish failed")
)
