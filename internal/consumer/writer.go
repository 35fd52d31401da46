// Package consumer contains the durable writer: the idempotent endpoint of
// the issuance event log. It materializes one user_coupons row per log record
// and relies on the schema's uniqueness constraints, not ordering, for
// correctness under replay.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-issuer/internal/model"
	"github.com/fairyhunter13/coupon-issuer/internal/repository"
	"github.com/fairyhunter13/coupon-issuer/pkg/database"
)

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IssuanceInserter persists issuance rows.
type IssuanceInserter interface {
	Insert(ctx context.Context, tx database.TxQuerier, rec model.IssuanceRecord) error
}

// StockMirror maintains the advisory event-row state: the remaining_stock
// column as issuances land, and retirement when the exhaustion marker arrives.
type StockMirror interface {
	DecrementRemaining(ctx context.Context, tx database.TxQuerier, eventID string) error
	MarkExhausted(ctx context.Context, tx database.TxQuerier, eventID string) error
}

// DeadLetterer routes unprocessable records to the dead letter topic.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, key, value []byte, cause string) error
}

// Writer applies issuance records to the database.
type Writer struct {
	pool        TxBeginner
	issuances   IssuanceInserter
	events      StockMirror
	dlq         DeadLetterer
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	// sleep is swappable so retry tests run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWriter creates a Writer with the given retry policy.
func NewWriter(pool TxBeginner, issuances IssuanceInserter, events StockMirror, dlq DeadLetterer, maxAttempts int, backoffBase, backoffCap time.Duration) *Writer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Writer{
		pool:        pool,
		issuances:   issuances,
		events:      events,
		dlq:         dlq,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		sleep:       sleepCtx,
	}
}

// Apply processes one log record end to end: decode, persist with bounded
// retries, dead-letter on exhaustion or permanent decode failure.
//
// A nil return means the record is settled (persisted, recognized as a
// replay, or dead-lettered) and its offset may be committed. A non-nil
// return means nothing durable happened; the caller must not commit and
// will see the record again.
func (w *Writer) Apply(ctx context.Context, key, value []byte) error {
	rec, err := model.UnmarshalIssuanceRecord(value)
	if err != nil {
		// Undecodable records never become processable; retrying would
		// block the partition forever.
		return w.deadLetter(ctx, key, value, fmt.Sprintf("decode: %v", err))
	}

	applyFn := w.applyIssuance
	if rec.Type == model.RecordTypeStockExhausted {
		applyFn = w.applyExhaustion
	}

	var lastErr error
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := w.backoffBase << (attempt - 1)
			if backoff > w.backoffCap {
				backoff = w.backoffCap
			}
			if err := w.sleep(ctx, backoff); err != nil {
				return err
			}
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt+1).
				Str("type", rec.Type).
				Str("event_id", rec.EventID).
				Str("coupon_id", rec.CouponID).
				Msg("retrying record persist")
		}
		if lastErr = applyFn(ctx, rec); lastErr == nil {
			return nil
		}
	}

	return w.deadLetter(ctx, key, value, fmt.Sprintf("persist after %d attempts: %v", w.maxAttempts, lastErr))
}

// applyIssuance runs one insert transaction. A uniqueness conflict means the
// row is already there (a replay, or the same user's record landed via
// another partition assignment) and is treated as applied without
// decrementing the advisory mirror again.
func (w *Writer) applyIssuance(ctx context.Context, rec model.IssuanceRecord) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	if err := w.issuances.Insert(ctx, tx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateIssuance) {
			log.Debug().
				Str("coupon_id", rec.CouponID).
				Str("user_id", rec.UserID).
				Str("event_id", rec.EventID).
				Msg("replayed issuance absorbed by uniqueness constraint")
			return nil
		}
		return fmt.Errorf("insert issuance: %w", err)
	}

	if err := w.events.DecrementRemaining(ctx, tx, rec.EventID); err != nil {
		return fmt.Errorf("mirror remaining stock: %w", err)
	}

	return tx.Commit(ctx)
}

// applyExhaustion retires the event row: the marker means the in-memory
// counter hit zero, so remaining_stock drops to zero and the event goes
// inactive. Naturally idempotent under replay.
func (w *Writer) applyExhaustion(ctx context.Context, rec model.IssuanceRecord) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := w.events.MarkExhausted(ctx, tx, rec.EventID); err != nil {
		return fmt.Errorf("retire event: %w", err)
	}

	log.Info().Str("event_id", rec.EventID).Msg("event retired after stock exhaustion")
	return tx.Commit(ctx)
}

func (w *Writer) deadLetter(ctx context.Context, key, value []byte, cause string) error {
	if err := w.dlq.PublishDeadLetter(ctx, key, value, cause); err != nil {
		// Both the database and the dead letter topic are failing; hold the
		// offset so the record is redelivered.
		return fmt.Errorf("dead letter: %w", err)
	}
	log.Error().
		Str("key", string(key)).
		Str("cause", cause).
		Msg("issuance record dead-lettered")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
