package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RecordVersion is stamped on every log record so the schema can evolve
// without breaking consumers reading older offsets.
const RecordVersion = "1.0"

// Record types carried on the event log. An absent type means coupon_issued;
// the field was added after the first records were written.
const (
	RecordTypeIssuance       = "coupon_issued"
	RecordTypeStockExhausted = "stock_exhausted"
)

// IssuanceRecord is the event-log payload handed from the issuance handler
// to the durable writer. The wire format is a stable JSON object.
//
// A coupon_issued record carries all three identifiers. A stock_exhausted
// record carries only the event id; it marks the moment the last unit was
// debited and tells the writer to retire the event row.
type IssuanceRecord struct {
	Version  string    `json:"version"`
	Type     string    `json:"type,omitempty"`
	CouponID string    `json:"coupon_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	EventID  string    `json:"event_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// PartitionKey returns the log partition key. Issuance records key by
// event_id:user_id for strict per-user ordering within an event; exhaustion
// records key by event_id alone.
func (r IssuanceRecord) PartitionKey() string {
	if r.UserID == "" {
		return r.EventID
	}
	return r.EventID + ":" + r.UserID
}

// Marshal encodes the record for the log.
func (r IssuanceRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalIssuanceRecord decodes a log record and rejects payloads that are
// structurally valid JSON but missing the identifiers their type requires.
// Such records are permanently unprocessable and belong in the dead letter
// topic.
func UnmarshalIssuanceRecord(data []byte) (IssuanceRecord, error) {
	var r IssuanceRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return IssuanceRecord{}, fmt.Errorf("decode issuance record: %w", err)
	}
	if r.Type == "" {
		r.Type = RecordTypeIssuance
	}
	switch r.Type {
	case RecordTypeIssuance:
		if r.CouponID == "" || r.UserID == "" || r.EventID == "" {
			return IssuanceRecord{}, errors.New("issuance record missing required fields")
		}
	case RecordTypeStockExhausted:
		if r.EventID == "" {
			return IssuanceRecord{}, errors.New("exhaustion record missing event id")
		}
	default:
		return IssuanceRecord{}, fmt.Errorf("unknown record type %q", r.Type)
	}
	if r.IssuedAt.IsZero() {
		r.IssuedAt = time.Now().UTC()
	}
	return r, nil
}
