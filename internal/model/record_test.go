package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuanceRecord_PartitionKey(t *testing.T) {
	rec := IssuanceRecord{EventID: "e1", UserID: "u1"}
	assert.Equal(t, "e1:u1", rec.PartitionKey())

	// Exhaustion markers carry no user; they key on the event alone so they
	// land on the same partition as that event's issuances.
	marker := IssuanceRecord{Type: RecordTypeStockExhausted, EventID: "e1"}
	assert.Equal(t, "e1", marker.PartitionKey())
}

func TestUnmarshalIssuanceRecord_RoundTrip(t *testing.T) {
	in := IssuanceRecord{
		Version:  RecordVersion,
		Type:     RecordTypeIssuance,
		CouponID: "c1",
		UserID:   "u1",
		EventID:  "e1",
		IssuedAt: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
	data, err := in.Marshal()
	require.NoError(t, err)

	out, err := UnmarshalIssuanceRecord(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalIssuanceRecord_UntypedDefaultsToIssuance(t *testing.T) {
	// Records written before the type field existed carry no type; they are
	// issuances.
	data := `{"version":"1.0","coupon_id":"c1","user_id":"u1","event_id":"e1","issued_at":"2026-08-24T12:00:00Z"}`

	rec, err := UnmarshalIssuanceRecord([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, RecordTypeIssuance, rec.Type)
}

func TestUnmarshalIssuanceRecord_StockExhausted(t *testing.T) {
	data := `{"version":"1.0","type":"stock_exhausted","event_id":"e1","issued_at":"2026-08-24T12:00:00Z"}`

	rec, err := UnmarshalIssuanceRecord([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, RecordTypeStockExhausted, rec.Type)
	assert.Equal(t, "e1", rec.EventID)

	_, err = UnmarshalIssuanceRecord([]byte(`{"version":"1.0","type":"stock_exhausted"}`))
	assert.Error(t, err, "a marker without an event id is unprocessable")
}

func TestUnmarshalIssuanceRecord_UnknownType(t *testing.T) {
	data := `{"version":"1.0","type":"mystery","event_id":"e1"}`

	_, err := UnmarshalIssuanceRecord([]byte(data))
	assert.Error(t, err)
}

func TestUnmarshalIssuanceRecord_Rejects(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not_json", "not json at all"},
		{"missing_coupon_id", `{"version":"1.0","user_id":"u1","event_id":"e1"}`},
		{"missing_user_id", `{"version":"1.0","coupon_id":"c1","event_id":"e1"}`},
		{"missing_event_id", `{"version":"1.0","coupon_id":"c1","user_id":"u1"}`},
		{"empty_object", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UnmarshalIssuanceRecord([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalIssuanceRecord_DefaultsIssuedAt(t *testing.T) {
	data := `{"version":"1.0","coupon_id":"c1","user_id":"u1","event_id":"e1"}`

	rec, err := UnmarshalIssuanceRecord([]byte(data))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), rec.IssuedAt, time.Minute)
}
