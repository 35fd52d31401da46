package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/coupon-issuer/internal/model"
	"github.com/fairyhunter13/coupon-issuer/internal/repository"
	"github.com/fairyhunter13/coupon-issuer/pkg/database"
)

// mockTx is a mock implementation of pgx.Tx for testing transactions.
type mockTx struct {
	committed  bool
	rolledBack bool
	commitFn   func(ctx context.Context) error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return m, nil }

func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	if m.commitFn != nil {
		return m.commitFn(ctx)
	}
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if !m.committed {
		m.rolledBack = true
	}
	return nil
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (m *mockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (m *mockTx) Conn() *pgx.Conn                                               { return nil }

// mockTxBeginner is a mock implementation of TxBeginner.
type mockTxBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
	begun   int
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	m.begun++
	if m.beginFn != nil {
		return m.beginFn(ctx)
	}
	return &mockTx{}, nil
}

// mockInserter is a mock implementation of IssuanceInserter.
type mockInserter struct {
	insertFn func(ctx context.Context, tx database.TxQuerier, rec model.IssuanceRecord) error
	inserted []model.IssuanceRecord
}

func (m *mockInserter) Insert(ctx context.Context, tx database.TxQuerier, rec model.IssuanceRecord) error {
	m.inserted = append(m.inserted, rec)
	if m.insertFn != nil {
		return m.insertFn(ctx, tx, rec)
	}
	return nil
}

// mockMirror is a mock implementation of StockMirror.
type mockMirror struct {
	decremented []string
	exhausted   []string
	markFn      func(ctx context.Context, tx database.TxQuerier, eventID string) error
}

func (m *mockMirror) DecrementRemaining(ctx context.Context, tx database.TxQuerier, eventID string) error {
	m.decremented = append(m.decremented, eventID)
	return nil
}

func (m *mockMirror) MarkExhausted(ctx context.Context, tx database.TxQuerier, eventID string) error {
	m.exhausted = append(m.exhausted, eventID)
	if m.markFn != nil {
		return m.markFn(ctx, tx, eventID)
	}
	return nil
}

// mockDLQ is a mock implementation of DeadLetterer.
type mockDLQ struct {
	publishFn func(ctx context.Context, key, value []byte, cause string) error
	published []string // causes
}

func (m *mockDLQ) PublishDeadLetter(ctx context.Context, key, value []byte, cause string) error {
	m.published = append(m.published, cause)
	if m.publishFn != nil {
		return m.publishFn(ctx, key, value, cause)
	}
	return nil
}

func newTestWriter(pool TxBeginner, ins *mockInserter, mir *mockMirror, dlq *mockDLQ, attempts int) *Writer {
	w := NewWriter(pool, ins, mir, dlq, attempts, time.Second, 30*time.Second)
	w.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return w
}

func recordBytes(t *testing.T) []byte {
	t.Helper()
	rec := model.IssuanceRecord{
		Version:  model.RecordVersion,
		CouponID: "c1",
		UserID:   "u1",
		EventID:  "e1",
		IssuedAt: time.Now().UTC(),
	}
	data, err := rec.Marshal()
	require.NoError(t, err)
	return data
}

func TestApply_PersistsAndMirrors(t *testing.T) {
	tx := &mockTx{}
	pool := &mockTxBeginner{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
	ins := &mockInserter{}
	mir := &mockMirror{}
	dlq := &mockDLQ{}
	w := newTestWriter(pool, ins, mir, dlq, 5)

	err := w.Apply(context.Background(), []byte("e1:u1"), recordBytes(t))

	require.NoError(t, err)
	require.Len(t, ins.inserted, 1)
	assert.Equal(t, "c1", ins.inserted[0].CouponID)
	assert.Equal(t, []string{"e1"}, mir.decremented)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	assert.Empty(t, dlq.published)
}

func TestApply_ExhaustionMarkerRetiresEvent(t *testing.T) {
	tx := &mockTx{}
	pool := &mockTxBeginner{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
	ins := &mockInserter{}
	mir := &mockMirror{}
	dlq := &mockDLQ{}
	w := newTestWriter(pool, ins, mir, dlq, 5)

	marker := model.IssuanceRecord{
		Version:  model.RecordVersion,
		Type:     model.RecordTypeStockExhausted,
		EventID:  "e1",
		IssuedAt: time.Now().UTC(),
	}
	data, err := marker.Marshal()
	require.NoError(t, err)

	err = w.Apply(context.Background(), []byte("e1"), data)

	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, mir.exhausted)
	assert.Empty(t, ins.inserted, "the marker carries no coupon row")
	assert.Empty(t, mir.decremented)
	assert.True(t, tx.committed)
	assert.Empty(t, dlq.published)
}

func TestApply_ExhaustionMarkerRetriesTransientErrors(t *testing.T) {
	pool := &mockTxBeginner{}
	calls := 0
	mir := &mockMirror{
		markFn: func(ctx context.Context, txq database.TxQuerier, eventID string) error {
			calls++
			if calls < 2 {
				return errors.New("connection reset")
			}
			return nil
		},
	}
	dlq := &mockDLQ{}
	w := newTestWriter(pool, &mockInserter{}, mir, dlq, 5)

	marker := model.IssuanceRecord{Version: model.RecordVersion, Type: model.RecordTypeStockExhausted, EventID: "e1"}
	data, err := marker.Marshal()
	require.NoError(t, err)

	err = w.Apply(context.Background(), []byte("e1"), data)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Empty(t, dlq.published)
}

func TestApply_ReplayIsSettledWithoutMirroring(t *testing.T) {
	tx := &mockTx{}
	pool := &mockTxBeginner{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
	ins := &mockInserter{
		insertFn: func(ctx context.Context, txq database.TxQuerier, rec model.IssuanceRecord) error {
			return repository.ErrDuplicateIssuance
		},
	}
	mir := &mockMirror{}
	dlq := &mockDLQ{}
	w := newTestWriter(pool, ins, mir, dlq, 5)

	// Re-delivering an applied record yields no new row, no mirror change,
	// no dead letter, and a settled (committable) result.
	err := w.Apply(context.Background(), []byte("e1:u1"), recordBytes(t))

	require.NoError(t, err)
	assert.Empty(t, mir.decremented)
	assert.Empty(t, dlq.published)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	assert.Equal(t, 1, pool.begun, "replay must not trigger retries")
}

func TestApply_RetriesTransientErrors(t *testing.T) {
	pool := &mockTxBeginner{}
	attempts := 0
	ins := &mockInserter{
		insertFn: func(ctx context.Context, txq database.TxQuerier, rec model.IssuanceRecord) error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset")
			}
			return nil
		},
	}
	mir := &mockMirror{}
	dlq := &mockDLQ{}
	w := newTestWriter(pool, ins, mir, dlq, 5)

	err := w.Apply(context.Background(), []byte("e1:u1"), recordBytes(t))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Empty(t, dlq.published)
}

func TestApply_ExhaustionRoutesToDeadLetter(t *testing.T) {
	pool := &mockTxBeginner{}
	ins := &mockInserter{
		insertFn: func(ctx context.Context, txq database.TxQuerier, rec model.IssuanceRecord) error {
			return errors.New("database down")
		},
	}
	dlq := &mockDLQ{}
	w := newTestWriter(pool, ins, &mockMirror{}, dlq, 3)

	err := w.Apply(context.Background(), []byte("e1:u1"), recordBytes(t))

	// Dead-lettered records are settled; the partition moves on.
	require.NoError(t, err)
	assert.Len(t, ins.inserted, 3)
	require.Len(t, dlq.published, 1)
	assert.Contains(t, dlq.published[0], "persist after 3 attempts")
}

func TestApply_DeadLetterFailureHoldsOffset(t *testing.T) {
	pool := &mockTxBeginner{}
	ins := &mockInserter{
		insertFn: func(ctx context.Context, txq database.TxQuerier, rec model.IssuanceRecord) error {
			return errors.New("database down")
		},
	}
	dlq := &mockDLQ{
		publishFn: func(ctx context.Context, key, value []byte, cause string) error {
			return errors.New("brokers down too")
		},
	}
	w := newTestWriter(pool, ins, &mockMirror{}, dlq, 2)

	err := w.Apply(context.Background(), []byte("e1:u1"), recordBytes(t))

	require.Error(t, err, "nothing durable happened; offset must be held")
}

func TestApply_UndecodableRecordGoesStraightToDeadLetter(t *testing.T) {
	pool := &mockTxBeginner{}
	ins := &mockInserter{}
	dlq := &mockDLQ{}
	w := newTestWriter(pool, ins, &mockMirror{}, dlq, 5)

	err := w.Apply(context.Background(), []byte("e1:u1"), []byte(`{"user_id": "u1"}`))

	require.NoError(t, err)
	assert.Empty(t, ins.inserted, "undecodable records never reach the database")
	assert.Equal(t, 0, pool.begun)
	require.Len(t, dlq.published, 1)
	assert.Contains(t, dlq.published[0], "decode")
}

func TestApply_CommitErrorRetries(t *testing.T) {
	calls := 0
	pool := &mockTxBeginner{beginFn: func(ctx context.Context) (pgx.Tx, error) {
		calls++
		if calls == 1 {
			return &mockTx{commitFn: func(ctx context.Context) error {
				return errors.New("commit failed")
			}}, nil
		}
		return &mockTx{}, nil
	}}
	ins := &mockInserter{}
	mir := &mockMirror{}
	dlq := &mockDLQ{}
	w := newTestWriter(pool, ins, mir, dlq, 5)

	err := w.Apply(context.Background(), []byte("e1:u1"), recordBytes(t))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Empty(t, dlq.published)
}
