package repository

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
)

// mockIssuanceTx implements database.TxQuerier for insert tests.
type mockIssuanceTx struct {
	execFn func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (m *mockIssuanceTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if m.execFn != nil {
		return m.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *mockIssuanceTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &mockRow{}
}

func (m *mockIssuanceTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func testRecord() model.IssuanceRecord {
	return model.IssuanceRecord{
		Version:  model.RecordVersion,
		CouponID: "c1",
		UserID:   "u1",
		EventID:  "e1",
		IssuedAt: time.Now().UTC(),
	}
}

func TestIssuanceRepository_Insert_Success(t *testing.T) {
	var capturedSQL string
	var capturedArgs []any
	tx := &mockIssuanceTx{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			capturedSQL = sql
			capturedArgs = arguments
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}

	repo := NewIssuanceRepositoryWithPool(&mockPool{})
	err := repo.Insert(context.Background(), tx, testRecord())

	require.NoError(t, err)
	assert.Contains(t, capturedSQL, "INSERT INTO user_coupons")
	assert.Equal(t, "c1", capturedArgs[0])
	assert.Equal(t, "u1", capturedArgs[1])
	assert.Equal(t, "e1", capturedArgs[2])
}

func TestIssuanceRepository_Insert_UniqueViolation(t *testing.T) {
	for _, constraint := range []string{"user_coupons_coupon_id_key", "user_coupons_user_id_event_id_key"} {
		t.Run(constraint, func(t *testing.T) {
			tx := &mockIssuanceTx{
				execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
					return pgconn.CommandTag{}, &pgconn.PgError{
						Code:           "23505",
						ConstraintName: constraint,
					}
				},
			}

			repo := NewIssuanceRepositoryWithPool(&mockPool{})
			err := repo.Insert(context.Background(), tx, testRecord())

			assert.True(t, errors.Is(err, ErrDuplicateIssuance),
				"either uniqueness constraint means the row is already there")
		})
	}
}

func TestIssuanceRepository_Insert_DatabaseError(t *testing.T) {
	dbErr := errors.New("connection refused")
	tx := &mockIssuanceTx{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, dbErr
		},
	}

	repo := NewIssuanceRepositoryWithPool(&mockPool{})
	err := repo.Insert(context.Background(), tx, testRecord())

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicateIssuance))
	assert.True(t, errors.Is(err, dbErr), "should wrap original error")
}

func TestIssuanceRepository_CountByEvent(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "COUNT(*)")
			assert.Equal(t, "e1", args[0])
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 37
				return nil
			}}
		},
	}

	repo := NewIssuanceRepositoryWithPool(mock)
	count, err := repo.CountByEvent(context.Background(), "e1")

	require.NoError(t, err)
	assert.Equal(t, 37, count)
}

func TestIssuanceRepository_GetByCouponID_Success(t *testing.T) {
	issuedAt := time.Now()
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*int64)) = 7
				*(dest[1].(*string)) = "c1"
				*(dest[2].(*string)) = "u1"
				*(dest[3].(*string)) = "e1"
				*(dest[4].(*time.Time)) = issuedAt
				*(dest[5].(*bool)) = false
				return nil
			}}
		},
	}

	repo := NewIssuanceRepositoryWithPool(mock)
	iss, err := repo.GetByCouponID(context.Background(), "c1")

	require.NoError(t, err)
	require.NotNil(t, iss)
	assert.Equal(t, "c1", iss.CouponID)
	assert.Equal(t, "u1", iss.UserID)
	assert.False(t, iss.IsUsed)
}

func TestIssuanceRepository_GetByCouponID_NotFound(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}

	repo := NewIssuanceRepositoryWithPool(mock)
	iss, err := repo.GetByCouponID(context.Background(), "ghost")

	require.NoError(t, err)
	assert.Nil(t, iss)
}
