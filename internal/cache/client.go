// Package cache is the client for the in-memory decision store. The store is
// the sole authority for who wins a coupon; everything in here either invokes
// the atomic scripts or reads counters derived from them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision codes returned by the issue script.
const (
	CodeSuccess             = "SUCCESS"
	CodeAlreadyParticipated = "USER_ALREADY_PARTICIPATED"
	CodeNoStock             = "NO_STOCK_AVAILABLE"
	CodeNotInitialized      = "STOCK_NOT_INITIALIZED"
)

var (
	// ErrStoreUnavailable means the store could not be reached before the
	// script was evaluated. The current request cannot proceed.
	ErrStoreUnavailable = errors.New("decision store unavailable")

	// ErrScriptError means the script replied with an unexpected shape.
	ErrScriptError = errors.New("decision script returned malformed reply")
)

// Result is the outcome of one atomic issue attempt.
type Result struct {
	Code      string
	CouponID  string
	Remaining int
}

// Success reports whether the decision was a PASS.
func (r Result) Success() bool { return r.Code == CodeSuccess }

// Client wraps the Redis client with the coupon key discipline. All keys for
// one event share the {event_id} hash tag so a cluster deployment co-locates
// them on a single slot, which the issue script requires.
type Client struct {
	rdb         redis.UniversalClient
	readRetries int
}

// Options configures a Client.
type Options struct {
	Addrs       []string
	Password    string
	DialTimeout time.Duration
	ReadTimeout time.Duration
	PoolSize    int
	// ReadRetries applies to idempotent reads only. The issue script is
	// never retried by the client: one successful run already debited stock.
	ReadRetries int
}

// NewClient connects to the store. More than one address enables cluster mode.
func NewClient(opts Options) *Client {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       opts.Addrs,
		Password:    opts.Password,
		DialTimeout: opts.DialTimeout,
		ReadTimeout: opts.ReadTimeout,
		PoolSize:    opts.PoolSize,
		MaxRetries:  -1, // retry policy is per-operation, handled here
	})
	return &Client{rdb: rdb, readRetries: opts.ReadRetries}
}

// NewClientFromRedis wraps an existing Redis client. Used by tests.
func NewClientFromRedis(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb, readRetries: 1}
}

// StockKey returns the stock counter key for an event.
func StockKey(eventID string) string {
	return "coupon:{" + eventID + "}:stock"
}

// ParticipantsKey returns the participant set key for an event.
func ParticipantsKey(eventID string) string {
	return "coupon:{" + eventID + "}:participants"
}

// UserCouponKey returns the per-user cache slot key for an event.
func UserCouponKey(eventID, userID string) string {
	return "coupon:user:{" + eventID + "}:" + userID
}

// InitializeStock seeds the stock counter for an event. Seeding is explicit:
// the issue script never auto-initializes, which prevents concurrent first
// requests from racing to seed. Returns false when the counter already
// exists, making re-runs a no-op.
//
// The participant set is left untouched, so re-initializing an event id
// before the set's TTL expires keeps prior participants excluded.
func (c *Client) InitializeStock(ctx context.Context, eventID string, stock int, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, StockKey(eventID), stock, ttl).Result()
	if err != nil {
		return false, c.wrapStoreErr("initialize stock", err)
	}
	return ok, nil
}

// Issue runs the atomic decision script for (event, user). The pre-minted
// coupon id is stored in the user cache slot on PASS and echoed back in the
// result. Issue is deliberately not retried on connection loss.
func (c *Client) Issue(ctx context.Context, eventID, userID, couponID string, ttl time.Duration) (Result, error) {
	keys := []string{StockKey(eventID), ParticipantsKey(eventID), UserCouponKey(eventID, userID)}
	raw, err := issueScript.Run(ctx, c.rdb, keys, userID, couponID, int(ttl.Seconds())).Result()
	if err != nil {
		return Result{}, c.wrapStoreErr("issue", err)
	}
	return parseIssueReply(raw)
}

// Compensate rolls back a PASS whose log record could not be published:
// it re-increments stock and removes the user from the participant set in
// one indivisible step. Returns false when the user was not a participant,
// which makes repeated compensation attempts safe.
func (c *Client) Compensate(ctx context.Context, eventID, userID string) (bool, error) {
	keys := []string{StockKey(eventID), ParticipantsKey(eventID), UserCouponKey(eventID, userID)}
	n, err := compensateScript.Run(ctx, c.rdb, keys, userID).Int64()
	if err != nil {
		return false, c.wrapStoreErr("compensate", err)
	}
	return n == 1, nil
}

// Remaining returns the current stock counter. found is false when the event
// has never been initialized (or the counter expired).
func (c *Client) Remaining(ctx context.Context, eventID string) (remaining int, found bool, err error) {
	err = c.withReadRetry(ctx, func() error {
		var inner error
		remaining, inner = c.rdb.Get(ctx, StockKey(eventID)).Int()
		if errors.Is(inner, redis.Nil) {
			found = false
			return nil
		}
		if inner != nil {
			return inner
		}
		found = true
		return nil
	})
	if err != nil {
		return 0, false, c.wrapStoreErr("get remaining", err)
	}
	return remaining, found, nil
}

// ParticipantsCount returns the size of the participant set.
func (c *Client) ParticipantsCount(ctx context.Context, eventID string) (count int64, err error) {
	err = c.withReadRetry(ctx, func() error {
		var inner error
		count, inner = c.rdb.SCard(ctx, ParticipantsKey(eventID)).Result()
		return inner
	})
	if err != nil {
		return 0, c.wrapStoreErr("participants count", err)
	}
	return count, nil
}

// UserCoupon returns the coupon id cached for (event, user), or "" when none.
func (c *Client) UserCoupon(ctx context.Context, eventID, userID string) (couponID string, err error) {
	err = c.withReadRetry(ctx, func() error {
		var inner error
		couponID, inner = c.rdb.Get(ctx, UserCouponKey(eventID, userID)).Result()
		if errors.Is(inner, redis.Nil) {
			couponID = ""
			return nil
		}
		return inner
	})
	if err != nil {
		return "", c.wrapStoreErr("get user coupon", err)
	}
	return couponID, nil
}

// Ping checks store reachability for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connections.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// withReadRetry retries an idempotent read on connection loss.
func (c *Client) withReadRetry(ctx context.Context, fn func() error) error {
	attempts := c.readRetries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !isConnErr(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return err
}

func (c *Client) wrapStoreErr(op string, err error) error {
	if isConnErr(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed)
}

// parseIssueReply converts the script's array reply into a Result.
func parseIssueReply(raw any) (Result, error) {
	arr, ok := raw.([]any)
	if !ok || len(arr) < 2 {
		return Result{}, fmt.Errorf("%w: %T", ErrScriptError, raw)
	}
	flag, ok := arr[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("%w: flag %T", ErrScriptError, arr[0])
	}
	code, ok := arr[1].(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: code %T", ErrScriptError, arr[1])
	}

	if flag != 1 {
		switch code {
		case CodeAlreadyParticipated, CodeNoStock, CodeNotInitialized:
			return Result{Code: code}, nil
		default:
			return Result{}, fmt.Errorf("%w: unknown code %q", ErrScriptError, code)
		}
	}

	if len(arr) != 4 {
		return Result{}, fmt.Errorf("%w: success reply has %d elements", ErrScriptError, len(arr))
	}
	couponID, ok := arr[2].(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: coupon id %T", ErrScriptError, arr[2])
	}
	remaining, ok := arr[3].(int64)
	if !ok {
		return Result{}, fmt.Errorf("%w: remaining %T", ErrScriptError, arr[3])
	}
	return Result{Code: CodeSuccess, CouponID: couponID, Remaining: int(remaining)}, nil
}
