package cache

import "github.com/redis/go-redis/v9"

// issueScript is the atomic decision step. It runs server-side so the
// uniqueness check, stock check, debit and admission record are a single
// indivisible operation relative to all other commands.
//
// KEYS[1] stock counter, KEYS[2] participant set, KEYS[3] per-user cache slot.
// All three carry the same {event_id} hash tag and therefore land on one slot.
// ARGV[1] user id, ARGV[2] pre-minted coupon id, ARGV[3] TTL seconds.
//
// Reply: {0, <fail code>} or {1, 'SUCCESS', coupon_id, remaining}.
var issueScript = redis.NewScript(`
local stock_key = KEYS[1]
local participants_key = KEYS[2]
local user_key = KEYS[3]
local user_id = ARGV[1]
local coupon_id = ARGV[2]
local ttl = tonumber(ARGV[3])

if redis.call('SISMEMBER', participants_key, user_id) == 1 then
    return {0, 'USER_ALREADY_PARTICIPATED'}
end

local stock = redis.call('GET', stock_key)
if not stock then
    return {0, 'STOCK_NOT_INITIALIZED'}
end

if tonumber(stock) <= 0 then
    return {0, 'NO_STOCK_AVAILABLE'}
end

redis.call('SADD', participants_key, user_id)
local remaining = redis.call('DECR', stock_key)
redis.call('EXPIRE', participants_key, ttl)
redis.call('SET', user_key, coupon_id, 'EX', ttl)

return {1, 'SUCCESS', coupon_id, remaining}
`)

// compensateScript undoes a PASS whose event could not be made durable.
// The membership guard makes re-running it a no-op, so the handler may
// safely retry compensation. The stock credit is likewise guarded: if the
// counter already expired, an INCR would resurrect it as a TTL-less key
// holding 1, so the credit is skipped instead.
//
// Reply: 1 when the rollback was applied, 0 when there was nothing to undo.
var compensateScript = redis.NewScript(`
local stock_key = KEYS[1]
local participants_key = KEYS[2]
local user_key = KEYS[3]
local user_id = ARGV[1]

if redis.call('SISMEMBER', participants_key, user_id) == 0 then
    return 0
end

redis.call('SREM', participants_key, user_id)
if redis.call('EXISTS', stock_key) == 1 then
    redis.call('INCR', stock_key)
end
redis.call('DEL', user_key)

return 1
`)
