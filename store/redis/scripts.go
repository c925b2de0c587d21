package redis

import "github.com/redis/go-redis/v9"

// enqueueScript appends a work ID to its group chain and returns the
// group sequence.
//
// KEYS[1] group list, KEYS[2] group counter. ARGV[1] work ID.
var enqueueScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
redis.call('RPUSH', KEYS[1], ARGV[1])
return seq
`)

// claimScript claims due, eligible work.
//
// KEYS[1] ready set. ARGV: now millis, limit, network up ("1"/"0"),
// worker ID, timestamp, key prefix.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local limit = tonumber(ARGV[2])
local claimed = {}
for _, wid in ipairs(ids) do
  if #claimed >= limit then break end
  local key = ARGV[6] .. 'work:' .. wid
  local f = redis.call('HMGET', key, 'state', 'requires_network', 'group')
  local ok = f[1] == 'enqueued'
  if ok and f[2] == '1' and ARGV[3] ~= '1' then ok = false end
  if ok and f[3] and f[3] ~= '' then
    if redis.call('LINDEX', ARGV[6] .. 'group:' .. f[3], 0) ~= wid then ok = false end
  end
  if ok then
    redis.call('ZREM', KEYS[1], wid)
    redis.call('HSET', key, 'state', 'running', 'worker_id', ARGV[4],
      'started_at', ARGV[5], 'heartbeat_at', ARGV[5], 'updated_at', ARGV[5])
    claimed[#claimed + 1] = wid
  end
end
return claimed
`)

// cancelScript moves an enqueued item to cancelled. Returns 1 on success,
// 0 when the item is in another state and -1 when it does not exist.
//
// KEYS[1] ready set. ARGV: work ID, timestamp, key prefix.
var cancelScript = redis.NewScript(`
local key = ARGV[3] .. 'work:' .. ARGV[1]
local f = redis.call('HMGET', key, 'state', 'group')
if not f[1] then return -1 end
if f[1] ~= 'enqueued' then return 0 end
redis.call('HSET', key, 'state', 'cancelled', 'finished_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZREM', KEYS[1], ARGV[1])
if f[2] and f[2] ~= '' then
  redis.call('LREM', ARGV[3] .. 'group:' .. f[2], 0, ARGV[1])
end
return 1
`)
