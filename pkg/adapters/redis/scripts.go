package redis

import backend "github.com/redis/go-redis/v9"

// The scripts below touch the global active set and node sets built from ARGV next to
// per-session keys, so they need every key on one node: a single instance or a Sentinel
// group. Redis Cluster is not supported.

// Script return codes.
const (
	scriptMissing  = -1
	scriptRejected = 0
	scriptApplied  = 1
	scriptNoop     = 2
)

// createScript writes session metadata and state only if neither key exists.
//
// KEYS: meta, state, active-set, node-set
// ARGV: sessionId, strategyId, ownerNodeId, createTimeMs, contextJSON, ttlMs, initialPhase
var createScript = backend.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'sessionId', ARGV[1],
	'strategyId', ARGV[2],
	'ownerNodeId', ARGV[3],
	'createTime', ARGV[4],
	'context', ARGV[5])
redis.call('HSET', KEYS[2],
	'phase', ARGV[7],
	'lastUpdateTime', ARGV[4],
	'at.' .. ARGV[7], ARGV[4],
	'entries.' .. ARGV[7], '1')
local ttl = tonumber(ARGV[6])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
end
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return 1
`)

// transitionScript is the single conditional phase write shared by UpdateState, Finalize
// and Abandon. The phase is written only if the current phase is one of the allowed
// predecessors and, when a cutoff is given, only if the session is idle since before it.
// Terminal phases leave the active sets in the same step. Result and metrics are optional;
// the result is never overwritten. Every applied write renews the session TTL on meta,
// state and allocation together.
//
// KEYS: meta, state, active-set, result, metrics, allocation
// ARGV: sessionId, phase, nowMs, ttlMs, terminal(1|0), nodeSetPrefix, allowedCSV,
//
//	resultJSON, resultTtlMs, metricsJSON, metricsTtlMs, cutoffMs, [field, jsonValue]...
var transitionScript = backend.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
	return -1
end
local current = redis.call('HGET', KEYS[2], 'phase')
local allowed = false
for p in string.gmatch(ARGV[7], '[^,]+') do
	if p == current then
		allowed = true
		break
	end
end
if not allowed then
	return 0
end
local lastRaw = redis.call('HGET', KEYS[2], 'lastUpdateTime') or '0'
local last = tonumber(lastRaw) or 0
if ARGV[12] ~= '' and last >= tonumber(ARGV[12]) then
	return 2
end
local stamp = ARGV[3]
if last > tonumber(ARGV[3]) then
	stamp = lastRaw
end
redis.call('HSET', KEYS[2], 'phase', ARGV[2], 'lastUpdateTime', stamp, 'at.' .. ARGV[2], stamp)
redis.call('HINCRBY', KEYS[2], 'entries.' .. ARGV[2], '1')
for i = 13, #ARGV, 2 do
	redis.call('HSET', KEYS[2], 'data.' .. ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
	redis.call('PEXPIRE', KEYS[6], ttl)
end
if ARGV[5] == '1' then
	redis.call('SREM', KEYS[3], ARGV[1])
	local owner = redis.call('HGET', KEYS[1], 'ownerNodeId')
	if owner then
		redis.call('SREM', ARGV[6] .. owner, ARGV[1])
	end
end
if ARGV[8] ~= '' and redis.call('EXISTS', KEYS[4]) == 0 then
	local rttl = tonumber(ARGV[9])
	if rttl > 0 then
		redis.call('SET', KEYS[4], ARGV[8], 'PX', rttl)
	else
		redis.call('SET', KEYS[4], ARGV[8])
	end
end
if ARGV[10] ~= '' then
	local mttl = tonumber(ARGV[11])
	if mttl > 0 then
		redis.call('SET', KEYS[5], ARGV[10], 'PX', mttl)
	else
		redis.call('SET', KEYS[5], ARGV[10])
	end
end
return 1
`)

// migrateScript rewrites the owner of a session if it still belongs to the source node.
// The destination node-set only gains the session while it is active.
//
// KEYS: meta, active-set
// ARGV: sessionId, fromNode, toNode, nodeSetPrefix
var migrateScript = backend.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local owner = redis.call('HGET', KEYS[1], 'ownerNodeId')
if owner == ARGV[3] then
	return 2
end
if owner ~= ARGV[2] then
	return 0
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	redis.call('SADD', ARGV[4] .. ARGV[3], ARGV[1])
end
redis.call('SREM', ARGV[4] .. ARGV[2], ARGV[1])
redis.call('HSET', KEYS[1], 'ownerNodeId', ARGV[3])
return 1
`)

// releaseScript deletes the lock only if it still carries the caller's owner token.
var releaseScript = backend.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end
`)

// renewScript extends the lock only if it still carries the caller's owner token.
var renewScript = backend.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
	return 0
end
`)
