package cache

import "github.com/redis/go-redis/v9"

var (
	// luaApplyBalance 快照覆盖，事件时间戳不早于已有值时才写入
	// KEYS[1]: balance_key
	// ARGV[1]: available
	// ARGV[2]: locked
	// ARGV[3]: event timestamp (ms)
	// ARGV[4]: event id
	// Returns: 1 applied, 0 stale
	luaApplyBalance = redis.NewScript(`
		local key = KEYS[1]
		local current = redis.call('HGET', key, 'updated_at')
		if current and tonumber(current) > tonumber(ARGV[3]) then
			return 0
		end
		redis.call('HSET', key,
			'available', ARGV[1],
			'locked', ARGV[2],
			'updated_at', ARGV[3],
			'event_id', ARGV[4]
		)
		redis.call('HINCRBY', key, 'applied', 1)
		return 1
	`)

	// luaApplySnapshot AMM 快照覆盖
	// KEYS[1]: snapshot_key
	// ARGV[1]: json data
	// ARGV[2]: event timestamp (ms)
	// Returns: 1 applied, 0 stale
	luaApplySnapshot = redis.NewScript(`
		local key = KEYS[1]
		local current = redis.call('HGET', key, 'updated_at')
		if current and tonumber(current) > tonumber(ARGV[2]) then
			return 0
		end
		redis.call('HSET', key, 'data', ARGV[1], 'updated_at', ARGV[2])
		return 1
	`)
)
