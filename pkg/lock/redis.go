package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	applogger "FinStore/pkg/logger"
)

// releaseScript deletes the key only while it still carries the caller's owner token.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then return 0 end
local ok, h = pcall(cjson.decode, v)
if ok and h["owner"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return -1
`)

// RedisLocker coordinates hosts that share no filesystem. Expiry replaces stale-lock
// reclamation: a key whose holder died disappears after the TTL.
type RedisLocker struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	schedule Schedule
	logger   *applogger.Logger
	obs      Observer
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration, schedule Schedule, l *applogger.Logger, obs Observer) *RedisLocker {
	if l == nil {
		l = applogger.Nop()
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, schedule: schedule, logger: l, obs: obs}
}

func (r *RedisLocker) Backend() string { return "redis" }

func (r *RedisLocker) key(path string) string {
	return fmt.Sprintf("%s:lock:%s", r.prefix, path)
}

func (r *RedisLocker) Acquire(ctx context.Context, path string, timeout time.Duration) (Lease, bool, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	owner := uuid.NewString()
	key := r.key(path)

	for attempt := 0; ; attempt++ {
		val, _ := json.Marshal(newHolder(owner, r.ttl, time.Now()))
		ok, err := r.client.SetNX(ctx, key, val, r.ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			r.observe(start, true)
			return &redisLease{locker: r, key: key, path: path, owner: owner}, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.observe(start, false)
			return nil, false, nil
		}
		sleep := r.schedule.Delay(attempt)
		if sleep > remaining {
			sleep = remaining
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return nil, false, err
		}
	}
}

func (r *RedisLocker) observe(start time.Time, acquired bool) {
	if r.obs != nil {
		r.obs.RecordLockWait(r.Backend(), time.Since(start).Seconds(), acquired)
	}
}

type redisLease struct {
	locker *RedisLocker
	key    string
	path   string
	owner  string
	once   sync.Once
	err    error
}

func (l *redisLease) Path() string  { return l.path }
func (l *redisLease) Owner() string { return l.owner }

func (l *redisLease) Release() error {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.owner).Int64()
		if err != nil {
			l.err = fmt.Errorf("redis release: %w", err)
			return
		}
		if n != 1 {
			l.locker.logger.Warn("redis lock expired before release",
				applogger.String("key", l.key),
				applogger.String("owner", l.owner),
			)
			l.err = ErrLeaseLost
		}
	})
	return l.err
}
