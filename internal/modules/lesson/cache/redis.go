package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as JSON under prefix+key with a hit counter beside them.
// Redis expiry is a storage bound only; freshness is still decided by Cache at read time.
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

func NewRedisStore(rdb goredis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) entryKey(key string) string { return s.prefix + key }
func (s *RedisStore) hitsKey(key string) string  { return s.prefix + key + ":hits" }

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	vals, err := s.rdb.MGet(ctx, s.entryKey(key), s.hitsKey(key)).Result()
	if err != nil {
		return nil, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	if hits, ok := vals[1].(string); ok {
		var n int
		if err := json.Unmarshal([]byte(hits), &n); err == nil {
			e.HitCount = n
		}
	}
	return &e, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var exp time.Duration
	if e.TTL > 0 {
		exp = e.TTL + time.Minute
	}
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.entryKey(key), raw, exp)
		p.Set(ctx, s.hitsKey(key), e.HitCount, exp)
		return nil
	})
	return err
}

func (s *RedisStore) Hit(ctx context.Context, key string) error {
	err := s.rdb.Incr(ctx, s.hitsKey(key)).Err()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	return err
}
