package alert

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDigestStore shares digest buffers between replicas. Each buffer is a
// Redis list; Drain reads and deletes it inside one MULTI/EXEC.
type RedisDigestStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisDigestOption func(*RedisDigestStore)

func WithDigestPrefix(prefix string) RedisDigestOption {
	return func(s *RedisDigestStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithDigestTTL bounds how long an untouched buffer survives, e.g. after its
// rule was deleted.
func WithDigestTTL(ttl time.Duration) RedisDigestOption {
	return func(s *RedisDigestStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewRedisDigestStore(rdb *redis.Client, opts ...RedisDigestOption) *RedisDigestStore {
	s := &RedisDigestStore{
		rdb:    rdb,
		prefix: "adsx:digest:",
		ttl:    8 * 24 * time.Hour,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisDigestStore) key(k DigestKey) string {
	return s.prefix + k.String()
}

func (s *RedisDigestStore) Append(ctx context.Context, key DigestKey, entry DigestEntry) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis digest store not configured")
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	k := s.key(key)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, k, b)
	pipe.Expire(ctx, k, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisDigestStore) Drain(ctx context.Context, key DigestKey) ([]DigestEntry, error) {
	if s == nil || s.rdb == nil {
		return nil, errors.New("redis digest store not configured")
	}
	k := s.key(key)
	pipe := s.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, k, 0, -1)
	pipe.Del(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	raw, err := rangeCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]DigestEntry, 0, len(raw))
	for _, r := range raw {
		var e DigestEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisDigestStore) Len(ctx context.Context, key DigestKey) (int, error) {
	if s == nil || s.rdb == nil {
		return 0, errors.New("redis digest store not configured")
	}
	n, err := s.rdb.LLen(ctx, s.key(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return int(n), nil
}
