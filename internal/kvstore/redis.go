package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries as plain redis strings and thumbnail
// indexes as redis sets.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the redis server at addr.
func NewRedisBackend(addr string) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	return &RedisBackend{client: client}
}

// NewRedisBackendWithURL connects using a redis:// URL.
func NewRedisBackendWithURL(url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

func (r *RedisBackend) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *RedisBackend) SetRaw(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisBackend) SetRawIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	return r.client.SetNX(ctx, key, value, 0).Result()
}

func (r *RedisBackend) DeleteRaw(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisBackend) FindKeys(ctx context.Context, prefix string) ([]string, error) {
	var found []string

	iter := r.client.Scan(ctx, 0, escapePattern(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		found = append(found, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *RedisBackend) AddToSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.client.SAdd(ctx, key, toAny(members)...).Err()
}

func (r *RedisBackend) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.client.SRem(ctx, key, toAny(members)...).Err()
}

func (r *RedisBackend) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

var patternEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// escapePattern quotes glob characters so prefix matches literally in
// SCAN MATCH.
func escapePattern(prefix string) string {
	return patternEscaper.Replace(prefix)
}
