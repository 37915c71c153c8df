package localcache

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each namespace in one hash, so Clear is a single DEL.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func hashKey(ns string) string { return "bidmarket:cache:" + ns }

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	v, err := r.client.HGet(ctx, hashKey(ns), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, ns, key string, value []byte) error {
	return r.client.HSet(ctx, hashKey(ns), key, value).Err()
}

func (r *Redis) Delete(ctx context.Context, ns, key string) error {
	return r.client.HDel(ctx, hashKey(ns), key).Err()
}

func (r *Redis) Keys(ctx context.Context, ns string) ([]string, error) {
	keys, err := r.client.HKeys(ctx, hashKey(ns)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Clear(ctx context.Context, ns string) error {
	return r.client.Del(ctx, hashKey(ns)).Err()
}
