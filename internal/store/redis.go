// Package store provides the durable key-value implementations behind the
// core.KV contract: a redis-backed one for production and an in-memory one
// for tests and engine-less development.
package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/avolkov/huddle/internal/core"
)

// Redis implements core.KV on top of go-redis. Hash-shaped collections map
// to redis hashes, logs to redis lists, and Atomic to a TxPipeline.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) GetField(ctx context.Context, key, field string) (string, bool, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) SetField(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *Redis) DeleteField(ctx context.Context, key, field string) error {
	return r.client.HDel(ctx, key, field).Err()
}

func (r *Redis) ListFields(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) FieldCount(ctx context.Context, key string) (int64, error) {
	return r.client.HLen(ctx, key).Result()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) AppendLog(ctx context.Context, key, entry string) error {
	return r.client.RPush(ctx, key, entry).Err()
}

func (r *Redis) LogRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *Redis) Atomic(ctx context.Context, fn func(tx core.Tx)) error {
	pipe := r.client.TxPipeline()
	fn(&redisTx{ctx: ctx, pipe: pipe})
	_, err := pipe.Exec(ctx)
	return err
}

type redisTx struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (t *redisTx) SetField(key, field, value string) {
	t.pipe.HSet(t.ctx, key, field, value)
}

func (t *redisTx) DeleteField(key, field string) {
	t.pipe.HDel(t.ctx, key, field)
}

func (t *redisTx) Delete(key string) {
	t.pipe.Del(t.ctx, key)
}
