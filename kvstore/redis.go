package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store backend, grounded on go-redis/v9 the
// way the rest of the pack wires Redis into a crawler (pipelined
// SETBIT/GETBIT for the bloom filter, ZADD/ZRANGE/ZREM for the frontier).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials a Redis instance and wraps it as a Store.
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client}
}

func wrapErr(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return &ErrUnreachable{Op: op, Err: err}
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, members ...ScoredMember) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return wrapErr("zadd", s.client.ZAdd(ctx, key, zs...).Err())
}

func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	res, err := s.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapErr("zrange", err)
	}
	return res, nil
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr("zrem", s.client.ZRem(ctx, key, args...).Err())
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("zcard", err)
	}
	return n, nil
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return wrapErr("rpush", s.client.RPush(ctx, key, args...).Err())
}

func (s *RedisStore) BLPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, bool, error) {
	res, err := s.client.BLPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, wrapErr("blpop", err)
	}
	return res[0], res[1], true, nil
}

func (s *RedisStore) LPop(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("lpop", err)
	}
	return val, true, nil
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("llen", err)
	}
	return n, nil
}

func (s *RedisStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapErr("setex", s.client.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get", err)
	}
	return val, true, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrapErr("del", s.client.Del(ctx, keys...).Err())
}

func (s *RedisStore) SetBit(ctx context.Context, key string, offset int64, value int) error {
	return wrapErr("setbit", s.client.SetBit(ctx, key, offset, value).Err())
}

func (s *RedisStore) GetBit(ctx context.Context, key string, offset int64) (int, error) {
	n, err := s.client.GetBit(ctx, key, offset).Result()
	if err != nil {
		return 0, wrapErr("getbit", err)
	}
	return int(n), nil
}

// SetBits sets multiple bits in a single pipelined round-trip, used by
// the bloom filter to set all k positions for a URL atomically-enough
// (each SETBIT is independent, but one network round trip).
func (s *RedisStore) SetBits(ctx context.Context, key string, offsets []int64, value int) error {
	pipe := s.client.Pipeline()
	for _, off := range offsets {
		pipe.SetBit(ctx, key, off, value)
	}
	_, err := pipe.Exec(ctx)
	return wrapErr("pipeline-setbit", err)
}

// GetBits reads multiple bits in a single pipelined round-trip.
func (s *RedisStore) GetBits(ctx context.Context, key string, offsets []int64) ([]int, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(offsets))
	for i, off := range offsets {
		cmds[i] = pipe.GetBit(ctx, key, off)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapErr("pipeline-getbit", err)
	}
	out := make([]int, len(offsets))
	for i, cmd := range cmds {
		out[i] = int(cmd.Val())
	}
	return out, nil
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return wrapErr("hset", s.client.HSet(ctx, key, args...).Err())
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("hget", err)
	}
	return val, true, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	val, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr("hgetall", err)
	}
	return val, nil
}

func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("kvstore: close: %w", err)
	}
	return nil
}
