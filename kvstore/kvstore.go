// Package kvstore defines the key-value store contract required by §6 of
// the design: sorted sets for the frontier, lists for the indexing
// queue, TTL strings for robots/rate-limit/PageRank caching, bitmaps for
// the bloom filter, and hashes for the PageRank run metadata. The full
// store (Postgres, Elasticsearch) is an external black box; this one is
// small enough, and central enough to every component, that the core
// owns a thin client over it.
package kvstore

import (
	"context"
	"time"
)

// ScoredMember is a (member, score) pair as stored in a sorted set, used
// by the frontier for priority-ordered pops.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the KV contract every component (frontier, politeness,
// messaging, pagerank, query) depends on. Implementations must support
// pipelining internally for the bloom filter and bulk frontier adds;
// the interface itself stays call-at-a-time so callers never need to
// know whether a given backend batches.
type Store interface {
	// Sorted set (frontier)
	ZAdd(ctx context.Context, key string, members ...ScoredMember) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)

	// List (indexing queue)
	RPush(ctx context.Context, key string, values ...string) error
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, ok bool, err error)
	LPop(ctx context.Context, key string) (value string, ok bool, err error)
	LLen(ctx context.Context, key string) (int64, error)

	// String with TTL
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Del(ctx context.Context, keys ...string) error

	// Bitmap (bloom filter)
	SetBit(ctx context.Context, key string, offset int64, value int) error
	GetBit(ctx context.Context, key string, offset int64) (int, error)
	SetBits(ctx context.Context, key string, offsets []int64, value int) error
	GetBits(ctx context.Context, key string, offsets []int64) ([]int, error)

	// Hash
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Close() error
}

// ErrUnreachable wraps a backend connectivity error so callers can tell
// a transient I/O failure worth retrying with backoff from a logic
// error.
type ErrUnreachable struct {
	Op  string
	Err error
}

func (e *ErrUnreachable) Error() string {
	return "kvstore: " + e.Op + ": " + e.Err.Error()
}

func (e *ErrUnreachable) Unwrap() error { return e.Err }
