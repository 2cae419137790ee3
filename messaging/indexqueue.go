package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/codepr/searchpipe/kvstore"
)

// IndexQueueKey is the Redis list key the crawler RPushes fetched
// pages onto and the indexer BLPops from.
const IndexQueueKey = "queue:indexing"

// BlockTimeout is how long a single BLPop in Consume waits before
// returning empty.
const BlockTimeout = 5 * time.Second

// IndexQueue is a Redis-list-backed queue connecting two separate
// processes (the crawler and the indexer), unlike an in-memory channel
// which only works within a single process.
type IndexQueue struct {
	store kvstore.Store
	key   string
}

// NewIndexQueue builds an IndexQueue over store using the default
// indexing queue key.
func NewIndexQueue(store kvstore.Store) *IndexQueue {
	return &IndexQueue{store: store, key: IndexQueueKey}
}

// Produce RPushes one fetched page payload onto the queue.
func (q *IndexQueue) Produce(data []byte) error {
	if err := q.store.RPush(context.Background(), q.key, string(data)); err != nil {
		return fmt.Errorf("messaging: producing to %s: %w", q.key, err)
	}
	return nil
}

// Consume blocks on BLPop in a loop, forwarding every popped payload to
// events, until ctx is done or BLPop returns an error, which is
// returned wrapped.
// This method is context-bound since the underlying BLPop can otherwise
// block a goroutine forever past shutdown.
func (q *IndexQueue) Consume(ctx context.Context, events chan<- []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, value, ok, err := q.store.BLPop(ctx, BlockTimeout, q.key)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("messaging: consuming from %s: %w", q.key, err)
		}
		if !ok {
			continue
		}
		events <- []byte(value)
	}
}

// DrainBatch pops up to n payloads without blocking, for the indexer's
// batch mode.
func (q *IndexQueue) DrainBatch(ctx context.Context, n int) ([][]byte, error) {
	batch := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		value, ok, err := q.store.LPop(ctx, q.key)
		if err != nil {
			return batch, fmt.Errorf("messaging: draining %s: %w", q.key, err)
		}
		if !ok {
			break
		}
		batch = append(batch, []byte(value))
	}
	return batch, nil
}

// Len reports how many payloads are currently queued.
func (q *IndexQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.store.LLen(ctx, q.key)
	if err != nil {
		return 0, fmt.Errorf("messaging: measuring %s: %w", q.key, err)
	}
	return n, nil
}

// Close releases the underlying store connection. Multiple queues
// sharing one kvstore.Store should only Close it once; callers that
// share a store across components should call this on the store
// directly instead of through each queue.
func (q *IndexQueue) Close() error {
	return q.store.Close()
}
