// Package frontier holds the crawl coordination primitives: the
// priority queue of URLs awaiting fetch and the bloom filter that
// prevents the same URL from being fetched twice. Both live in the KV
// store rather than in process memory, so workers restart losslessly
// and scale horizontally.
package frontier

import (
	"context"
	"crypto/md5" //nolint:gosec // used as a hash family, not for security
	"fmt"

	"github.com/codepr/searchpipe/kvstore"
)

const (
	// BloomBits is m in the bloom filter sizing: 10 million bits.
	BloomBits int64 = 10_000_000
	// BloomHashes is k, the number of hash positions derived per URL.
	BloomHashes = 7
	// BloomKey is the bitmap key in the KV store.
	BloomKey = "bloom:crawled_urls"
)

// Bloom is a probabilistic seen-set backed by a KV bitmap. Presence
// tests may return a false positive (causing a page to be skipped) but
// never a false negative, by construction of the hash family.
type Bloom struct {
	store kvstore.Store
	key   string
}

// NewBloom creates a Bloom filter over the default bitmap key.
func NewBloom(store kvstore.Store) *Bloom {
	return &Bloom{store: store, key: BloomKey}
}

// positions derives the k bit offsets for url using md5(url ":" i) mod m,
// i in [0,k).
func positions(url string) []int64 {
	out := make([]int64, BloomHashes)
	for i := 0; i < BloomHashes; i++ {
		input := fmt.Sprintf("%s:%d", url, i)
		sum := md5.Sum([]byte(input)) //nolint:gosec
		var n uint64
		for _, b := range sum[len(sum)-8:] {
			n = n<<8 | uint64(b)
		}
		out[i] = int64(n % uint64(BloomBits))
	}
	return out
}

// Seen reports whether url may already have been marked. A true result
// can be a false positive (≤1% at design load); a false result is never
// wrong.
func (b *Bloom) Seen(ctx context.Context, url string) (bool, error) {
	bits, err := b.store.GetBits(ctx, b.key, positions(url))
	if err != nil {
		return false, fmt.Errorf("frontier: bloom seen %q: %w", url, err)
	}
	for _, bit := range bits {
		if bit == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Mark sets all k bits for url. Idempotent: marking an already-marked
// URL is a no-op in effect.
func (b *Bloom) Mark(ctx context.Context, url string) error {
	if err := b.store.SetBits(ctx, b.key, positions(url), 1); err != nil {
		return fmt.Errorf("frontier: bloom mark %q: %w", url, err)
	}
	return nil
}

// Clear drops the bitmap entirely.
func (b *Bloom) Clear(ctx context.Context) error {
	return b.store.Del(ctx, b.key)
}
