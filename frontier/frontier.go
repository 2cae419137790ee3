package frontier

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codepr/searchpipe/kvstore"
)

// Key is the sorted-set key the frontier lives under in the KV store.
const Key = "crawler:frontier"

// DepthKey is the hash key recording the crawl depth each frontier URL
// was discovered at. Tracking depth as a plain recursion parameter only
// works in a single-process event loop; since workers here coordinate
// purely through the KV store, depth has to be persisted alongside the
// URL instead.
const DepthKey = "crawler:depth"

// Entry is a single frontier pop: a URL and the priority it carried.
type Entry struct {
	URL      string
	Priority float64
}

// Frontier is the priority queue of URLs awaiting fetch. Lower priority
// pops first. It is a thin wrapper over the KV store's sorted set, so
// multiple worker processes share one frontier without coordinating
// directly with each other.
type Frontier struct {
	store kvstore.Store
	key   string
}

// New creates a Frontier over the default sorted-set key.
func New(store kvstore.Store) *Frontier {
	return &Frontier{store: store, key: Key}
}

// Push adds a single URL at the given priority.
func (f *Frontier) Push(ctx context.Context, url string, priority float64) error {
	return f.PushMany(ctx, []Entry{{URL: url, Priority: priority}})
}

// PushMany adds a batch of (url, priority) pairs atomically per call.
func (f *Frontier) PushMany(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	members := make([]kvstore.ScoredMember, len(entries))
	for i, e := range entries {
		members[i] = kvstore.ScoredMember{Member: e.URL, Score: e.Priority}
	}
	if err := f.store.ZAdd(ctx, f.key, members...); err != nil {
		return fmt.Errorf("frontier: push_many: %w", err)
	}
	return nil
}

// Pop returns the entry with the smallest priority and removes it, or
// ok=false if the frontier is empty. Ties on priority come out
// lexicographically by URL: Pop takes the KV store's sorted-set order,
// and both backends (Redis sorted sets and MemoryStore) order members
// with equal scores lexicographically.
func (f *Frontier) Pop(ctx context.Context) (url string, ok bool, err error) {
	urls, err := f.PopBatch(ctx, 1)
	if err != nil {
		return "", false, err
	}
	if len(urls) == 0 {
		return "", false, nil
	}
	return urls[0], true, nil
}

// PopBatch is the atomic equivalent of n sequential pops.
func (f *Frontier) PopBatch(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := f.store.ZRange(ctx, f.key, 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("frontier: pop_batch: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	if err := f.store.ZRem(ctx, f.key, members...); err != nil {
		return nil, fmt.Errorf("frontier: pop_batch remove: %w", err)
	}
	return members, nil
}

// Size returns the number of URLs currently queued.
func (f *Frontier) Size(ctx context.Context) (int64, error) {
	n, err := f.store.ZCard(ctx, f.key)
	if err != nil {
		return 0, fmt.Errorf("frontier: size: %w", err)
	}
	return n, nil
}

// Clear empties the frontier.
func (f *Frontier) Clear(ctx context.Context) error {
	return f.store.Del(ctx, f.key)
}

// SetDepth records the crawl depth a URL was discovered at, so whichever
// worker later pops it can decide whether its children exceed max_depth.
func (f *Frontier) SetDepth(ctx context.Context, url string, depth int) error {
	if err := f.store.HSet(ctx, DepthKey, map[string]string{url: strconv.Itoa(depth)}); err != nil {
		return fmt.Errorf("frontier: set depth for %s: %w", url, err)
	}
	return nil
}

// Depth looks up the crawl depth a URL was discovered at, defaulting to
// 0 if unknown or unparsable.
func (f *Frontier) Depth(ctx context.Context, url string) (int, error) {
	v, ok, err := f.store.HGet(ctx, DepthKey, url)
	if err != nil {
		return 0, fmt.Errorf("frontier: depth for %s: %w", url, err)
	}
	if !ok {
		return 0, nil
	}
	depth, err := strconv.Atoi(v)
	if err != nil {
		return 0, nil
	}
	return depth, nil
}

// Priority computes the dispatch priority for a discovered URL at the
// given crawl depth:
//
//	p = max(0, 10*depth + 0.5*pathSegments - 5*[path in {"", "/"}] - 1*[scheme=https])
//
// Lower values are dispatched earlier; seed URLs are always pushed at
// priority 0 regardless of this formula.
func Priority(canonicalURL string, depth int) float64 {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return float64(10 * depth)
	}
	p := 10.0*float64(depth) + 0.5*float64(pathSegments(u.Path))
	if u.Path == "" || u.Path == "/" {
		p -= 5.0
	}
	if strings.EqualFold(u.Scheme, "https") {
		p -= 1.0
	}
	if p < 0 {
		p = 0
	}
	return p
}

func pathSegments(path string) int {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "/"))
}

// DefaultPoliteBackoff implements the exponential backoff schedule a
// worker uses when KV operations fail upward: 100ms up to a 5s cap,
// doubling each attempt.
func DefaultPoliteBackoff(attempt int) time.Duration {
	base := 100 * time.Millisecond
	cap := 5 * time.Second
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
