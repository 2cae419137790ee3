package kvstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by unit tests in place of
// Redis, covering the full KV contract without a live Redis server.
type MemoryStore struct {
	mu      sync.Mutex
	zsets   map[string]map[string]float64
	lists   map[string][]string
	strings map[string]string
	expiry  map[string]time.Time
	bitmaps map[string]map[int64]int
	hashes  map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		zsets:   make(map[string]map[string]float64),
		lists:   make(map[string][]string),
		strings: make(map[string]string),
		expiry:  make(map[string]time.Time),
		bitmaps: make(map[string]map[int64]int),
		hashes:  make(map[string]map[string]string),
	}
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, members ...ScoredMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		set = make(map[string]float64)
		s.zsets[key] = set
	}
	for _, m := range members {
		set[m.Member] = m.Score
	}
	return nil
}

func (s *MemoryStore) sortedMembers(key string) []string {
	set := s.zsets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := set[members[i]], set[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members
}

func (s *MemoryStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.sortedMembers(key)
	n := int64(len(members))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, members[start:stop+1])
	return out, nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *MemoryStore) BLPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, key := range keys {
			if v, ok, _ := s.LPop(ctx, key); ok {
				return key, v, true, nil
			}
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return "", "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", "", false, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *MemoryStore) LPop(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	v := list[0]
	s.lists[key] = list[1:]
	return v, true, nil
}

func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	s.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.expiry[key]; ok && time.Now().After(exp) {
		delete(s.strings, key)
		delete(s.expiry, key)
		return "", false, nil
	}
	v, ok := s.strings[key]
	return v, ok, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.strings, key)
		delete(s.expiry, key)
		delete(s.zsets, key)
		delete(s.lists, key)
		delete(s.bitmaps, key)
		delete(s.hashes, key)
	}
	return nil
}

func (s *MemoryStore) SetBit(_ context.Context, key string, offset int64, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.bitmaps[key]
	if !ok {
		bm = make(map[int64]int)
		s.bitmaps[key] = bm
	}
	bm[offset] = value
	return nil
}

func (s *MemoryStore) GetBit(_ context.Context, key string, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitmaps[key][offset], nil
}

func (s *MemoryStore) SetBits(ctx context.Context, key string, offsets []int64, value int) error {
	for _, off := range offsets {
		if err := s.SetBit(ctx, key, off, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetBits(ctx context.Context, key string, offsets []int64) ([]int, error) {
	out := make([]int, len(offsets))
	for i, off := range offsets {
		v, _ := s.GetBit(ctx, key, off)
		out[i] = v
	}
	return out, nil
}

func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
