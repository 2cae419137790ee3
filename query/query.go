// Package query implements the query-time glue: a cache lookup in
// front of Elasticsearch, a PageRank-weighted re-score of the hits, and
// an analytics write-back.
package query

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/codepr/searchpipe/env"
	"github.com/codepr/searchpipe/fulltext"
	"github.com/codepr/searchpipe/kvstore"
	"github.com/codepr/searchpipe/metastore"
	"github.com/codepr/searchpipe/urlkey"
)

const (
	defaultCacheTTL = time.Hour
	// pagerankWeight/fulltextWeight are the blend coefficients:
	// combined = 0.7*fulltext + 0.3*pagerank*100.
	fulltextWeight = 0.7
	pagerankWeight = 0.3
	pagerankScale  = 100.0

	maxQueryLen  = 200
	minPageSize  = 1
	maxPageSize  = 100
	defaultSize  = 10
	defaultPage  = 1
	snippetChars = 200
)

// Result is one ranked hit returned to the caller.
type Result struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Snippet     string    `json:"snippet"`
	Score       float64   `json:"score"`
	PageRank    float64   `json:"pagerank,omitempty"`
	CrawledAt   time.Time `json:"crawled_at"`
}

// Response is the full search envelope, cacheable as-is: everything
// the caller needs, including pagination flags.
type Response struct {
	Query      string    `json:"query"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	Size       int       `json:"size"`
	TotalPages int       `json:"total_pages"`
	HasNext    bool      `json:"has_next"`
	HasPrev    bool      `json:"has_prev"`
	Results    []Result  `json:"results"`
	TookMs     int       `json:"took_ms"`
	Cached     bool      `json:"cached"`
}

// Settings configures a Scorer.
type Settings struct {
	CacheTTL time.Duration
}

// Opt is the option-pattern constructor hook for Settings.
type Opt func(*Settings)

// WithCacheTTL overrides how long a response page stays cached.
func WithCacheTTL(d time.Duration) Opt { return func(s *Settings) { s.CacheTTL = d } }

// Scorer is the entry point: Search runs (or replays from cache) one
// query, blending full-text relevance with PageRank authority.
type Scorer struct {
	logger   *log.Logger
	ft       *fulltext.Store
	kv       kvstore.Store
	meta     *metastore.Store
	settings *Settings
}

// New wires a Scorer from its dependencies and options.
func New(ft *fulltext.Store, kv kvstore.Store, meta *metastore.Store, opts ...Opt) *Scorer {
	settings := &Settings{CacheTTL: defaultCacheTTL}
	for _, opt := range opts {
		opt(settings)
	}
	return &Scorer{
		logger:   log.New(os.Stderr, "query: ", log.LstdFlags),
		ft:       ft,
		kv:       kv,
		meta:     meta,
		settings: settings,
	}
}

// NewFromEnv builds a Scorer reading its tunables from the environment,
// mirroring crawler.NewFromEnv.
func NewFromEnv(ft *fulltext.Store, kv kvstore.Store, meta *metastore.Store) *Scorer {
	return New(ft, kv, meta, WithCacheTTL(env.GetEnvAsDuration("CACHE_TTL", defaultCacheTTL)))
}

// Normalize clamps page/size to the bounds the search API enforces
// (page>=1, 1<=size<=100), so callers reading a raw HTTP request don't
// each have to reimplement the same validation.
func Normalize(page, size int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if size < minPageSize {
		size = defaultSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// cacheKey builds a stable digest over the normalized query and
// pagination so identical requests share one cached response.
func cacheKey(q string, page, size int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%d", q, page, size)))
	return "search:" + hex.EncodeToString(sum[:])
}

// Search runs a query, preferring a cached response and falling back to
// Elasticsearch plus a PageRank re-score. A query log write failure
// never fails the query itself.
func (s *Scorer) Search(ctx context.Context, q string, page, size int) (Response, error) {
	start := time.Now()
	page, size = Normalize(page, size)
	if len(q) > maxQueryLen {
		q = q[:maxQueryLen]
	}

	key := cacheKey(q, page, size)
	if cached, ok, err := s.kv.Get(ctx, key); err == nil && ok {
		var resp Response
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			resp.Cached = true
			resp.TookMs = int(time.Since(start).Milliseconds())
			s.logQuery(ctx, q, resp.Total, resp.TookMs, true)
			return resp, nil
		}
	}

	from := (page - 1) * size
	searchResult, err := s.ft.Search(ctx, q, from, size)
	if err != nil {
		return Response{}, fmt.Errorf("query: searching %q: %w", q, err)
	}

	results := make([]Result, len(searchResult.Hits))
	for i, hit := range searchResult.Hits {
		results[i] = Result{
			URL:         hit.URL,
			Title:       hit.Title,
			Description: hit.Description,
			Snippet:     hit.Snippet,
			Score:       hit.Score,
			CrawledAt:   hit.CrawledAt,
		}
	}
	results = s.applyPageRankBoost(ctx, results)

	totalPages := 0
	if size > 0 {
		totalPages = (searchResult.Total + size - 1) / size
	}
	resp := Response{
		Query:      q,
		Total:      searchResult.Total,
		Page:       page,
		Size:       size,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
		Results:    results,
		TookMs:     int(time.Since(start).Milliseconds()),
		Cached:     false,
	}

	if payload, err := json.Marshal(resp); err == nil {
		if err := s.kv.SetEX(ctx, key, string(payload), s.settings.CacheTTL); err != nil {
			s.logger.Printf("caching response for %q: %v", q, err)
		}
	}

	s.logQuery(ctx, q, resp.Total, resp.TookMs, false)
	return resp, nil
}

// applyPageRankBoost blends each hit's full-text score with its
// precomputed PageRank score (pagerank.Computer's storeKV output) and
// re-sorts descending.
func (s *Scorer) applyPageRankBoost(ctx context.Context, results []Result) []Result {
	for i, r := range results {
		prefix := urlkey.FingerprintPrefix(urlkey.Fingerprint(r.URL))
		raw, ok, err := s.kv.Get(ctx, "pagerank:"+prefix)
		if err != nil || !ok {
			continue
		}
		pr, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		results[i].Score = fulltextWeight*r.Score + pagerankWeight*pr*pagerankScale
		results[i].PageRank = pr
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// logQuery records the query_logs row, swallowing any write failure:
// the query has already been answered.
func (s *Scorer) logQuery(ctx context.Context, q string, total, tookMs int, cacheHit bool) {
	if s.meta == nil {
		return
	}
	if err := s.meta.LogQuery(ctx, q, total, tookMs, cacheHit); err != nil {
		s.logger.Printf("logging query %q: %v", q, err)
	}
}

// TruncateSnippet mirrors the fallback description[:200] slicing the
// original API applies when Elasticsearch returns no content
// highlight; fulltext.Store.Search already does this itself, but it's
// exported here so a caller composing its own Result can match it.
func TruncateSnippet(s string) string {
	if len(s) <= snippetChars {
		return s
	}
	return s[:snippetChars]
}
