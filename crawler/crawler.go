// Package crawler implements the worker loop that ties the frontier,
// politeness, and fetch-parse-extract components together: option-pattern
// settings, a semaphore-bounded goroutine pool, and NewFromEnv wiring,
// coordinated through a KV-store frontier rather than an in-process
// channel of discovered links.
package crawler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codepr/searchpipe/env"
	"github.com/codepr/searchpipe/fetcher"
	"github.com/codepr/searchpipe/frontier"
	"github.com/codepr/searchpipe/kvstore"
	"github.com/codepr/searchpipe/messaging"
	"github.com/codepr/searchpipe/metastore"
	"github.com/codepr/searchpipe/politeness"
	"github.com/codepr/searchpipe/urlkey"
)

const (
	defaultUserAgent       = "Mozilla/5.0 (compatible; SearchpipeBot/1.0; +https://example.invalid/bot)"
	defaultMaxDepth        = 3
	defaultConcurrency     = 8
	defaultPolitenessDelay = 1 * time.Second
	defaultIdleSleep       = 2 * time.Second
	// maxLinksPerPage caps how many discovered links from a single page
	// get persisted/enqueued, bounding fan-out from link-farm pages.
	maxLinksPerPage = 100
)

// Stats are the running counters a worker reports at the end of a run.
type Stats struct {
	PagesCrawled int64
	Skipped      int64
	Errors       int64
}

// Settings configures a Crawler.
type Settings struct {
	UserAgent       string
	WorkerID        string
	MaxDepth        int
	Concurrency     int
	PolitenessDelay time.Duration
}

// Opt is the option-pattern constructor hook for Settings.
type Opt func(*Settings)

// WithMaxDepth overrides the default link-follow depth cap.
func WithMaxDepth(d int) Opt { return func(s *Settings) { s.MaxDepth = d } }

// WithConcurrency overrides the goroutine pool size bounding in-flight
// fetches.
func WithConcurrency(n int) Opt { return func(s *Settings) { s.Concurrency = n } }

// WithPolitenessDelay overrides the per-host minimum dispatch gap.
func WithPolitenessDelay(d time.Duration) Opt { return func(s *Settings) { s.PolitenessDelay = d } }

// Crawler is one worker process: it pops URLs from the shared frontier,
// admits them through politeness, fetches and extracts them, then
// enqueues the result for indexing and persists the link graph.
type Crawler struct {
	logger     *log.Logger
	frontier   *frontier.Frontier
	bloom      *frontier.Bloom
	politeness *politeness.Checker
	fetcher    *fetcher.Fetcher
	queue      messaging.Producer
	meta       *metastore.Store
	settings   *Settings
	jobID      int64
	stats      Stats
}

// New wires a Crawler from its dependencies and options.
func New(store kvstore.Store, meta *metastore.Store, queue messaging.Producer, userAgent, workerID string, opts ...Opt) *Crawler {
	settings := &Settings{
		UserAgent:       userAgent,
		WorkerID:        workerID,
		MaxDepth:        defaultMaxDepth,
		Concurrency:     defaultConcurrency,
		PolitenessDelay: defaultPolitenessDelay,
	}
	for _, opt := range opts {
		opt(settings)
	}

	return &Crawler{
		logger:     log.New(os.Stderr, fmt.Sprintf("crawler[%s]: ", workerID), log.LstdFlags),
		frontier:   frontier.New(store),
		bloom:      frontier.NewBloom(store),
		politeness: politeness.New(store, userAgent, politeness.WithDelay(settings.PolitenessDelay)),
		fetcher:    fetcher.New(userAgent, workerID),
		queue:      queue,
		meta:       meta,
		settings:   settings,
	}
}

// NewFromEnv builds a Crawler reading its tunables from the environment.
func NewFromEnv(store kvstore.Store, meta *metastore.Store, queue messaging.Producer, workerID string) *Crawler {
	return New(store, meta, queue,
		env.GetEnv("USER_AGENT", defaultUserAgent),
		workerID,
		WithMaxDepth(env.GetEnvAsInt("CRAWLER_MAX_DEPTH", defaultMaxDepth)),
		WithConcurrency(env.GetEnvAsInt("CRAWLER_CONCURRENCY", defaultConcurrency)),
		WithPolitenessDelay(env.GetEnvAsDuration("CRAWLER_POLITENESS_DELAY", defaultPolitenessDelay)),
	)
}

// LoadSeedFile reads a newline-delimited list of seed URLs, skipping
// blank lines and "#"-prefixed comments, mirroring shared/seed_urls.py.
func LoadSeedFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("crawler: opening seed file %s: %w", path, err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := trimSpaceAndComment(line)
		if trimmed == "" {
			continue
		}
		urls = append(urls, trimmed)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("crawler: reading seed file %s: %w", path, err)
	}
	return urls, nil
}

func trimSpaceAndComment(line string) string {
	for i, r := range line {
		if r == '#' {
			line = line[:i]
			break
		}
	}
	return trimTrailingWhitespace(trimLeadingWhitespace(line))
}

func trimLeadingWhitespace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return s[i:]
}

func trimTrailingWhitespace(s string) string {
	i := len(s)
	for i > 0 && (s[i-1] == ' ' || s[i-1] == '\t' || s[i-1] == '\r') {
		i--
	}
	return s[:i]
}

// Seed pushes each URL at priority 0 (the highest priority) and records
// one crawl_jobs row for the seed batch, keyed by its first valid seed;
// Run reports its counters against that row.
func (c *Crawler) Seed(ctx context.Context, rawURLs []string) error {
	var entries []frontier.Entry
	for _, raw := range rawURLs {
		canonical, err := urlkey.Canonicalize(raw)
		if err != nil {
			c.logger.Printf("skip invalid seed %q: %v", raw, err)
			continue
		}
		entries = append(entries, frontier.Entry{URL: canonical, Priority: 0})
		if err := c.frontier.SetDepth(ctx, canonical, 0); err != nil {
			c.logger.Printf("recording seed depth for %s: %v", canonical, err)
		}
		if c.meta != nil && c.jobID == 0 {
			if jobID, err := c.meta.CreateCrawlJob(ctx, canonical); err != nil {
				c.logger.Printf("creating crawl job for %s: %v", canonical, err)
			} else {
				c.jobID = jobID
			}
		}
	}
	if err := c.frontier.PushMany(ctx, entries); err != nil {
		return fmt.Errorf("crawler: seeding: %w", err)
	}
	return nil
}

// Run drives the main worker loop until ctx is cancelled or maxPages is
// reached (0 means unbounded). In-flight fetches are allowed to finish
// on cancellation; any popped-but-unprocessed URL is lost, matching
// the at-most-once design contract.
func (c *Crawler) Run(ctx context.Context, maxPages int) Stats {
	c.logger.Printf("starting, max_depth=%d concurrency=%d", c.settings.MaxDepth, c.settings.Concurrency)
	start := time.Now()

	sem := make(chan struct{}, c.settings.Concurrency)
	var wg sync.WaitGroup
	popFailures := 0

loop:
	for {
		if maxPages > 0 && atomic.LoadInt64(&c.stats.PagesCrawled) >= int64(maxPages) {
			c.logger.Printf("reached max pages limit: %d", maxPages)
			break
		}
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		urls, err := c.frontier.PopBatch(ctx, c.settings.Concurrency)
		if err != nil {
			c.logger.Printf("frontier pop error: %v, backing off", err)
			c.sleep(ctx, frontier.DefaultPoliteBackoff(popFailures))
			popFailures++
			continue
		}
		popFailures = 0
		if len(urls) == 0 {
			size, _ := c.frontier.Size(ctx)
			if size == 0 {
				c.logger.Println("frontier empty, waiting")
			}
			c.sleep(ctx, defaultIdleSleep)
			continue
		}

		for _, u := range urls {
			u := u
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				c.processURL(context.WithoutCancel(ctx), u)
			}()
		}
	}
	wg.Wait()

	elapsed := time.Since(start)
	pages := atomic.LoadInt64(&c.stats.PagesCrawled)
	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(pages) / elapsed.Seconds()
	}
	c.logger.Printf("done: pages=%d skipped=%d errors=%d elapsed=%s rate=%.2f/s",
		pages, atomic.LoadInt64(&c.stats.Skipped), atomic.LoadInt64(&c.stats.Errors), elapsed.Round(time.Millisecond), rate)

	if c.meta != nil && c.jobID != 0 {
		if err := c.meta.UpdateCrawlJobStats(ctx, c.jobID, int(pages), 0, int(atomic.LoadInt64(&c.stats.Errors))); err != nil {
			c.logger.Printf("updating crawl job stats: %v", err)
		}
		if err := c.meta.CompleteCrawlJob(ctx, c.jobID); err != nil {
			c.logger.Printf("completing crawl job: %v", err)
		}
	}
	return c.stats
}

func (c *Crawler) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// processURL runs the full per-URL pipeline: bloom check, mark, admit,
// fetch, publish, persist link edges, enqueue children.
func (c *Crawler) processURL(ctx context.Context, canonicalURL string) {
	seen, err := c.bloom.Seen(ctx, canonicalURL)
	if err != nil {
		c.logger.Printf("bloom check for %s: %v", canonicalURL, err)
		return
	}
	if seen {
		return
	}

	// The URL is marked strictly before the fetch begins, so a crash
	// mid-fetch never causes a retry loop against the same URL.
	if err := c.bloom.Mark(ctx, canonicalURL); err != nil {
		c.logger.Printf("bloom mark for %s: %v", canonicalURL, err)
		return
	}

	decision, err := c.politeness.Admit(ctx, canonicalURL)
	if err != nil {
		c.logger.Printf("admit error for %s: %v", canonicalURL, err)
		atomic.AddInt64(&c.stats.Errors, 1)
		return
	}
	if decision == politeness.Deny {
		atomic.AddInt64(&c.stats.Skipped, 1)
		return
	}

	page, outcome, err := c.fetcher.Fetch(ctx, canonicalURL)
	switch outcome {
	case fetcher.Skip:
		atomic.AddInt64(&c.stats.Skipped, 1)
		return
	case fetcher.Error:
		c.logger.Printf("fetch error for %s: %v", canonicalURL, err)
		atomic.AddInt64(&c.stats.Errors, 1)
		return
	}

	atomic.AddInt64(&c.stats.PagesCrawled, 1)
	c.logger.Printf("crawled %s (%d total)", canonicalURL, atomic.LoadInt64(&c.stats.PagesCrawled))

	c.publish(page)
	c.persist(ctx, canonicalURL, page)
	c.enqueueChildren(ctx, canonicalURL, page)
}

func (c *Crawler) publish(page *fetcher.Page) {
	payload, err := json.Marshal(page)
	if err != nil {
		c.logger.Printf("marshaling page %s: %v", page.URL, err)
		return
	}
	if err := c.queue.Produce(payload); err != nil {
		c.logger.Printf("publishing %s to index queue: %v", page.URL, err)
	}
}

func (c *Crawler) persist(ctx context.Context, canonicalURL string, page *fetcher.Page) {
	if c.meta == nil {
		return
	}
	id := urlkey.Fingerprint(canonicalURL)
	if err := c.meta.UpsertCrawled(ctx, metastore.PageMetadata{
		ID: id, URL: page.URL, Title: page.Title,
		CrawledAt: page.CrawledAt, ContentLength: page.ContentLength,
	}); err != nil {
		c.logger.Printf("persisting metadata for %s: %v", page.URL, err)
	}

	links := page.Links
	if len(links) > maxLinksPerPage {
		links = links[:maxLinksPerPage]
	}
	for _, target := range links {
		if err := c.meta.InsertLinkEdge(ctx, page.URL, target); err != nil {
			c.logger.Printf("persisting link %s -> %s: %v", page.URL, target, err)
		}
	}
}

func (c *Crawler) enqueueChildren(ctx context.Context, parentURL string, page *fetcher.Page) {
	depth, err := c.frontier.Depth(ctx, parentURL)
	if err != nil {
		c.logger.Printf("looking up depth for %s: %v", parentURL, err)
	}
	childDepth := depth + 1
	if childDepth > c.settings.MaxDepth {
		return
	}

	links := page.Links
	if len(links) > maxLinksPerPage {
		links = links[:maxLinksPerPage]
	}

	var entries []frontier.Entry
	for _, link := range links {
		already, err := c.bloom.Seen(ctx, link)
		if err != nil || already {
			continue
		}
		entries = append(entries, frontier.Entry{URL: link, Priority: frontier.Priority(link, childDepth)})
		if err := c.frontier.SetDepth(ctx, link, childDepth); err != nil {
			c.logger.Printf("recording depth for %s: %v", link, err)
		}
	}
	if len(entries) == 0 {
		return
	}
	if err := c.frontier.PushMany(ctx, entries); err != nil {
		c.logger.Printf("enqueueing children of %s: %v", parentURL, err)
	}
}
