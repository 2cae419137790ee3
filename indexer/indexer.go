// Package indexer drains crawled pages off the indexing queue, runs
// them through text preprocessing, and writes them to both the
// full-text store and the metadata store.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/codepr/searchpipe/env"
	"github.com/codepr/searchpipe/fetcher"
	"github.com/codepr/searchpipe/fulltext"
	"github.com/codepr/searchpipe/messaging"
	"github.com/codepr/searchpipe/metastore"
	"github.com/codepr/searchpipe/urlkey"
)

const (
	defaultBatchSize = 50
	defaultIdleSleep = 5 * time.Second
	maxTitleLen      = 500
)

// Stats tracks a run's end-of-pass counters.
type Stats struct {
	PagesIndexed int64
	Errors       int64
}

// Settings configures an Indexer.
type Settings struct {
	BatchMode bool
	BatchSize int
}

// Opt is the option-pattern constructor hook for Settings.
type Opt func(*Settings)

// WithBatchMode toggles between batch (bulk) and one-at-a-time drain.
func WithBatchMode(b bool) Opt { return func(s *Settings) { s.BatchMode = b } }

// WithBatchSize overrides how many pages a batch flush drains at once.
func WithBatchSize(n int) Opt { return func(s *Settings) { s.BatchSize = n } }

// queue is the subset of messaging.IndexQueue the indexer consumes.
type queue interface {
	DrainBatch(ctx context.Context, n int) ([][]byte, error)
	Len(ctx context.Context) (int64, error)
}

// Indexer is the entry point: Run drives the drain-preprocess-index
// loop until ctx is cancelled.
type Indexer struct {
	logger   *log.Logger
	queue    queue
	fulltext *fulltext.Store
	meta     *metastore.Store
	settings *Settings
	stats    Stats
}

// New wires an Indexer from its dependencies and options.
func New(q *messaging.IndexQueue, ft *fulltext.Store, meta *metastore.Store, opts ...Opt) *Indexer {
	settings := &Settings{BatchMode: true, BatchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(settings)
	}
	return &Indexer{
		logger:   log.New(os.Stderr, "indexer: ", log.LstdFlags),
		queue:    q,
		fulltext: ft,
		meta:     meta,
		settings: settings,
	}
}

// NewFromEnv builds an Indexer reading its tunables from the
// environment, mirroring crawler.NewFromEnv.
func NewFromEnv(q *messaging.IndexQueue, ft *fulltext.Store, meta *metastore.Store) *Indexer {
	return New(q, ft, meta,
		WithBatchMode(env.GetEnvAsInt("INDEXER_BATCH_MODE", 1) != 0),
		WithBatchSize(env.GetEnvAsInt("INDEXER_BATCH_SIZE", defaultBatchSize)),
	)
}

// Run loops until ctx is cancelled: when the queue is empty it sleeps,
// otherwise it drains a batch (or a single item, when batch mode is off
// or the queue hasn't reached BatchSize yet) and indexes it.
func (ix *Indexer) Run(ctx context.Context) Stats {
	ix.logger.Printf("starting (batch_mode=%v batch_size=%d)", ix.settings.BatchMode, ix.settings.BatchSize)
	for {
		select {
		case <-ctx.Done():
			ix.logger.Printf("stopped: indexed=%d errors=%d", ix.stats.PagesIndexed, ix.stats.Errors)
			return ix.stats
		default:
		}

		size, err := ix.queue.Len(ctx)
		if err != nil {
			ix.logger.Printf("queue length check failed: %v", err)
			ix.sleep(ctx, defaultIdleSleep)
			continue
		}
		if size == 0 {
			ix.logger.Printf("queue empty, waiting")
			ix.sleep(ctx, defaultIdleSleep)
			continue
		}

		drain := 1
		if ix.settings.BatchMode && size >= int64(ix.settings.BatchSize) {
			drain = ix.settings.BatchSize
		}
		n, err := ix.processBatch(ctx, drain)
		if err != nil {
			ix.logger.Printf("batch processing error: %v", err)
		}
		if n > 0 {
			ix.logger.Printf("indexed %d pages (%d total)", n, ix.stats.PagesIndexed)
		}
	}
}

func (ix *Indexer) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// processBatch drains up to n payloads, builds documents, submits them
// (bulk when n>1, single Upsert otherwise), and persists metadata for
// the submitted documents: a single Upsert persists only on success, a
// bulk request that returns without error persists every document in
// it, since Bulk reports only a success count, not which items failed.
func (ix *Indexer) processBatch(ctx context.Context, n int) (int, error) {
	payloads, err := ix.queue.DrainBatch(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("indexer: draining queue: %w", err)
	}
	if len(payloads) == 0 {
		return 0, nil
	}

	docs := make([]documentWithID, 0, len(payloads))
	for _, payload := range payloads {
		doc, id, ok := ix.buildDocument(payload)
		if !ok {
			ix.stats.Errors++
			continue
		}
		docs = append(docs, documentWithID{id: id, doc: doc})
	}
	if len(docs) == 0 {
		return 0, nil
	}

	var indexed int
	if len(docs) == 1 {
		if err := ix.fulltext.Upsert(ctx, docs[0].id, docs[0].doc); err != nil {
			ix.logger.Printf("index error for %s: %v", docs[0].doc.URL, err)
			ix.stats.Errors++
		} else {
			indexed = 1
			ix.persistMetadata(ctx, docs[0])
		}
		ix.stats.PagesIndexed += int64(indexed)
		return indexed, nil
	}

	items := make([]fulltext.BulkItem, len(docs))
	for i, d := range docs {
		items[i] = fulltext.BulkItem{ID: d.id, Doc: d.doc}
	}
	indexed, err = ix.fulltext.Bulk(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("indexer: bulk indexing %d docs: %w", len(items), err)
	}
	for _, d := range docs {
		ix.persistMetadata(ctx, d)
	}
	ix.stats.PagesIndexed += int64(indexed)
	return indexed, nil
}

type documentWithID struct {
	id  string
	doc fulltext.Document
}

// buildDocument decodes one queue payload and turns it into a
// fulltext.Document, running the content through the preprocessing
// pipeline. A malformed payload is dropped and counted as an error
// rather than failing the whole batch.
func (ix *Indexer) buildDocument(payload []byte) (fulltext.Document, string, bool) {
	var page fetcher.Page
	if err := json.Unmarshal(payload, &page); err != nil {
		ix.logger.Printf("dropping malformed queue payload: %v", err)
		return fulltext.Document{}, "", false
	}
	if page.URL == "" {
		ix.logger.Printf("dropping payload with empty url")
		return fulltext.Document{}, "", false
	}

	canonical, err := urlkey.Canonicalize(page.URL)
	if err != nil {
		ix.logger.Printf("dropping %s: %v", page.URL, err)
		return fulltext.Document{}, "", false
	}

	title := page.Title
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}

	doc := fulltext.Document{
		URL:         canonical,
		Title:       title,
		Description: page.Description,
		Content:     preprocess(page.Content),
		Domain:      page.Domain,
		CrawledAt:   page.CrawledAt,
		IndexedAt:   time.Now().UTC(),
		WordCount:   wordCount(page.Content),
	}
	return doc, urlkey.Fingerprint(canonical), true
}

// persistMetadata writes the pages-table row for one indexed document,
// logging (not failing the batch on) a metastore error.
func (ix *Indexer) persistMetadata(ctx context.Context, d documentWithID) {
	if ix.meta == nil {
		return
	}
	err := ix.meta.UpsertIndexed(ctx, metastore.PageMetadata{
		ID:            d.id,
		URL:           d.doc.URL,
		Title:         d.doc.Title,
		CrawledAt:     d.doc.CrawledAt,
		IndexedAt:     d.doc.IndexedAt,
		ContentLength: d.doc.WordCount,
	})
	if err != nil {
		ix.logger.Printf("metadata save error for %s: %v", d.doc.URL, err)
	}
}
