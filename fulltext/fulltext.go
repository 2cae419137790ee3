// Package fulltext wraps the Elasticsearch index that backs search
// (§4.4/§4.6): document upsert, bulk indexing, and the multi_match
// query with per-field boosting and highlighting. There is no Go
// example of this client in the retrieved pack, so its shape follows
// go-elasticsearch/v8's own esapi conventions directly rather than an
// adapted teacher file.
package fulltext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// IndexName is the default Elasticsearch index for crawled pages.
const IndexName = "pages"

// Document is one indexed page.
type Document struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Domain      string    `json:"domain"`
	CrawledAt   time.Time `json:"crawled_at"`
	IndexedAt   time.Time `json:"indexed_at"`
	WordCount   int       `json:"word_count"`
}

// Hit is one search result, with highlighted snippets preferred over
// raw fields per §4.6.
type Hit struct {
	URL         string
	Title       string
	Description string
	Snippet     string
	Score       float64
	CrawledAt   time.Time
}

// SearchResult is the page of hits plus the total matched count, used
// to compute has_next/has_prev/total_pages.
type SearchResult struct {
	Hits  []Hit
	Total int
}

// Store is the fulltext client.
type Store struct {
	es    *elasticsearch.Client
	index string
}

// New builds a Store over the given Elasticsearch client.
func New(es *elasticsearch.Client) *Store {
	return &Store{es: es, index: IndexName}
}

// EnsureIndex creates the index with the custom analyzer chain
// (standard tokenizer, lowercase, porter stem, stopwords) if it
// doesn't already exist, mirroring the indexer's _ensure_index step.
func (s *Store) EnsureIndex(ctx context.Context) error {
	existsRes, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fulltext: checking index existence: %w", err)
	}
	defer existsRes.Body.Close()
	if existsRes.StatusCode == 200 {
		return nil
	}

	body := `{
		"settings": {
			"number_of_shards": 3,
			"number_of_replicas": 1,
			"analysis": {
				"analyzer": {
					"content_analyzer": {
						"type": "custom",
						"tokenizer": "standard",
						"filter": ["lowercase", "porter_stem", "stop"]
					}
				}
			}
		},
		"mappings": {
			"properties": {
				"url": {"type": "keyword"},
				"title": {
					"type": "text",
					"analyzer": "english",
					"fields": {"raw": {"type": "keyword"}}
				},
				"description": {"type": "text", "analyzer": "english"},
				"content": {"type": "text", "analyzer": "content_analyzer"},
				"domain": {"type": "keyword"},
				"crawled_at": {"type": "date"},
				"indexed_at": {"type": "date"},
				"word_count": {"type": "integer"}
			}
		}
	}`

	res, err := s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(strings.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("fulltext: creating index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("fulltext: creating index %s: %s", s.index, res.String())
	}
	return nil
}

// docID derives the Elasticsearch document id from a URL fingerprint;
// callers pass urlkey.Fingerprint(url) so the same page always maps to
// the same document regardless of re-crawls.
func docID(fingerprint string) string { return fingerprint }

// Upsert indexes a single document, used for a single drained page
// (the indexer's one-at-a-time mode).
func (s *Store) Upsert(ctx context.Context, id string, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("fulltext: marshaling document for %s: %w", doc.URL, err)
	}
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: docID(id),
		Body:       bytes.NewReader(payload),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("fulltext: indexing %s: %w", doc.URL, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("fulltext: indexing %s: %s", doc.URL, res.String())
	}
	return nil
}

// BulkItem pairs a document with its id for a bulk request.
type BulkItem struct {
	ID  string
	Doc Document
}

// Bulk indexes a batch of documents in one request (the batch mode's
// N<=50 drain), returning how many succeeded.
func (s *Store) Bulk(ctx context.Context, items []BulkItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for _, item := range items {
		meta := map[string]any{
			"index": map[string]string{"_index": s.index, "_id": docID(item.ID)},
		}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return 0, fmt.Errorf("fulltext: marshaling bulk meta: %w", err)
		}
		docLine, err := json.Marshal(item.Doc)
		if err != nil {
			return 0, fmt.Errorf("fulltext: marshaling bulk doc for %s: %w", item.Doc.URL, err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return 0, fmt.Errorf("fulltext: bulk indexing %d docs: %w", len(items), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("fulltext: bulk indexing %d docs: %s", len(items), res.String())
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []struct {
			Index struct {
				Error json.RawMessage `json:"error,omitempty"`
			} `json:"index"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("fulltext: decoding bulk response: %w", err)
	}
	if !parsed.Errors {
		return len(items), nil
	}
	failed := 0
	for _, item := range parsed.Items {
		if len(item.Index.Error) > 0 {
			failed++
		}
	}
	return len(items) - failed, nil
}

// Search runs the blended multi_match query (title^3, description^2,
// content) with highlighting, from/size pagination, per §4.6.
func (s *Store) Search(ctx context.Context, query string, from, size int) (*SearchResult, error) {
	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":    query,
				"fields":   []string{"title^3", "description^2", "content"},
				"type":     "best_fields",
				"operator": "or",
			},
		},
		"from": from,
		"size": size,
		"highlight": map[string]any{
			"pre_tags":  []string{"<mark>"},
			"post_tags": []string{"</mark>"},
			"fields": map[string]any{
				"content":     map[string]any{"fragment_size": 150, "number_of_fragments": 1},
				"title":       map[string]any{},
				"description": map[string]any{},
			},
		},
		"_source": []string{"url", "title", "description", "crawled_at"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("fulltext: marshaling search body: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("fulltext: searching %q: %w", query, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("fulltext: searching %q: %s", query, res.String())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					URL         string    `json:"url"`
					Title       string    `json:"title"`
					Description string    `json:"description"`
					CrawledAt   time.Time `json:"crawled_at"`
				} `json:"_source"`
				Highlight struct {
					Title       []string `json:"title"`
					Description []string `json:"description"`
					Content     []string `json:"content"`
				} `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("fulltext: decoding search response: %w", err)
	}

	result := &SearchResult{Total: parsed.Hits.Total.Value}
	for _, h := range parsed.Hits.Hits {
		hit := Hit{
			URL:         h.Source.URL,
			Title:       h.Source.Title,
			Description: h.Source.Description,
			Score:       h.Score,
			CrawledAt:   h.Source.CrawledAt,
		}
		if len(h.Highlight.Title) > 0 {
			hit.Title = h.Highlight.Title[0]
		}
		if len(h.Highlight.Description) > 0 {
			hit.Description = h.Highlight.Description[0]
		}
		switch {
		case len(h.Highlight.Content) > 0:
			hit.Snippet = h.Highlight.Content[0]
		case len(h.Source.Description) > 200:
			hit.Snippet = h.Source.Description[:200]
		default:
			hit.Snippet = h.Source.Description
		}
		result.Hits = append(result.Hits, hit)
	}
	return result, nil
}
