package fulltext

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) (*Store, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return New(client), server
}

func TestEnsureIndexSkipsCreateWhenPresent(t *testing.T) {
	created := false
	store, server := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		created = true
		w.WriteHeader(http.StatusOK)
	})
	defer server.Close()

	if err := store.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if created {
		t.Errorf("expected no index creation request when index already exists")
	}
}

func TestEnsureIndexCreatesWhenMissing(t *testing.T) {
	var createBody string
	store, server := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		createBody = string(buf)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})
	defer server.Close()

	if err := store.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if !strings.Contains(createBody, "porter_stem") {
		t.Errorf("expected analyzer body to include porter_stem, got: %s", createBody)
	}
}

func TestSearchParsesHighlightsAndScore(t *testing.T) {
	store, server := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]any
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		mm := reqBody["query"].(map[string]any)["multi_match"].(map[string]any)
		if mm["query"] != "golang" {
			t.Errorf("query = %v, want golang", mm["query"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"hits": {
				"total": {"value": 1},
				"hits": [{
					"_score": 4.2,
					"_source": {"url": "https://example.com/", "title": "Example", "description": "A site.", "crawled_at": "2026-01-01T00:00:00Z"},
					"highlight": {"title": ["<mark>Example</mark>"], "content": ["...snippet..."]}
				}]
			}
		}`))
	})
	defer server.Close()

	result, err := store.Search(context.Background(), "golang", 0, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}
	hit := result.Hits[0]
	if hit.Title != "<mark>Example</mark>" {
		t.Errorf("Title = %q, want highlighted title", hit.Title)
	}
	if hit.Snippet != "...snippet..." {
		t.Errorf("Snippet = %q, want highlighted content", hit.Snippet)
	}
	if hit.Score != 4.2 {
		t.Errorf("Score = %v, want 4.2", hit.Score)
	}
}

func TestBulkReportsPartialFailures(t *testing.T) {
	store, server := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"errors": true,
			"items": [
				{"index": {"status": 200}},
				{"index": {"status": 400, "error": {"type": "mapper_parsing_exception"}}}
			]
		}`))
	})
	defer server.Close()

	succeeded, err := store.Bulk(context.Background(), []BulkItem{
		{ID: "a", Doc: Document{URL: "https://a.test/"}},
		{ID: "b", Doc: Document{URL: "https://b.test/"}},
	})
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
}

func TestBulkEmptyIsNoop(t *testing.T) {
	called := false
	store, server := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	defer server.Close()

	n, err := store.Bulk(context.Background(), nil)
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
	if called {
		t.Errorf("expected no HTTP call for empty batch")
	}
}
