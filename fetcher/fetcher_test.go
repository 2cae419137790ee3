package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func htmlServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head>
			<title>  Example Title  </title>
			<meta name="description" content="  A description.  ">
		</head><body>
			<nav><a href="/nav-link">nav</a></nav>
			<p>Hello   world</p>
			<a href="foo/bar">rel link</a>
			<a href="https://other.test/x">abs link</a>
			<a href="#frag">skip</a>
			<a href="javascript:void(0)">skip</a>
			<a href="mailto:a@b.com">skip</a>
		</body></html>`))
	})
	mux.HandleFunc("/not-html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/notfound", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

// Skip by extension.
func TestPreflightSkipsExtension(t *testing.T) {
	if !Preflight("https://x.test/foo.pdf") {
		t.Errorf("expected .pdf to be skipped")
	}
	if Preflight("https://x.test/foo.html") {
		t.Errorf("expected .html to be fetched")
	}
}

func TestFetchExtractsContent(t *testing.T) {
	server := htmlServer(t)
	defer server.Close()
	f := New("test-agent", "worker-1")
	page, outcome, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if outcome != OK {
		t.Fatalf("expected OK outcome, got %v", outcome)
	}
	if page.Title != "Example Title" {
		t.Errorf("Title = %q, want %q", page.Title, "Example Title")
	}
	if page.Description != "A description." {
		t.Errorf("Description = %q, want %q", page.Description, "A description.")
	}
	// The nav is stripped, but anchor text inside <body> stays in the content.
	wantContent := "Hello world rel link abs link skip skip skip"
	if page.Content != wantContent {
		t.Errorf("Content = %q, want %q", page.Content, wantContent)
	}
	wantLinks := map[string]bool{
		server.URL + "/nav-link": true,
		server.URL + "/foo/bar":  true,
		"https://other.test/x":   true,
	}
	if len(page.Links) != len(wantLinks) {
		t.Fatalf("Links = %v, want exactly %v", page.Links, wantLinks)
	}
	for _, l := range page.Links {
		if !wantLinks[l] {
			t.Errorf("unexpected link %q", l)
		}
	}
}

func TestFetchSkipsNonHTML(t *testing.T) {
	server := htmlServer(t)
	defer server.Close()
	f := New("test-agent", "worker-1")
	_, outcome, err := f.Fetch(context.Background(), server.URL+"/not-html")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Skip {
		t.Errorf("expected Skip outcome for non-HTML, got %v", outcome)
	}
}

func TestFetchErrorOnNon2xx(t *testing.T) {
	server := htmlServer(t)
	defer server.Close()
	f := New("test-agent", "worker-1")
	_, outcome, err := f.Fetch(context.Background(), server.URL+"/notfound")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if outcome != Error {
		t.Errorf("expected Error outcome, got %v", outcome)
	}
}

// Sanity check: links extracted are always absolute http(s) URLs.
func TestExtractedLinksAreAbsolute(t *testing.T) {
	server := htmlServer(t)
	defer server.Close()
	f := New("test-agent", "worker-1")
	page, _, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range page.Links {
		if !(len(l) > 7 && (l[:7] == "http://" || (len(l) > 8 && l[:8] == "https://"))) {
			t.Errorf("link %q is not absolute http(s)", l)
		}
	}
}
