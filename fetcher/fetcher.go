// Package fetcher implements a bounded HTTP GET, HTML cleanup, and
// title/description/content/link extraction with URL normalization,
// built on goquery for parsing and rehttp for retry/backoff.
package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/rehttp"
	"github.com/aybabtme/iocontrol"
	"github.com/dustin/go-humanize"

	"github.com/codepr/searchpipe/urlkey"
)

const (
	// FetchTimeout is the total budget for a single GET, including
	// redirects.
	FetchTimeout = 10 * time.Second
	// MaxRedirects bounds how many hops a GET will follow.
	MaxRedirects = 5
	// MaxBodyBytes is the hard cap on a response body.
	MaxBodyBytes = 5 * 1024 * 1024
	// MaxTitleLen, MaxDescriptionLen, MaxContentLen bound the extracted
	// fields.
	MaxTitleLen       = 500
	MaxDescriptionLen = 1000
	MaxContentLen     = 50_000

	connPoolTotal   = 10
	connPoolPerHost = 2

	acceptHeader = "text/html,application/xhtml+xml"
)

// skipExtensions lists path suffixes that are never worth fetching:
// images, archives, media, office documents, executables, and other
// non-HTML payloads.
var skipExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
	".zip": true, ".rar": true, ".tar": true, ".gz": true, ".7z": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".css": true, ".js": true, ".json": true, ".xml": true,
	".exe": true, ".dmg": true, ".apk": true,
}

// strippedTags are removed before text extraction so navigation
// chrome doesn't pollute the indexed content.
var strippedTags = []string{"script", "style", "nav", "footer", "header", "aside"}

// Outcome classifies the result of a Fetch call.
type Outcome int

const (
	// OK means page was returned.
	OK Outcome = iota
	// Skip means a policy reject: not an error, not retried.
	Skip
	// Error means a fetch error (timeout, connection, non-2xx, parse
	// failure); the URL is not retried within the bloom filter's
	// lifetime.
	Error
)

// Page is the fetched-page record, field-for-field the JSON schema
// serialized onto the indexing queue.
type Page struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Content       string    `json:"content"`
	Links         []string  `json:"links"`
	CrawledAt     time.Time `json:"crawled_at"`
	WorkerID      string    `json:"worker_id"`
	HTTPStatus    int       `json:"http_status"`
	ContentLength int       `json:"content_length"`
	Domain        string    `json:"domain"`
}

// Fetcher is the entry point: Fetch performs the full preflight,
// bounded GET, and extraction pipeline for one URL.
type Fetcher struct {
	userAgent string
	workerID  string
	client    *http.Client
	logger    *log.Logger
}

// New creates a Fetcher. The underlying transport retries transient
// errors with exponential backoff (rehttp) and caps the connection pool.
func New(userAgent, workerID string) *Fetcher {
	transport := rehttp.NewTransport(
		&http.Transport{
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: false},
			MaxIdleConns:        connPoolTotal,
			MaxIdleConnsPerHost: connPoolPerHost,
		},
		rehttp.RetryAll(rehttp.RetryMaxRetries(2), rehttp.RetryTemporaryErr()),
		rehttp.ExpJitterDelay(100*time.Millisecond, 2*time.Second),
	)
	client := &http.Client{
		Timeout:   FetchTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > MaxRedirects {
				return fmt.Errorf("fetcher: stopped after %d redirects", MaxRedirects)
			}
			return nil
		},
	}
	return &Fetcher{
		userAgent: userAgent,
		workerID:  workerID,
		client:    client,
		logger:    log.New(os.Stderr, "fetcher: ", log.LstdFlags),
	}
}

// Preflight reports whether a canonical URL should never be requested:
// non-http(s) scheme, a known binary extension, or a fragment.
func Preflight(canonicalURL string) bool {
	lower := strings.ToLower(canonicalURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return true
	}
	if strings.Contains(canonicalURL, "#") {
		return true
	}
	for ext := range skipExtensions {
		if strings.HasSuffix(strings.SplitN(lower, "?", 2)[0], ext) {
			return true
		}
	}
	return false
}

// Fetch retrieves and parses canonicalURL. The returned Page's URL field
// is the final URL after redirects, already canonicalized.
func (f *Fetcher) Fetch(ctx context.Context, canonicalURL string) (*Page, Outcome, error) {
	if Preflight(canonicalURL) {
		return nil, Skip, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonicalURL, nil)
	if err != nil {
		return nil, Error, fmt.Errorf("fetcher: building request for %s: %w", canonicalURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, Error, fmt.Errorf("fetcher: fetching %s: %w", canonicalURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Error, fmt.Errorf("fetcher: %s returned %s", canonicalURL, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, Skip, nil
	}

	if cl := resp.ContentLength; cl > MaxBodyBytes {
		f.logger.Printf("skip %s: content-length %s exceeds cap", canonicalURL, humanize.Bytes(uint64(cl)))
		return nil, Skip, nil
	}

	measured := iocontrol.NewMeasuredReader(io.LimitReader(resp.Body, MaxBodyBytes+1))
	body, err := io.ReadAll(measured)
	if err != nil {
		return nil, Error, fmt.Errorf("fetcher: reading body of %s: %w", canonicalURL, err)
	}
	if len(body) > MaxBodyBytes {
		f.logger.Printf("skip %s: body exceeded %s cap", canonicalURL, humanize.Bytes(MaxBodyBytes))
		return nil, Skip, nil
	}

	finalURL := resp.Request.URL.String()
	canonicalFinal, err := urlkey.Canonicalize(finalURL)
	if err != nil {
		return nil, Error, fmt.Errorf("fetcher: canonicalizing final URL %s: %w", finalURL, err)
	}

	page, err := extract(canonicalFinal, body)
	if err != nil {
		return nil, Error, fmt.Errorf("fetcher: parsing %s: %w", canonicalURL, err)
	}
	page.WorkerID = f.workerID
	page.HTTPStatus = resp.StatusCode
	page.ContentLength = len(body)
	page.Domain = urlkey.Host(canonicalFinal)
	page.CrawledAt = time.Now().UTC()

	return page, OK, nil
}

func extract(finalURL string, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	title := truncate(strings.TrimSpace(doc.Find("title").First().Text()), MaxTitleLen)

	description := ""
	if content, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		description = truncate(strings.TrimSpace(content), MaxDescriptionLen)
	}

	// Links are gathered before the chrome elements are stripped: a
	// nav/footer link is still a discoverable URL even though its text
	// shouldn't pollute the indexed content.
	links := extractLinks(doc, finalURL)

	doc.Find(strings.Join(strippedTags, ",")).Remove()
	body2 := doc.Find("body")
	var text string
	if body2.Length() > 0 {
		text = body2.Text()
	} else {
		text = doc.Text()
	}
	text = truncate(normalizeWhitespace(text), MaxContentLen)

	return &Page{
		URL:         finalURL,
		Title:       title,
		Description: description,
		Content:     text,
		Links:       links,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
