package fetcher

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/codepr/searchpipe/urlkey"
)

// extractLinks walks every <a href> in doc, resolves it against the
// final (post-redirect) URL, canonicalizes it, and drops anything that
// isn't a fetchable http(s) URL. Empty hrefs, `#...`, `javascript:`,
// `mailto:` and `tel:` links are ignored outright. The result is a
// deduplicated set, using the shared URL canonicalization instead of
// raw URL strings.
func extractLinks(doc *goquery.Document, baseURL string) []string {
	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}

		resolved, ok := resolve(baseURL, href)
		if !ok {
			return
		}
		canonical, err := urlkey.Canonicalize(resolved)
		if err != nil {
			return
		}
		if Preflight(canonical) {
			return
		}
		if !seen[canonical] {
			seen[canonical] = true
			links = append(links, canonical)
		}
	})

	return links
}

func resolve(baseURL, href string) (string, bool) {
	rel, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if rel.IsAbs() {
		return rel.String(), true
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(rel).String(), true
}
