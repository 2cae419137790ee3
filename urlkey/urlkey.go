// Package urlkey is the single source of truth for URL identity: it
// canonicalizes URLs to a comparable form and derives the SHA-256
// fingerprint used as document id and PageRank key across the pipeline.
package urlkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// FingerprintPrefixLen is the number of hex characters taken from a full
// fingerprint to build the short PageRank lookup key. Every caller that
// reads or writes a PageRank row must agree on this length.
const FingerprintPrefixLen = 16

// Canonicalize normalizes a URL per the scheme/host/port/fragment/trailing
// slash rules: lowercased host, default ports (80/443) stripped, fragment
// stripped, trailing slash stripped except for the root path. Path and
// query are preserved byte-exact otherwise. Only http and https schemes
// are accepted.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("urlkey: parsing %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("urlkey: unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("urlkey: missing host in %q", raw)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	netloc := host
	if port != "" {
		netloc = host + ":" + port
	}

	path := u.EscapedPath()
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = ""
	}

	canonical := scheme + "://" + netloc + path
	if u.RawQuery != "" {
		canonical += "?" + u.RawQuery
	}
	return canonical, nil
}

// Fingerprint returns the 64-hex-character SHA-256 digest of the
// canonical URL's UTF-8 bytes, used as the document id.
func Fingerprint(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

// FingerprintPrefix truncates a fingerprint to FingerprintPrefixLen hex
// characters, the key suffix used for PageRank lookups in the KV store.
func FingerprintPrefix(fingerprint string) string {
	if len(fingerprint) <= FingerprintPrefixLen {
		return fingerprint
	}
	return fingerprint[:FingerprintPrefixLen]
}

// Host returns the lowercased host (without port) of a canonical URL,
// used as the rate-limit and robots-cache key.
func Host(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
