// Package politeness implements the per-host rate limiter and the
// robots.txt cache/decision, both backed by the KV store so the policy
// is shared across worker processes.
package politeness

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/temoto/robotstxt"

	"github.com/codepr/searchpipe/kvstore"
	"github.com/codepr/searchpipe/urlkey"
)

const (
	// DefaultDelay is the minimum gap enforced between successive
	// dispatches to the same host.
	DefaultDelay = 1 * time.Second
	// RobotsCacheTTL is how long an allow/deny decision is cached.
	RobotsCacheTTL = 3600 * time.Second
	// RobotsFetchTimeout bounds the robots.txt GET itself.
	RobotsFetchTimeout = 5 * time.Second

	robotsKeyPrefix    = "robots:"
	ratelimitKeyPrefix = "ratelimit:"
)

// Decision is the result of Admit.
type Decision int

const (
	Allow Decision = iota
	Deny
)

// Checker is the robots cache plus rate limiter, admitting or denying a
// URL for fetch.
type Checker struct {
	store     kvstore.Store
	client    *http.Client
	userAgent string
	delay     time.Duration
	logger    *log.Logger
	clk       clock.Clock
}

// Option configures a Checker.
type Option func(*Checker)

// WithDelay overrides the default politeness delay.
func WithDelay(d time.Duration) Option {
	return func(c *Checker) { c.delay = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// WithClock injects a clock.Clock, letting tests substitute clock.NewMock
// to control the rate-limit gate's wait without a real sleep.
func WithClock(clk clock.Clock) Option {
	return func(c *Checker) { c.clk = clk }
}

// New creates a Checker for the given crawler user-agent.
func New(store kvstore.Store, userAgent string, opts ...Option) *Checker {
	c := &Checker{
		store:     store,
		client:    &http.Client{Timeout: RobotsFetchTimeout},
		userAgent: userAgent,
		delay:     DefaultDelay,
		logger:    log.New(os.Stderr, "politeness: ", log.LstdFlags),
		clk:       clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit runs the full admission decision: robots lookup (cached or
// fetched), then the rate-limit gate, blocking the caller for the
// remaining cooperative suspension if the host was hit too recently.
func (c *Checker) Admit(ctx context.Context, canonicalURL string) (Decision, error) {
	host := urlkey.Host(canonicalURL)
	if host == "" {
		return Deny, fmt.Errorf("politeness: cannot derive host from %q", canonicalURL)
	}

	allowed, err := c.robotsAllow(ctx, canonicalURL, host)
	if err != nil {
		return Deny, err
	}
	if !allowed {
		return Deny, nil
	}

	if err := c.rateLimitGate(ctx, host); err != nil {
		return Deny, err
	}
	return Allow, nil
}

func (c *Checker) robotsAllow(ctx context.Context, canonicalURL, host string) (bool, error) {
	key := robotsKeyPrefix + host
	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("politeness: robots cache lookup for %s: %w", host, err)
	}
	if ok {
		return cached == "1", nil
	}

	allowed := c.fetchRobotsDecision(ctx, canonicalURL, host)
	value := "0"
	if allowed {
		value = "1"
	}
	if err := c.store.SetEX(ctx, key, value, RobotsCacheTTL); err != nil {
		return allowed, fmt.Errorf("politeness: robots cache write for %s: %w", host, err)
	}
	return allowed, nil
}

// fetchRobotsDecision fetches and parses robots.txt for host, testing
// canonicalURL's path against the crawler's user-agent group. Any fetch
// error or non-200 response is treated as allow.
func (c *Checker) fetchRobotsDecision(ctx context.Context, canonicalURL, host string) bool {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return true
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	reqCtx, cancel := context.WithTimeout(ctx, RobotsFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Printf("robots.txt fetch error for %s: %v, allowing", host, err)
		return true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true
	}

	body, err := robotstxt.FromResponse(resp)
	if err != nil {
		return true
	}
	group := body.FindGroup(c.userAgent)
	if group == nil {
		return true
	}
	return group.Test(u.RequestURI())
}

// rateLimitGate reads the last-dispatch timestamp for host; if the gap
// since then is under the politeness delay, it cooperatively sleeps the
// remainder, then records the new dispatch time with TTL = 2*delay.
func (c *Checker) rateLimitGate(ctx context.Context, host string) error {
	key := ratelimitKeyPrefix + host
	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("politeness: rate limit lookup for %s: %w", host, err)
	}
	now := c.clk.Now()
	if ok {
		lastUnix, err := strconv.ParseFloat(cached, 64)
		if err == nil {
			last := time.Unix(0, int64(lastUnix*float64(time.Second)))
			elapsed := now.Sub(last)
			if elapsed < c.delay {
				select {
				case <-c.clk.After(c.delay - elapsed):
				case <-ctx.Done():
				}
				now = c.clk.Now()
			}
		}
	}
	value := strconv.FormatFloat(float64(now.UnixNano())/float64(time.Second), 'f', 6, 64)
	if err := c.store.SetEX(ctx, key, value, 2*c.delay); err != nil {
		return fmt.Errorf("politeness: rate limit write for %s: %w", host, err)
	}
	return nil
}
