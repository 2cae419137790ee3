// Package pagerank computes the link-graph authority score in-process
// by power iteration over a sparse, per-node adjacency-list
// representation (outgoing links only, no dense matrix), and persists
// the result to both the KV store (fast per-page lookup) and the
// metadata store (durable snapshot).
package pagerank

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/codepr/searchpipe/env"
	"github.com/codepr/searchpipe/kvstore"
	"github.com/codepr/searchpipe/metastore"
	"github.com/codepr/searchpipe/urlkey"
)

const (
	defaultDamping             = 0.85
	defaultIterations          = 20
	convergenceThreshold       = 1e-6
	defaultScoreTTL            = 7 * 24 * time.Hour
	kvScoreKeyPrefix           = "pagerank:"
	kvMetaKey                  = "pagerank:meta"
	convergenceLogEveryNthIter = 5
)

// Settings configures a Computer.
type Settings struct {
	Damping    float64
	Iterations int
	ScoreTTL   time.Duration
}

// Opt is the option-pattern constructor hook for Settings.
type Opt func(*Settings)

// WithDamping overrides the damping factor d.
func WithDamping(d float64) Opt { return func(s *Settings) { s.Damping = d } }

// WithIterations overrides the power-iteration cap.
func WithIterations(n int) Opt { return func(s *Settings) { s.Iterations = n } }

// WithScoreTTL overrides how long a KV-stored score survives.
func WithScoreTTL(d time.Duration) Opt { return func(s *Settings) { s.ScoreTTL = d } }

// Result is one page's computed authority score.
type Result struct {
	URL   string
	Score float64
}

// Stats summarizes a completed run for console reporting.
type Stats struct {
	NPages          int
	Iterations      int
	Converged       bool
	ComputationTime time.Duration
	MinScore        float64
	MaxScore        float64
	MeanScore       float64
}

// Computer is the entry point: Run loads the link graph, iterates to
// convergence, and persists the result.
type Computer struct {
	logger   *log.Logger
	kv       kvstore.Store
	meta     *metastore.Store
	settings *Settings
}

// New wires a Computer from its dependencies and options.
func New(kv kvstore.Store, meta *metastore.Store, opts ...Opt) *Computer {
	settings := &Settings{
		Damping:    defaultDamping,
		Iterations: defaultIterations,
		ScoreTTL:   defaultScoreTTL,
	}
	for _, opt := range opts {
		opt(settings)
	}
	return &Computer{
		logger:   log.New(os.Stderr, "pagerank: ", log.LstdFlags),
		kv:       kv,
		meta:     meta,
		settings: settings,
	}
}

// NewFromEnv builds a Computer reading its tunables from the
// environment, mirroring crawler.NewFromEnv.
func NewFromEnv(kv kvstore.Store, meta *metastore.Store) *Computer {
	return New(kv, meta,
		WithDamping(env.GetEnvAsFloat("PAGERANK_DAMPING", defaultDamping)),
		WithIterations(env.GetEnvAsInt("PAGERANK_ITERATIONS", defaultIterations)),
	)
}

// Run loads the link graph from the metadata store, computes PageRank,
// and persists the result to both stores, returning every page's score
// alongside the run's stats. It is a no-op when the graph has zero
// pages: no writes happen and Stats.NPages is 0.
func (c *Computer) Run(ctx context.Context) (Stats, []Result, error) {
	start := time.Now()

	urls, err := c.meta.DistinctPageURLs(ctx)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("pagerank: loading pages: %w", err)
	}
	n := len(urls)
	if n == 0 {
		c.logger.Printf("no pages to compute PageRank for")
		return Stats{}, nil, nil
	}

	idx := make(map[string]int, n)
	for i, u := range urls {
		idx[u] = i
	}

	edges, err := c.meta.LinkEdgesAmongPages(ctx)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("pagerank: loading link edges: %w", err)
	}

	graph := buildAdjacency(n, idx, edges)
	c.logger.Printf("loaded graph: n=%d links=%d dangling=%d", n, len(edges), len(graph.dangling))
	rank, iterationsRun, converged := iterate(n, graph, c.settings.Damping, c.settings.Iterations, c.logger)

	stats := Stats{
		NPages:          n,
		Iterations:      iterationsRun,
		Converged:       converged,
		ComputationTime: time.Since(start),
	}
	stats.MinScore, stats.MaxScore, stats.MeanScore = summarize(rank)

	results := make([]Result, n)
	for i, u := range urls {
		results[i] = Result{URL: u, Score: rank[i]}
	}

	if err := c.storeKV(ctx, results, stats); err != nil {
		return stats, results, err
	}
	if err := c.storePostgres(ctx, results); err != nil {
		return stats, results, err
	}

	c.logger.Printf("computed in %s: n=%d min=%.8f max=%.8f mean=%.8f",
		stats.ComputationTime, stats.NPages, stats.MinScore, stats.MaxScore, stats.MeanScore)
	return stats, results, nil
}

// storeKV writes each score under pagerank:<fingerprint-prefix> with a
// TTL, plus a pagerank:meta hash summarizing the run.
func (c *Computer) storeKV(ctx context.Context, results []Result, stats Stats) error {
	for _, r := range results {
		key := kvScoreKeyPrefix + urlkey.FingerprintPrefix(urlkey.Fingerprint(r.URL))
		value := fmt.Sprintf("%v", r.Score)
		if err := c.kv.SetEX(ctx, key, value, c.settings.ScoreTTL); err != nil {
			return fmt.Errorf("pagerank: storing score for %s: %w", r.URL, err)
		}
	}
	meta := map[string]string{
		"computed_at":      time.Now().UTC().Format(time.RFC3339),
		"n_pages":          fmt.Sprintf("%d", stats.NPages),
		"computation_time": fmt.Sprintf("%f", stats.ComputationTime.Seconds()),
		"damping":          fmt.Sprintf("%v", c.settings.Damping),
		"iterations":       fmt.Sprintf("%d", stats.Iterations),
	}
	if err := c.kv.HSet(ctx, kvMetaKey, meta); err != nil {
		return fmt.Errorf("pagerank: storing run metadata: %w", err)
	}
	return nil
}

// storePostgres replaces the durable pagerank_scores table in one
// transaction via metastore.ReplacePageRankScores.
func (c *Computer) storePostgres(ctx context.Context, results []Result) error {
	if c.meta == nil {
		return nil
	}
	rows := make([]metastore.PageRankRow, len(results))
	for i, r := range results {
		rows[i] = metastore.PageRankRow{
			URLHash: urlkey.Fingerprint(r.URL),
			URL:     r.URL,
			Score:   r.Score,
		}
	}
	if err := c.meta.ReplacePageRankScores(ctx, rows); err != nil {
		return fmt.Errorf("pagerank: persisting scores: %w", err)
	}
	return nil
}

// TopN returns the n highest-scoring results, descending.
func TopN(results []Result, n int) []Result {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// adjacency is the graph in transition-matrix form: outLinks[j] lists
// the row indices page j links to, outDegree[j] is its out-degree, and
// dangling holds the indices with no out-links at all.
type adjacency struct {
	outLinks  [][]int
	outDegree []int
	dangling  []int
}

// buildAdjacency turns the (source, target) edge list into the sparse
// per-page adjacency iterate needs, dropping self-loops and any edge
// whose endpoint isn't in idx (shouldn't happen given
// LinkEdgesAmongPages' join, but defensive against a stale idx map).
func buildAdjacency(n int, idx map[string]int, edges []metastore.LinkEdge) adjacency {
	outLinks := make([][]int, n)
	outDegree := make([]int, n)
	for _, e := range edges {
		j, sok := idx[e.Source]
		i, tok := idx[e.Target]
		if !sok || !tok || j == i {
			continue
		}
		outLinks[j] = append(outLinks[j], i)
		outDegree[j]++
	}

	var dangling []int
	for j := 0; j < n; j++ {
		if outDegree[j] == 0 {
			dangling = append(dangling, j)
		}
	}
	return adjacency{outLinks: outLinks, outDegree: outDegree, dangling: dangling}
}

// iterate runs power iteration to convergence or the iteration cap,
// returning the normalized score vector, the number of iterations it
// actually ran, and whether it converged before the cap.
func iterate(n int, g adjacency, damping float64, maxIterations int, logger *log.Logger) ([]float64, int, bool) {
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}
	teleport := (1 - damping) / float64(n)

	iterationsRun := 0
	converged := false
	for iteration := 0; iteration < maxIterations; iteration++ {
		next := make([]float64, n)

		var danglingMass float64
		for _, j := range g.dangling {
			danglingMass += rank[j]
		}
		danglingShare := damping * danglingMass / float64(n)

		for j := 0; j < n; j++ {
			if g.outDegree[j] == 0 {
				continue
			}
			share := damping * rank[j] / float64(g.outDegree[j])
			for _, i := range g.outLinks[j] {
				next[i] += share
			}
		}
		for i := range next {
			next[i] += danglingShare + teleport
		}

		diff := 0.0
		for i := range next {
			d := next[i] - rank[i]
			if d < 0 {
				d = -d
			}
			diff += d
		}
		rank = next
		iterationsRun = iteration + 1

		if logger != nil && iterationsRun%convergenceLogEveryNthIter == 0 {
			logger.Printf("iteration %d: diff = %.8f", iterationsRun, diff)
		}
		if diff < convergenceThreshold {
			if logger != nil {
				logger.Printf("converged after %d iterations", iterationsRun)
			}
			converged = true
			break
		}
	}

	normalize(rank)
	return rank, iterationsRun, converged
}

func normalize(rank []float64) {
	var sum float64
	for _, r := range rank {
		sum += r
	}
	if sum == 0 {
		return
	}
	for i := range rank {
		rank[i] /= sum
	}
}

func summarize(rank []float64) (min, max, mean float64) {
	if len(rank) == 0 {
		return 0, 0, 0
	}
	min, max = rank[0], rank[0]
	var sum float64
	for _, r := range rank {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
		sum += r
	}
	return min, max, sum / float64(len(rank))
}
