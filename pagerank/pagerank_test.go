package pagerank

import (
	"math"
	"testing"

	"github.com/codepr/searchpipe/metastore"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestBuildAdjacencyDropsSelfLoopsAndUnknownEndpoints(t *testing.T) {
	idx := map[string]int{"a": 0, "b": 1}
	edges := []metastore.LinkEdge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "a"},
		{Source: "a", Target: "c"},
	}
	g := buildAdjacency(2, idx, edges)
	if g.outDegree[0] != 1 {
		t.Fatalf("outDegree[a] = %d, want 1 (self-loop and unknown target must be dropped)", g.outDegree[0])
	}
	if len(g.outLinks[0]) != 1 || g.outLinks[0][0] != 1 {
		t.Errorf("outLinks[a] = %v, want [1]", g.outLinks[0])
	}
	if len(g.dangling) != 1 || g.dangling[0] != 1 {
		t.Errorf("dangling = %v, want [1] (b has no out-links)", g.dangling)
	}
}

func TestIterateScoresSumToOne(t *testing.T) {
	// a -> b -> a: a two-node cycle, no dangling nodes.
	idx := map[string]int{"a": 0, "b": 1}
	edges := []metastore.LinkEdge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}}
	g := buildAdjacency(2, idx, edges)

	rank, iterations, converged := iterate(2, g, defaultDamping, defaultIterations, nil)
	if !converged {
		t.Errorf("expected a symmetric two-cycle to converge within %d iterations", defaultIterations)
	}
	if iterations == 0 {
		t.Fatalf("iterations = 0")
	}
	sum := rank[0] + rank[1]
	if !approxEqual(sum, 1.0, 1e-9) {
		t.Errorf("scores sum to %v, want 1.0", sum)
	}
	if !approxEqual(rank[0], rank[1], 1e-6) {
		t.Errorf("symmetric cycle should score both pages equally, got %v and %v", rank[0], rank[1])
	}
}

func TestIterateRedistributesDanglingMass(t *testing.T) {
	// a -> b, b has no out-links (dangling). Its rank must still be
	// redistributed rather than lost, so scores still sum to 1.
	idx := map[string]int{"a": 0, "b": 1}
	edges := []metastore.LinkEdge{{Source: "a", Target: "b"}}
	g := buildAdjacency(2, idx, edges)

	rank, _, _ := iterate(2, g, defaultDamping, defaultIterations, nil)
	sum := rank[0] + rank[1]
	if !approxEqual(sum, 1.0, 1e-9) {
		t.Errorf("scores sum to %v, want 1.0 (dangling mass must be redistributed, not dropped)", sum)
	}
	if rank[1] <= rank[0] {
		t.Errorf("b receives a's link on top of the same dangling share as a, should outscore a: a=%v b=%v", rank[0], rank[1])
	}
}

func TestIterateStopsAtIterationCap(t *testing.T) {
	// a star (a -> b, a -> c) is asymmetric enough that a single
	// iteration from a uniform start doesn't already sit at the fixed
	// point, unlike a symmetric cycle.
	idx := map[string]int{"a": 0, "b": 1, "c": 2}
	edges := []metastore.LinkEdge{{Source: "a", Target: "b"}, {Source: "a", Target: "c"}}
	g := buildAdjacency(3, idx, edges)

	_, iterations, converged := iterate(3, g, defaultDamping, 1, nil)
	if iterations != 1 {
		t.Fatalf("iterations = %d, want 1", iterations)
	}
	if converged {
		t.Errorf("expected a single iteration not to have converged from a uniform start")
	}
}

func TestTopNOrdersDescendingAndCaps(t *testing.T) {
	results := []Result{
		{URL: "a", Score: 0.1},
		{URL: "b", Score: 0.5},
		{URL: "c", Score: 0.3},
	}
	top := TopN(results, 2)
	if len(top) != 2 {
		t.Fatalf("len(top) = %d, want 2", len(top))
	}
	if top[0].URL != "b" || top[1].URL != "c" {
		t.Errorf("top = %v, want [b c]", top)
	}
}

func TestTopNCapsAtLength(t *testing.T) {
	results := []Result{{URL: "a", Score: 1}}
	top := TopN(results, 10)
	if len(top) != 1 {
		t.Errorf("len(top) = %d, want 1", len(top))
	}
}

func TestSummarizeComputesMinMaxMean(t *testing.T) {
	min, max, mean := summarize([]float64{0.1, 0.5, 0.3})
	if !approxEqual(min, 0.1, 1e-9) || !approxEqual(max, 0.5, 1e-9) {
		t.Errorf("min=%v max=%v, want 0.1 and 0.5", min, max)
	}
	if !approxEqual(mean, 0.3, 1e-9) {
		t.Errorf("mean=%v, want 0.3", mean)
	}
}
