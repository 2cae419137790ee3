package frontier

import (
	"context"
	"testing"

	"github.com/codepr/searchpipe/kvstore"
)

// Property: mark(u) implies seen(u) == true, never a false negative.
func TestBloomNoFalseNegative(t *testing.T) {
	ctx := context.Background()
	b := NewBloom(kvstore.NewMemoryStore())
	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c/d/e",
	}
	for _, u := range urls {
		if err := b.Mark(ctx, u); err != nil {
			t.Fatal(err)
		}
		seen, err := b.Seen(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
		if !seen {
			t.Errorf("Seen(%q) = false after Mark, want true", u)
		}
	}
}

func TestBloomUnseenByDefault(t *testing.T) {
	ctx := context.Background()
	b := NewBloom(kvstore.NewMemoryStore())
	seen, err := b.Seen(ctx, "https://never-marked.test/")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Errorf("expected unseen URL to report false")
	}
}

func TestBloomMarkIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewBloom(kvstore.NewMemoryStore())
	u := "https://example.com/a"
	_ = b.Mark(ctx, u)
	_ = b.Mark(ctx, u)
	seen, err := b.Seen(ctx, u)
	if err != nil || !seen {
		t.Errorf("expected idempotent mark to remain seen")
	}
}

func TestBloomClear(t *testing.T) {
	ctx := context.Background()
	b := NewBloom(kvstore.NewMemoryStore())
	u := "https://example.com/a"
	_ = b.Mark(ctx, u)
	_ = b.Clear(ctx)
	seen, _ := b.Seen(ctx, u)
	if seen {
		t.Errorf("expected cleared bloom filter to report unseen")
	}
}
