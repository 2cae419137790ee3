package indexer

import "testing"

func TestTokenizeLowercasesAndSplitsOnNonAlpha(t *testing.T) {
	got := tokenize("Golang is Great! 123")
	want := []string{"golang", "is", "great"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRemoveStopwordsDropsShortAndCommonTokens(t *testing.T) {
	got := removeStopwords([]string{"the", "go", "programming", "is", "fun"})
	want := []string{"programming", "fun"}
	if len(got) != len(want) {
		t.Fatalf("removeStopwords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStemReducesToRoot(t *testing.T) {
	got := stem([]string{"caresses", "ponies"})
	if got[0] != "caress" {
		t.Errorf("stem(caresses) = %q, want caress", got[0])
	}
	if got[1] != "poni" {
		t.Errorf("stem(ponies) = %q, want poni", got[1])
	}
}

func TestPreprocessJoinsStemmedTokens(t *testing.T) {
	got := preprocess("The cats and ponies are running")
	want := "cat poni run"
	if got != want {
		t.Errorf("preprocess = %q, want %q", got, want)
	}
}

func TestWordCountExcludesStopwordsButNotStemmed(t *testing.T) {
	n := wordCount("The quick brown fox jumps over the lazy dog")
	// tokens: the quick brown fox jumps over the lazy dog
	// after stopword removal (drops "the" x2): quick brown fox jumps over lazy dog
	if n != 7 {
		t.Errorf("wordCount = %d, want 7", n)
	}
}
