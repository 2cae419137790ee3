package indexer

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"
)

// wordPattern matches runs of lowercase ASCII letters: a simple
// fallback tokenizer for when a richer NLP tokenizer isn't available.
var wordPattern = regexp.MustCompile(`[a-z]+`)

// minTokenLen drops short tokens (stopword-adjacent noise).
const minTokenLen = 3

// stopwords is a small fallback English stopword list, used since this
// pipeline has no NLTK-equivalent corpus to draw from in Go.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "he": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "that": true, "the": true,
	"to": true, "was": true, "were": true, "will": true, "with": true,
	"this": true, "but": true, "not": true, "or": true, "you": true,
	"your": true, "their": true, "them": true, "all": true, "can": true,
}

// tokenize lowercases text and splits it into alphabetic runs.
func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// removeStopwords drops stopwords and tokens shorter than minTokenLen.
func removeStopwords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len(t) <= minTokenLen-1 || stopwords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// stem applies the Porter stemmer to every token.
func stem(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = english.Stem(t, false)
	}
	return out
}

// preprocess runs the full tokenize -> stopword-filter -> stem pipeline
// and joins the result, the text actually handed to Elasticsearch's
// content field so the custom content_analyzer sees already-stemmed
// terms (matching indexer.py's TextPreprocessor.preprocess).
func preprocess(text string) string {
	return strings.Join(stem(removeStopwords(tokenize(text))), " ")
}

// wordCount counts content words after stopword removal but before
// stemming, the content_length/word_count figure persisted to the
// metadata store (indexer.py's get_word_count).
func wordCount(text string) int {
	return len(removeStopwords(tokenize(text)))
}
