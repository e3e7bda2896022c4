// Package search provides an in-memory inverted index for keyword search
// across instincts and evolved artifacts.
package search

import (
	"sort"
	"strings"
	"unicode"
)

// Document kinds.
const (
	KindInstinct = "instinct"
	KindArtifact = "artifact"
)

// Document is one searchable record. ID is unique within its Kind.
type Document struct {
	ID   string
	Kind string
	Text string
}

// Result is one search hit.
type Result struct {
	ID    string `json:"id" yaml:"id"`
	Kind  string `json:"kind" yaml:"kind"`
	Score int    `json:"score" yaml:"score"` // number of query terms matched
}

type docKey struct {
	kind string
	id   string
}

// Index maps lowercase terms to the documents that contain them.
type Index struct {
	terms map[string]map[docKey]bool
	docs  map[docKey]bool
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		terms: make(map[string]map[docKey]bool),
		docs:  make(map[docKey]bool),
	}
}

// Len is the number of indexed documents.
func (idx *Index) Len() int { return len(idx.docs) }

// Add indexes doc, replacing any earlier version with the same kind and id.
func (idx *Index) Add(doc Document) {
	key := docKey{kind: doc.Kind, id: doc.ID}
	if idx.docs[key] {
		for _, docs := range idx.terms {
			delete(docs, key)
		}
	}
	idx.docs[key] = true
	for _, term := range terms(doc.Text) {
		if idx.terms[term] == nil {
			idx.terms[term] = make(map[docKey]bool)
		}
		idx.terms[term][key] = true
	}
}

// Search returns up to limit documents matching the query, sorted by
// descending score, then kind and id. A limit of zero or less means no limit.
func (idx *Index) Search(query string, limit int) []Result {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	scores := make(map[docKey]int)
	for _, term := range queryTerms {
		for key := range idx.terms[term] {
			scores[key]++
		}
	}
	if len(scores) == 0 {
		return nil
	}
	return rankResults(scores, limit)
}

func rankResults(scores map[docKey]int, limit int) []Result {
	results := make([]Result, 0, len(scores))
	for key, score := range scores {
		results = append(results, Result{ID: key.id, Kind: key.kind, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Kind != results[j].Kind {
			return results[i].Kind < results[j].Kind
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// terms tokenizes text for indexing. Underscore compounds such as pattern
// keys are indexed whole and by part, so "bash" finds "tool_use__bash".
func terms(text string) []string {
	tokens := tokenize(text)
	out := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	add := func(t string) {
		if len(t) >= 2 && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range tokens {
		add(t)
		if strings.Contains(t, "_") {
			for _, part := range strings.Split(t, "_") {
				add(part)
			}
		}
	}
	return out
}

// isTokenSeparator returns true for characters that split words during tokenization.
func isTokenSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
}

// dedupeTokens filters out short (< 2 char) tokens and removes duplicates, preserving order.
func dedupeTokens(words []string) []string {
	result := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		result = append(result, w)
	}
	return result
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), isTokenSeparator)
	return dedupeTokens(words)
}
