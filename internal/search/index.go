// Package search ranks components against a free-text query with BM25 over
// their names, kinds and paths, falling back to edit distance for typos.
package search

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/morozRed/cfgaudit/internal/component"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

type Document struct {
	ID     string
	Name   string
	Kind   component.Kind
	Length int
	Terms  map[string]int
}

type Index struct {
	DocumentCount int
	AvgDocLength  float64
	DocFreq       map[string]int
	Documents     []Document
}

type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func Build(components []component.Component) *Index {
	documents := make([]Document, 0, len(components))
	docFreq := make(map[string]int)
	totalLength := 0

	for _, c := range components {
		terms := buildTerms(c)
		length := 0
		for _, count := range terms {
			length += count
		}
		if length == 0 {
			continue
		}
		documents = append(documents, Document{
			ID:     c.ID,
			Name:   c.Name,
			Kind:   c.Kind,
			Length: length,
			Terms:  terms,
		})
		totalLength += length
		for term := range terms {
			docFreq[term]++
		}
	}

	sort.Slice(documents, func(i, j int) bool {
		return documents[i].ID < documents[j].ID
	})

	avgDocLength := 0.0
	if len(documents) > 0 {
		avgDocLength = float64(totalLength) / float64(len(documents))
	}
	return &Index{
		DocumentCount: len(documents),
		AvgDocLength:  avgDocLength,
		DocFreq:       docFreq,
		Documents:     documents,
	}
}

func Search(index *Index, query string, limit int) []Result {
	if index == nil || len(index.Documents) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}
	// "agent:reviewer" searches agent names only
	var kind component.Kind
	if k, name, ok := component.SplitID(query); ok {
		kind, query = k, name
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}
	seenTerms := make(map[string]bool, len(queryTerms))
	uniqueTerms := make([]string, 0, len(queryTerms))
	for _, term := range queryTerms {
		if seenTerms[term] {
			continue
		}
		seenTerms[term] = true
		uniqueTerms = append(uniqueTerms, term)
	}

	k1 := 1.2
	b := 0.75
	n := float64(index.DocumentCount)
	avgLen := index.AvgDocLength
	if avgLen <= 0 {
		avgLen = 1
	}

	results := make([]Result, 0)
	for _, doc := range index.Documents {
		if kind != "" && doc.Kind != kind {
			continue
		}
		score := 0.0
		docLen := float64(doc.Length)
		for _, term := range uniqueTerms {
			tf := float64(doc.Terms[term])
			if tf <= 0 {
				continue
			}
			df := float64(index.DocFreq[term])
			idf := math.Log(1.0 + ((n - df + 0.5) / (df + 0.5)))
			score += idf * (tf * (k1 + 1.0)) / (tf + k1*(1.0-b+b*(docLen/avgLen)))
		}
		if score > 0 {
			results = append(results, Result{ID: doc.ID, Score: score})
		}
	}
	sortResults(results)

	if len(results) > limit {
		results = results[:limit]
	}
	if len(results) == 0 {
		return fuzzyNameFallback(index.Documents, query, kind, limit)
	}
	return results
}

// Suggest returns up to limit ids close to query, for "did you mean" hints.
func Suggest(components []component.Component, query string, limit int) []string {
	results := Search(Build(components), query, limit)
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}

// buildTerms weights the name over the path and kind. Names are indexed both
// whole and split on separators, so "code-review" matches "review".
func buildTerms(c component.Component) map[string]int {
	terms := make(map[string]int)
	addWeighted(terms, c.Name, 4)
	if whole := normalizeForFuzzy(c.Name); whole != "" {
		terms[whole] += 2
	}
	addWeighted(terms, c.Path, 1)
	addWeighted(terms, string(c.Kind), 1)
	return terms
}

func addWeighted(terms map[string]int, value string, weight int) {
	for _, token := range tokenize(value) {
		terms[token] += weight
	}
}

func tokenize(value string) []string {
	value = strings.ToLower(value)
	if value == "" {
		return nil
	}
	return tokenPattern.FindAllString(value, -1)
}

func fuzzyNameFallback(documents []Document, query string, kind component.Kind, limit int) []Result {
	needle := normalizeForFuzzy(query)
	if needle == "" {
		return nil
	}

	results := make([]Result, 0)
	for _, doc := range documents {
		if kind != "" && doc.Kind != kind {
			continue
		}
		candidate := normalizeForFuzzy(doc.Name)
		if candidate == "" {
			continue
		}
		distance := levenshteinDistance(needle, candidate)
		threshold := max(len(candidate)/3, 2)
		if distance > threshold {
			continue
		}
		results = append(results, Result{ID: doc.ID, Score: 1.0 / float64(1+distance)})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func normalizeForFuzzy(value string) string {
	return strings.Join(tokenize(value), "")
}

func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		current := make([]int, len(b)+1)
		current[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			current[j] = min(current[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev = current
	}
	return prev[len(b)]
}
