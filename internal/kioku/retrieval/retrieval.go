// Package retrieval is the document search adapter fed by enriched queries.
//
// The memory manager produces a standalone search string
// (memory.QueryEnricher); a Searcher turns it into ranked documents.
// Ranking uses cosine similarity when an Embedder yields vectors and falls
// back to Okapi BM25 otherwise, so the service works with no embedding
// provider at all.
package retrieval

import (
	"context"
	"sort"
	"time"
)

// Document is an entry in the searchable corpus.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Result is a ranked search hit.
type Result struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Searcher returns up to topK documents relevant to query, best first.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Result, error)
}

// Index is a Searcher that also accepts new documents.
type Index interface {
	Searcher
	// Add stores doc and returns its ID (generated when doc.ID is empty).
	Add(ctx context.Context, doc Document) (string, error)
}

type candidate struct {
	doc       Document
	embedding []float32
}

type scored struct {
	doc   Document
	score float64
}

// rank scores candidates against the query and returns the topK non-zero hits.
// Candidates must be in insertion order; ties keep that order.
//
// Candidates without a comparable embedding are scored with BM25 over the
// whole candidate set, then divided by the best BM25 score so every Score
// lies in (0, 1] like a positive cosine similarity.
func rank(query string, queryVec []float32, candidates []candidate, topK int) []Result {
	if topK <= 0 || len(candidates) == 0 {
		return []Result{}
	}

	terms := queryTerms(query)
	var lexical *bm25Index
	var lexicalHits []int
	best := 0.0

	items := make([]scored, 0, len(candidates))
	for i, c := range candidates {
		if len(queryVec) > 0 && len(c.embedding) == len(queryVec) {
			if s := cosineSimilarity(queryVec, c.embedding); s > 0 {
				items = append(items, scored{doc: c.doc, score: s})
			}
			continue
		}
		if len(terms) == 0 {
			continue
		}
		if lexical == nil {
			lexical = newBM25Index(contents(candidates))
		}
		s := lexical.score(i, terms)
		if s <= 0 {
			continue
		}
		best = max(best, s)
		lexicalHits = append(lexicalHits, len(items))
		items = append(items, scored{doc: c.doc, score: s})
	}
	for _, i := range lexicalHits {
		items[i].score /= best
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	if topK > len(items) {
		topK = len(items)
	}

	out := make([]Result, topK)
	for i := 0; i < topK; i++ {
		d := items[i].doc
		out[i] = Result{ID: d.ID, Content: d.Content, Score: items[i].score, Metadata: d.Metadata}
	}
	return out
}

func contents(candidates []candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.doc.Content
	}
	return out
}
