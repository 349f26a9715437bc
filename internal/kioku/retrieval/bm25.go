package retrieval

import (
	"math"
	"strings"
	"unicode"
)

// Okapi BM25 parameters, standard values.
const (
	bm25K1      = 1.2
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// bm25Index holds the corpus statistics of one search.  Documents are
// addressed by their position in the slice given to newBM25Index.
type bm25Index struct {
	termFrequencies []map[string]int
	lengths         []int
	avgLength       float64
	idf             map[string]float64
}

func newBM25Index(contents []string) *bm25Index {
	ix := &bm25Index{
		termFrequencies: make([]map[string]int, len(contents)),
		lengths:         make([]int, len(contents)),
		idf:             make(map[string]float64),
	}

	documentFrequency := make(map[string]int)
	total := 0
	for i, content := range contents {
		tokens := tokenize(content)
		ix.lengths[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			if tf[tok] == 0 {
				documentFrequency[tok]++
			}
			tf[tok]++
		}
		ix.termFrequencies[i] = tf
	}
	if len(contents) > 0 {
		ix.avgLength = float64(total) / float64(len(contents))
	}

	n := float64(len(contents))
	for term, df := range documentFrequency {
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		if idf < 0 {
			idf = bm25Epsilon
		}
		ix.idf[term] = idf
	}
	return ix
}

// score is the BM25 relevance of document i to the distinct query terms.
func (ix *bm25Index) score(i int, terms []string) float64 {
	tf := ix.termFrequencies[i]
	length := float64(ix.lengths[i])

	var s float64
	for _, term := range terms {
		idf, ok := ix.idf[term]
		if !ok {
			continue
		}
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		s += idf * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*length/ix.avgLength))
	}
	return s
}

// tokenize splits text into lowercase letter/digit runs of two or more runes.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// queryTerms is tokenize with duplicates removed, in first-seen order.
func queryTerms(text string) []string {
	tokens := tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
