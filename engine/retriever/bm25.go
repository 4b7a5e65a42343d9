package retriever

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// Corpus is the subset of engine/semantic.VectorStore the lexical quark
// needs: the full set of pieces to score, since BM25 ranks against the
// whole collection rather than a nearest-neighbour index.
type Corpus interface {
	All(ctx context.Context) ([]domain.InformationPiece, error)
}

// LexicalQuark ranks pieces by BM25 term overlap against the prompt. It
// keeps no index of its own and re-tokenizes the corpus on every call,
// trading index maintenance for simplicity at the scale a single
// deployment's corpus is expected to stay within.
type LexicalQuark struct {
	corpus Corpus
	topK   int
	k1     float64
	b      float64
}

// NewLexicalQuark builds a LexicalQuark with the standard BM25 defaults
// (k1=1.2, b=0.75).
func NewLexicalQuark(corpus Corpus, topK int) *LexicalQuark {
	if topK <= 0 {
		topK = 10
	}
	return &LexicalQuark{corpus: corpus, topK: topK, k1: 1.2, b: 0.75}
}

func (q *LexicalQuark) Invoke(ctx context.Context, prompt string, filter map[string]string) ([]Hit, error) {
	pieces, err := q.corpus.All(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []domain.InformationPiece
	for _, p := range pieces {
		if matchesFilter(p, filter) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([][]string, len(candidates))
	var totalLen int
	for i, p := range candidates {
		docs[i] = tokenize(p.Text)
		totalLen += len(docs[i])
	}
	avgLen := float64(totalLen) / float64(len(candidates))

	df := map[string]int{}
	for _, terms := range docs {
		seen := map[string]bool{}
		for _, t := range terms {
			if !seen[t] {
				df[t]++
				seen[t] = true
			}
		}
	}

	queryTerms := tokenize(prompt)
	n := float64(len(candidates))

	scored := make([]Hit, 0, len(candidates))
	for i, terms := range docs {
		score := bm25Score(terms, queryTerms, df, n, avgLen, q.k1, q.b)
		if score <= 0 {
			continue
		}
		scored = append(scored, Hit{Piece: candidates[i], Score: float32(score)})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > q.topK {
		scored = scored[:q.topK]
	}
	return scored, nil
}

func bm25Score(doc, query []string, df map[string]int, n, avgLen, k1, b float64) float64 {
	freq := map[string]int{}
	for _, t := range doc {
		freq[t]++
	}
	docLen := float64(len(doc))

	var score float64
	for _, term := range query {
		f, ok := freq[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (n-float64(df[term])+0.5)/(float64(df[term])+0.5))
		tf := float64(f) * (k1 + 1)
		tf /= float64(f) + k1*(1-b+b*docLen/avgLen)
		score += idf * tf
	}
	return score
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func matchesFilter(p domain.InformationPiece, filter map[string]string) bool {
	for k, v := range filter {
		if p.Metadata[k] != v {
			return false
		}
	}
	return true
}
