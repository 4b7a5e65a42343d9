// Package retriever composes retrieval quarks into a single search: run
// every quark, concatenate, drop summaries, dedupe, expand one hop of
// related pieces, dedupe again.
package retriever

import (
	"context"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
	"github.com/stackitcloud-oss/ragctl/engine/semantic"
)

// Hit is a single quark result, score included so a future fusion stage can
// rank across quarks instead of relying on concatenation order.
type Hit struct {
	Piece domain.InformationPiece
	Score float32
}

// Quark is one retrieval strategy: vector similarity, sparse, BM25-style.
type Quark interface {
	Invoke(ctx context.Context, prompt string, filter map[string]string) ([]Hit, error)
}

// VectorSearcher is the subset of engine/semantic.VectorStore the vector
// quark needs.
type VectorSearcher interface {
	Search(ctx context.Context, req semantic.SearchRequest) ([]semantic.SearchHit, error)
}

// VectorQuark ranks by dense-vector similarity. It asks for raw hits only
// (no per-quark summary filtering or expansion): the Retriever does both
// once, after every quark's results are concatenated.
type VectorQuark struct {
	store VectorSearcher
	topK  int
}

// NewVectorQuark builds a VectorQuark returning up to topK hits per call.
func NewVectorQuark(store VectorSearcher, topK int) *VectorQuark {
	if topK <= 0 {
		topK = 10
	}
	return &VectorQuark{store: store, topK: topK}
}

func (q *VectorQuark) Invoke(ctx context.Context, prompt string, filter map[string]string) ([]Hit, error) {
	hits, err := q.store.Search(ctx, semantic.SearchRequest{Query: prompt, TopK: q.topK, Filter: filter})
	if err != nil {
		return nil, err
	}
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{Piece: h.Piece, Score: h.Score}
	}
	return out, nil
}
