package semantic

import "github.com/stackitcloud-oss/ragctl/engine/domain"

// SearchHit is a single vector search result: one piece and its score.
// With SearchRequest.WithRelated, Search appends each hit's related pieces
// as further hits carrying the score of the hit they were reached from.
type SearchHit struct {
	Piece domain.InformationPiece
	Score float32
}

// SearchRequest controls a Search call.
type SearchRequest struct {
	Query        string
	TopK         int
	Filter       map[string]string
	WithRelated  bool
	SkipSummary  bool
}

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
	payloadContent   = "page_content"
	payloadMetadata  = "metadata"
)
