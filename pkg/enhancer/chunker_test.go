package enhancer

import (
	"strings"
	"testing"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

func TestChunkProducesLinkedNeighbours(t *testing.T) {
	text := strings.Repeat("word ", 300)
	doc := domain.ExtractedDocument{Name: "doc", Text: text}

	pieces := Chunk(doc, "doc", ChunkOpts{ChunkSize: 100, Overlap: 10})
	if len(pieces) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(pieces))
	}
	for i, p := range pieces {
		if p.ChunkLength != len(p.Text) {
			t.Errorf("piece %d: expected chunk_length %d (character count of its own text), got %d", i, len(p.Text), p.ChunkLength)
		}
		if i > 0 && !contains(p.Related, pieces[i-1].ID) {
			t.Errorf("piece %d missing predecessor link", i)
		}
		if i < len(pieces)-1 && !contains(p.Related, pieces[i+1].ID) {
			t.Errorf("piece %d missing successor link", i)
		}
	}
}

func TestChunkLengthIsCharacterCountOfOwnText(t *testing.T) {
	doc := domain.ExtractedDocument{Name: "doc", Text: "hello"}
	pieces := Chunk(doc, "doc", ChunkOpts{})
	if len(pieces) != 1 {
		t.Fatalf("expected a single piece for a 5-character body, got %d", len(pieces))
	}
	if pieces[0].ChunkLength != 5 {
		t.Errorf("ChunkLength = %d, want 5", pieces[0].ChunkLength)
	}
}

func TestChunkImageDocumentProducesSingleBase64Piece(t *testing.T) {
	doc := domain.ExtractedDocument{Name: "doc", Type: domain.PieceImage, Base64Image: "aGVsbG8="}
	pieces := Chunk(doc, "doc", ChunkOpts{})
	if len(pieces) != 1 {
		t.Fatalf("expected a single piece for an image document, got %d", len(pieces))
	}
	p := pieces[0]
	if p.Type != domain.PieceImage {
		t.Errorf("Type = %q, want IMAGE", p.Type)
	}
	if p.Base64Image != doc.Base64Image {
		t.Errorf("Base64Image = %q, want %q", p.Base64Image, doc.Base64Image)
	}
	if p.Text != "" {
		t.Errorf("Text = %q, want empty for an image piece", p.Text)
	}
	if p.ChunkLength != 0 {
		t.Errorf("ChunkLength = %d, want 0 for an image piece", p.ChunkLength)
	}
}

func TestChunkEmptyTextProducesNoPieces(t *testing.T) {
	pieces := Chunk(domain.ExtractedDocument{Name: "doc", Text: ""}, "doc", ChunkOpts{})
	if len(pieces) != 0 {
		t.Fatalf("expected no pieces for empty text, got %d", len(pieces))
	}
}

func TestMarkdownBlocksSplitsOnStructure(t *testing.T) {
	md := "# Title\n\nFirst paragraph.\n\nSecond paragraph.\n"
	doc := domain.ExtractedDocument{Name: "doc", Text: md}
	pieces := Chunk(doc, "doc", ChunkOpts{ChunkSize: 4, Overlap: 0, KeepMarkdownFormat: true})
	if len(pieces) == 0 {
		t.Fatal("expected at least one piece")
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
