// Package enhancer splits extracted document text into InformationPieces
// and calls out to an external enhancement service (e.g. summary
// generation) under a rate limit.
package enhancer

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// ChunkOpts configures Chunk.
type ChunkOpts struct {
	// ChunkSize is the target number of words per chunk.
	ChunkSize int
	// Overlap is the number of overlapping words between consecutive chunks.
	Overlap int
	// KeepMarkdownFormat splits on top-level Markdown blocks (headings,
	// paragraphs, whole lists) instead of sentences, falling back to
	// sentence splitting when no block is found. Several blocks may share a
	// chunk; a block is cut only when it alone exceeds ChunkSize words.
	KeepMarkdownFormat bool
}

const (
	DefaultChunkSize = 512
	DefaultOverlap   = 50
)

// Chunk splits doc.Text into InformationPieces with "related" populated as
// the immediate-neighbour chunk IDs (one predecessor, one successor),
// matching rag-core-library's default neighbour wiring. IMAGE documents are
// never split: they become a single piece carrying the base64 payload, with
// ChunkLength 0 since they have no page_content to count.
func Chunk(doc domain.ExtractedDocument, idPrefix string, opts ChunkOpts) []domain.InformationPiece {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}

	pieceType := doc.Type
	if pieceType == "" {
		pieceType = domain.PieceText
	}

	if pieceType == domain.PieceImage {
		return []domain.InformationPiece{{
			ID:          idFor(idPrefix, 0),
			Type:        domain.PieceImage,
			Base64Image: doc.Base64Image,
			Metadata:    cloneMeta(doc.Metadata),
			Chunk:       0,
			ChunkLength: 0,
		}}
	}

	var units []string
	if opts.KeepMarkdownFormat {
		units = markdownBlocks(doc.Text)
	} else {
		units = splitSentences(doc.Text)
	}

	chunks := chunkUnits(units, opts.ChunkSize, opts.Overlap)
	pieces := make([]domain.InformationPiece, len(chunks))
	for i, text := range chunks {
		id := idFor(idPrefix, i)
		piece := domain.InformationPiece{
			ID:          id,
			Text:        text,
			Type:        pieceType,
			Metadata:    cloneMeta(doc.Metadata),
			Chunk:       i,
			ChunkLength: len(text),
		}
		if i > 0 {
			piece.Related = append(piece.Related, idFor(idPrefix, i-1))
		}
		if i < len(chunks)-1 {
			piece.Related = append(piece.Related, idFor(idPrefix, i+1))
		}
		pieces[i] = piece
	}
	return pieces
}

func idFor(prefix string, index int) string {
	return prefix + "#" + strconv.Itoa(index)
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// splitSentences splits text into sentences using punctuation and newlines.
// Grounded on engine/ingest's scraped-post sentence splitter, generalised
// to arbitrary extracted document text.
func splitSentences(s string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range s {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(s)-1 || (i+1 < len(s) && unicode.IsSpace(rune(s[i+1]))) {
				if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
					sentences = append(sentences, trimmed)
				}
				current.Reset()
			}
		}
	}
	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		sentences = append(sentences, trimmed)
	}
	return sentences
}

// markdownBlocks splits text on top-level Markdown block boundaries
// (headings, paragraphs, whole lists) using goldmark's parser, so chunking
// respects document structure for Confluence-sourced content.
func markdownBlocks(src string) []string {
	md := goldmark.New()
	reader := text.NewReader([]byte(src))
	doc := md.Parser().Parse(reader)

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		var b strings.Builder
		collectText(n, []byte(src), &b)
		if block := strings.TrimSpace(b.String()); block != "" {
			blocks = append(blocks, block)
		}
	}
	if len(blocks) == 0 {
		return splitSentences(src)
	}
	return blocks
}

func collectText(n ast.Node, src []byte, b *strings.Builder) {
	if n == nil {
		return
	}
	switch n.Kind() {
	case ast.KindText:
		textNode := n.(*ast.Text)
		b.Write(textNode.Segment.Value(src))
		if textNode.SoftLineBreak() || textNode.HardLineBreak() {
			b.WriteByte(' ')
		}
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			collectText(c, src, b)
		}
	}
	if n.Kind() == ast.KindParagraph || n.Kind() == ast.KindHeading {
		b.WriteByte(' ')
	}
}

// chunkUnits groups text units (sentences or markdown blocks) into chunks
// of ~chunkSize words with overlap, grounded on engine/ingest's
// chunkSentences word-count approximation of token count. A unit longer
// than chunkSize words is first cut into chunkSize-word pieces.
func chunkUnits(units []string, chunkSize, overlap int) []string {
	if len(units) == 0 {
		return nil
	}

	fitted := make([]string, 0, len(units))
	for _, u := range units {
		words := strings.Fields(u)
		if len(words) <= chunkSize {
			fitted = append(fitted, u)
			continue
		}
		for i := 0; i < len(words); i += chunkSize {
			end := i + chunkSize
			if end > len(words) {
				end = len(words)
			}
			fitted = append(fitted, strings.Join(words[i:end], " "))
		}
	}
	units = fitted

	var chunks []string
	start := 0

	for start < len(units) {
		var buf strings.Builder
		words := 0
		end := start

		for end < len(units) {
			w := wordCount(units[end])
			if words+w > chunkSize && words > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(units[end])
			words += w
			end++
		}
		chunks = append(chunks, buf.String())

		overlapWords := 0
		newStart := end
		for newStart > start && overlapWords < overlap {
			newStart--
			overlapWords += wordCount(units[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return chunks
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
