package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const maxSourceNameLength = 512

// ValidSourceTypes enumerates accepted source extractor types: confluence
// and file. ValidateSource rejects every other type; there is no way to
// register additional types.
var ValidSourceTypes = map[string]bool{
	"file":       true,
	"confluence": true,
}

var caseFolder = cases.Fold()

// Sanitize normalises a raw source name into the form used for qualified
// names, Qdrant payload keys and filesystem-safe blob keys: Unicode NFC
// normalisation, locale-independent case folding, and whitespace collapse.
// Grounded on rag-core-library's sanitize_document_name, generalised to be
// Unicode-aware rather than ASCII-only.
func Sanitize(name string) string {
	normalized := norm.NFC.String(name)
	folded := caseFolder.String(normalized)
	var b strings.Builder
	lastSpace := false
	for _, r := range folded {
		if unicode.IsSpace(r) {
			if !lastSpace && b.Len() > 0 {
				b.WriteRune('_')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		if r == '/' || r == '\\' {
			r = '_'
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "_")
}

// ValidateSource validates a Source before it enters the upload pipeline.
func ValidateSource(s Source) error {
	if strings.TrimSpace(s.Type) == "" {
		return NewValidationError("type", s.Type, ErrEmptySourceType)
	}
	if strings.TrimSpace(s.Name) == "" {
		return NewValidationError("name", s.Name, ErrEmptySourceName)
	}
	if len(s.Name) > maxSourceNameLength {
		return NewValidationError("name", s.Name, ErrSourceNameTooLong)
	}
	if !ValidSourceTypes[s.Type] {
		return NewValidationError("type", s.Type, ErrInvalidSourceType)
	}
	return nil
}

// ValidatePiece validates an InformationPiece before it is indexed. IMAGE
// pieces carry their content as a base64 payload rather than page text, so
// an empty Text is only rejected for the other piece types.
func ValidatePiece(p InformationPiece) error {
	if strings.TrimSpace(p.ID) == "" {
		return NewValidationError("id", p.ID, ErrEmptyPieceID)
	}
	if p.Type != PieceImage && strings.TrimSpace(p.Text) == "" {
		return NewValidationError("text", p.Text, ErrEmptyPieceText)
	}
	if p.Type == PieceImage && strings.TrimSpace(p.Base64Image) == "" {
		return NewValidationError("base64_image", p.Base64Image, ErrEmptyPieceText)
	}
	return nil
}
