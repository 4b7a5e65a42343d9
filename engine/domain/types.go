// Package domain defines the core types and validation gate for the
// ingestion and retrieval control plane.
package domain

import "time"

// Status is the lifecycle state of a source's most recent upload attempt.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusUploading  Status = "UPLOADING"
	StatusReady      Status = "READY"
	StatusError      Status = "ERROR"
)

// PieceType distinguishes the kind of content an InformationPiece carries:
// extracted body text, a table rendered to text, an embedded image carried
// as a base64 payload, or a generated summary of another piece.
type PieceType string

const (
	PieceText    PieceType = "TEXT"
	PieceTable   PieceType = "TABLE"
	PieceImage   PieceType = "IMAGE"
	PieceSummary PieceType = "SUMMARY"
)

// KeyValuePair carries a free-form, JSON-encoded configuration value
// (source kwargs, Confluence space settings) across the HTTP boundary.
type KeyValuePair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Source identifies a single ingestible unit: an uploaded file, a
// Confluence space, or any other typed extractor input.
type Source struct {
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	SanitizedName string         `json:"sanitized_name"`
	Kwargs        []KeyValuePair `json:"kwargs,omitempty"`
}

// QualifiedName is the StatusStore/registry key: "<type>:<sanitized name>".
func (s Source) QualifiedName() string {
	return s.Type + ":" + s.SanitizedName
}

// UploadStatus is the value stored against a source's qualified name.
type UploadStatus struct {
	SourceName string    `json:"source_name"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InformationPiece is the atomic retrievable/indexable unit produced by
// chunking a source's extracted content.
type InformationPiece struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Type        PieceType         `json:"type"`
	Related     []string          `json:"related,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Chunk       int               `json:"chunk"`
	ChunkLength int               `json:"chunk_length"`
	DocumentURL string            `json:"document_url,omitempty"`
	// Base64Image carries the raw image payload for Type == PieceImage
	// pieces, which have no meaningful page_content of their own.
	Base64Image string `json:"base64_image,omitempty"`
}

// Well-known metadata keys carried on an InformationPiece, mirrored into
// Qdrant payload fields as "metadata.<key>" so filtering stays name-qualified.
const (
	MetaKeyID     = "id"
	MetaKeySource = "document"
	MetaKeyType   = "type"
)

// ExtractedDocument is what an Extractor client returns for a source before
// enhancement/chunking. Type defaults to TEXT when the extractor omits it;
// IMAGE documents carry their payload in Base64Image instead of Text.
type ExtractedDocument struct {
	Name        string            `json:"name"`
	Text        string            `json:"text"`
	Type        PieceType         `json:"type,omitempty"`
	Base64Image string            `json:"base64_image,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
