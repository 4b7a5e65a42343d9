package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Embedder produces a dense vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SparseEmbedder produces a sparse vector (indices plus values) for a piece
// of text, stored alongside the dense vector on Upload. Search does not
// query the sparse vector.
type SparseEmbedder interface {
	EmbedSparse(ctx context.Context, text string) (indices []uint32, values []float32, err error)
}

// HTTPEmbedder is a minimal JSON-over-HTTP embedding client, grounded on
// the teacher's Ollama client. It speaks a generic "{model, prompt}" request
// shape compatible with Ollama's /api/embeddings and similarly-shaped
// internal embedding services.
type HTTPEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPEmbedder creates a dense embedding client.
func NewHTTPEmbedder(baseURL, model string) *HTTPEmbedder {
	return &HTTPEmbedder{baseURL: baseURL, model: model, client: &http.Client{}}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements Embedder.
func (c *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

type sparseEmbedResponse struct {
	Indices []uint32  `json:"indices"`
	Values  []float64 `json:"values"`
}

// HTTPSparseEmbedder is a thin JSON client talking to a splade/bm25-style
// sparse embedding service deployed alongside the dense embedder.
type HTTPSparseEmbedder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSparseEmbedder creates a sparse embedding client.
func NewHTTPSparseEmbedder(baseURL string) *HTTPSparseEmbedder {
	return &HTTPSparseEmbedder{baseURL: baseURL, client: &http.Client{}}
}

// EmbedSparse implements SparseEmbedder.
func (c *HTTPSparseEmbedder) EmbedSparse(ctx context.Context, text string) ([]uint32, []float32, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, nil, fmt.Errorf("embed sparse: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sparse_embed", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("embed sparse: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("embed sparse: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("embed sparse: status %d", resp.StatusCode)
	}

	var result sparseEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, nil, fmt.Errorf("embed sparse: decode response: %w", err)
	}

	values := make([]float32, len(result.Values))
	for i, v := range result.Values {
		values[i] = float32(v)
	}
	return result.Indices, values, nil
}
