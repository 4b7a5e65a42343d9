// Package extractor is the HTTP client for the external content-extraction
// service: given a source type, name and optional file payload, it returns
// the extracted text documents to be enhanced and chunked.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// Client talks to the extractor service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an extractor Client.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Extract requests extraction for sourceType/sourceName, optionally
// streaming file content, and returns the extracted documents. An empty
// result is not an error here — callers decide whether that is terminal.
func (c *Client) Extract(ctx context.Context, sourceType, sourceName string, file io.Reader, filename string, kwargs []domain.KeyValuePair) ([]domain.ExtractedDocument, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("type", sourceType); err != nil {
		return nil, fmt.Errorf("extractor: write type field: %w", err)
	}
	if err := writer.WriteField("source_name", sourceName); err != nil {
		return nil, fmt.Errorf("extractor: write source_name field: %w", err)
	}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("extractor: marshal kwargs: %w", err)
	}
	if err := writer.WriteField("kwargs", string(kwargsJSON)); err != nil {
		return nil, fmt.Errorf("extractor: write kwargs field: %w", err)
	}
	if file != nil {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, fmt.Errorf("extractor: create file part: %w", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, fmt.Errorf("extractor: stream file: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("extractor: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &body)
	if err != nil {
		return nil, fmt.Errorf("extractor: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor: status %d", resp.StatusCode)
	}

	var docs []domain.ExtractedDocument
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("extractor: decode response: %w", err)
	}
	return docs, nil
}
