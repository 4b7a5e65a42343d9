package enhancer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
	"github.com/stackitcloud-oss/ragctl/pkg/resilience"
)

// Client calls an external enhancement service that augments a piece's
// text (e.g. generating a SUMMARY sibling piece). Requests are rate
// limited, since enhancement typically proxies a hosted LLM.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *resilience.Limiter
}

// New creates an enhancer Client rate limited by limiter.
func New(baseURL string, httpClient *http.Client, limiter *resilience.Limiter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, http: httpClient, limiter: limiter}
}

type enhanceRequest struct {
	Text string `json:"text"`
}

type enhanceResponse struct {
	Summary string `json:"summary"`
}

// Enhance augments a single InformationPiece, returning an additional
// SUMMARY piece derived from it when the service produces one.
func (c *Client) Enhance(ctx context.Context, piece domain.InformationPiece) (domain.InformationPiece, bool, error) {
	var summary domain.InformationPiece
	var found bool

	err := c.limiter.CallWait(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(enhanceRequest{Text: piece.Text})
		if err != nil {
			return fmt.Errorf("enhancer: marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enhance", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("enhancer: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("enhancer: request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("enhancer: status %d", resp.StatusCode)
		}

		var result enhanceResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("enhancer: decode response: %w", err)
		}
		if result.Summary == "" {
			return nil
		}

		summary = domain.InformationPiece{
			ID:          piece.ID + "#summary",
			Text:        result.Summary,
			Type:        domain.PieceSummary,
			Related:     []string{piece.ID},
			Metadata:    cloneMeta(piece.Metadata),
			ChunkLength: len(result.Summary),
		}
		found = true
		return nil
	})
	if err != nil {
		return domain.InformationPiece{}, false, err
	}
	return summary, found, nil
}
