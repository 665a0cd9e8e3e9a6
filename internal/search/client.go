package search

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/kagesort/prdl/internal/utils"
)

// Client fetches search results from a configured metadata-indexing
// endpoint. It does not build queries or rank matches -- it decodes
// whatever JSON array the endpoint returns.
type Client struct {
	Endpoint string
	http     *utils.Client
}

// NewClient builds a search Client against endpoint using the shared
// HTTP transport configuration.
func NewClient(endpoint string, cfg utils.ClientConfig) *Client {
	return &Client{Endpoint: endpoint, http: utils.NewClient(cfg)}
}

// Fetch retrieves and decodes the results for query from the
// configured endpoint via a single GET request.
func (c *Client) Fetch(ctx context.Context, query string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying search endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	return ParseResults(body)
}
