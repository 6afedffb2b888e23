package symbols

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// CatalogClient fetches asset descriptors from the Star Atlas galaxy API.
type CatalogClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCatalogClient creates a catalog client. A nil httpClient gets a 30s timeout.
func NewCatalogClient(url string, httpClient *http.Client, logger *slog.Logger) *CatalogClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &CatalogClient{url: url, httpClient: httpClient, logger: logger}
}

// FetchAssets performs one GET and decodes the JSON array of {symbol, mint}.
// Extra fields in each entry are ignored.
func (c *CatalogClient) FetchAssets(ctx context.Context) ([]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(body))
	}

	var assets []Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&assets); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	c.logger.InfoContext(ctx, "loaded asset catalog", "url", c.url, "assets", len(assets))
	return assets, nil
}
