package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Event is a stored marketplace event as returned by the read API.
type Event struct {
	Signature string          `json:"signature"`
	BlockTime *time.Time      `json:"block_time,omitempty"`
	Category  string          `json:"category"`
	Symbol    string          `json:"symbol"`
	Size      *int64          `json:"size,omitempty"`
	Price     *int64          `json:"price,omitempty"`
	Data      json.RawMessage `json:"data"`
	Failed    bool            `json:"failed,omitempty"`
	Table     string          `json:"table,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// Cursor is the persisted ingestion checkpoint.
type Cursor struct {
	Name      string     `json:"name"`
	Before    string     `json:"before"`
	Until     string     `json:"until"`
	BlockTime *time.Time `json:"block_time,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Pair is one entry of the symbol index.
type Pair struct {
	Symbol    string `json:"symbol"`
	BaseMint  string `json:"base_mint"`
	QuoteMint string `json:"quote_mint"`
}

// EventsQuery filters List. Zero values are omitted.
type EventsQuery struct {
	Category string
	Symbol   string
	Limit    int
	Offset   int
}

// Client is the HTTP client for the tradewatch read API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new read API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// List returns stored events, newest first.
func (c *Client) List(ctx context.Context, q EventsQuery) ([]*Event, error) {
	params := url.Values{}
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.Symbol != "" {
		params.Set("symbol", q.Symbol)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var resp struct {
		Events []*Event `json:"events"`
		Count  int      `json:"count"`
	}
	if err := c.getJSON(ctx, "/api/v1/events", params, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("events listed", "count", resp.Count)
	return resp.Events, nil
}

// Get looks up one event by signature.
func (c *Client) Get(ctx context.Context, signature string) (*Event, error) {
	var ev Event
	if err := c.getJSON(ctx, "/api/v1/events/"+url.PathEscape(signature), nil, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Cursor returns the named checkpoint; an empty name means the server default.
func (c *Client) Cursor(ctx context.Context, name string) (*Cursor, error) {
	params := url.Values{}
	if name != "" {
		params.Set("name", name)
	}
	var cur Cursor
	if err := c.getJSON(ctx, "/api/v1/cursor", params, &cur); err != nil {
		return nil, err
	}
	return &cur, nil
}

// Symbols lists the symbol index.
func (c *Client) Symbols(ctx context.Context) ([]Pair, error) {
	var resp struct {
		Symbols []Pair `json:"symbols"`
	}
	if err := c.getJSON(ctx, "/api/v1/symbols", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// Resolve returns the symbol of a mint pair.
func (c *Client) Resolve(ctx context.Context, baseMint, quoteMint string) (string, error) {
	params := url.Values{"base": {baseMint}, "quote": {quoteMint}}
	var pair Pair
	if err := c.getJSON(ctx, "/api/v1/symbols", params, &pair); err != nil {
		return "", err
	}
	return pair.Symbol, nil
}

// Health returns nil when the server and its database are up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Await streams newly stored events of category (all categories when
// empty) and returns the first one matcher accepts. It blocks until a
// match, ctx is done or the stream ends.
func (c *Client) Await(ctx context.Context, category string, matcher func(*Event) bool) (*Event, error) {
	u := c.baseURL + "/api/v1/stream/events"
	if category != "" {
		u += "/" + url.PathEscape(category)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the default client timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event == "connected" || event == "error" {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				c.logger.Warn("failed to parse streamed event", "error", err)
				continue
			}
			if matcher == nil || matcher(&ev) {
				return &ev, nil
			}
			c.logger.Debug("streamed event did not match", "signature", ev.Signature)
		case line == "":
			event = ""
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream failed: %w", err)
	}
	return nil, fmt.Errorf("stream closed before a matching event arrived")
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
