// Package market looks up token display metadata from CoinGecko.
package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zhouzirui/z-tavern/chatflow/internal/workflow"
)

const (
	DefaultBaseURL  = "https://api.coingecko.com/api/v3"
	DefaultPlatform = "solana"

	maxBodyBytes = 1 << 20
)

// Client queries the CoinGecko contract endpoint.
type Client struct {
	baseURL    string
	platform   string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends the demo API key header on each request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a CoinGecko client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		platform:   DefaultPlatform,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMetadata returns name, symbol and USD price for the token contract at address.
func (c *Client) FetchMetadata(ctx context.Context, address string) (workflow.Metadata, error) {
	endpoint := fmt.Sprintf("%s/coins/%s/contract/%s", c.baseURL, c.platform, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return workflow.Metadata{}, fmt.Errorf("build coingecko request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return workflow.Metadata{}, fmt.Errorf("coingecko request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return workflow.Metadata{}, fmt.Errorf("read coingecko response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return workflow.Metadata{}, fmt.Errorf("coingecko %s: %w", address, workflow.ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		return workflow.Metadata{}, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return workflow.Metadata{}, fmt.Errorf("coingecko returned invalid json")
	}

	return parseMetadata(address, body)
}

func parseMetadata(address string, body []byte) (workflow.Metadata, error) {
	if apiErr := gjson.GetBytes(body, "error"); apiErr.Exists() {
		return workflow.Metadata{}, fmt.Errorf("coingecko %s: %s: %w", address, apiErr.String(), workflow.ErrNotFound)
	}

	name := strings.TrimSpace(gjson.GetBytes(body, "name").String())
	if name == "" {
		name = "Unknown Token"
	}
	symbol := strings.ToUpper(strings.TrimSpace(gjson.GetBytes(body, "symbol").String()))
	if symbol == "" {
		symbol = "UNKNOWN"
	}

	return workflow.Metadata{
		Name:   name,
		Symbol: symbol,
		Price:  gjson.GetBytes(body, "market_data.current_price.usd").Float(),
	}, nil
}
