package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/haulpoints/backend/internal/models"
)

// ItemProvider exposes marketplace item detail lookups. The production
// implementation talks to the marketplace REST API; tests substitute it.
type ItemProvider interface {
	GetItemDetails(ctx context.Context, itemID string) (*models.ItemData, error)
}

// TokenSource supplies marketplace API credentials. It is an injected
// dependency with an explicit lifecycle, not a process-wide singleton,
// so it can be substituted in tests.
type TokenSource interface {
	Init(ctx context.Context) error
	Token(ctx context.Context) (string, error)
	Shutdown(ctx context.Context) error
}

// StaticTokenSource returns a fixed token. Used in development and
// wherever the deployment injects a pre-refreshed credential.
type StaticTokenSource struct {
	Value string
}

func (s *StaticTokenSource) Init(_ context.Context) error { return nil }

func (s *StaticTokenSource) Token(_ context.Context) (string, error) { return s.Value, nil }

func (s *StaticTokenSource) Shutdown(_ context.Context) error { return nil }

// Client fetches item details over HTTP. The request timeout bounds the
// synchronous cache-miss path; background refreshes get their own
// deadline from the cache worker.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ ItemProvider = (*Client)(nil)

// GetItemDetails returns nil (no error) when the marketplace does not
// know the item.
func (c *Client) GetItemDetails(ctx context.Context, itemID string) (*models.ItemData, error) {
	url := fmt.Sprintf("%s/items/%s", c.baseURL, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketplace token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("marketplace returned status %d", resp.StatusCode)
	}

	var item models.ItemData
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode marketplace response: %w", err)
	}
	if item.ItemID == "" {
		item.ItemID = itemID
	}
	return &item, nil
}
