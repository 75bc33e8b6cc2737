/**
 * @description
 * This package provides a client for the member registry service. The
 * pool-service consumes exactly one thing from the registry: the current
 * allow-list of chain addresses admitted to call settlement operations. The
 * access gate refreshes this list periodically and caches the last good
 * snapshot.
 */
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the member registry.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new registry client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// AllowListResponse is the registry's allow-list payload.
type AllowListResponse struct {
	Addresses []string `json:"addresses"`
}

// FetchAllowList retrieves the full set of admitted chain addresses.
func (c *Client) FetchAllowList(ctx context.Context) ([]string, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("registry base url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/internal/members/allowlist", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create allow-list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute allow-list request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("registry returned error status %d", resp.StatusCode)
	}

	var response AllowListResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode allow-list response: %w", err)
	}

	return response.Addresses, nil
}
