package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/reputation"
)

// Config holds the configuration for reaching the Tontine Connect API.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8080"
	Token   string        // Optional session token sent as a bearer credential
	Timeout time.Duration // Per request, defaults to 30s
}

const defaultTimeout = 30 * time.Second

// Client is a read-only HTTP client for the reputation API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// get fetches path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetReputation returns one member's record in a tontine.
func (c *Client) GetReputation(ctx context.Context, tontineID, userID string) (*reputation.Record, error) {
	var resp struct {
		Reputation reputation.Record `json:"reputation"`
	}
	path := "/v1/tontines/" + url.PathEscape(tontineID) + "/reputation/" + url.PathEscape(userID)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Reputation, nil
}

// GetLeaderboard returns a tontine's records, best score first.
func (c *Client) GetLeaderboard(ctx context.Context, tontineID string, limit int) ([]reputation.Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Members []reputation.Record `json:"members"`
	}
	if err := c.get(ctx, "/v1/tontines/"+url.PathEscape(tontineID)+"/reputation", q, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// ListUserReputation returns a user's records across tontines.
func (c *Client) ListUserReputation(ctx context.Context, userID string) ([]reputation.Record, error) {
	var resp struct {
		Reputation []reputation.Record `json:"reputation"`
	}
	if err := c.get(ctx, "/v1/users/"+url.PathEscape(userID)+"/reputation", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reputation, nil
}

// ListBadges returns the badge catalogue.
func (c *Client) ListBadges(ctx context.Context) ([]reputation.BadgeRule, error) {
	var resp struct {
		Badges []reputation.BadgeRule `json:"badges"`
	}
	if err := c.get(ctx, "/v1/reputation/badges", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Badges, nil
}
