// Package rest inserts rows through the Supabase REST (PostgREST) API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// APIError is a non-2xx PostgREST response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("authentication failed (%d): %s", e.Status, e.Body)
	case http.StatusNotFound:
		return fmt.Sprintf("table not found (404): %s", e.Body)
	case http.StatusConflict:
		return fmt.Sprintf("conflict (409): %s", e.Body)
	default:
		return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
	}
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client talks to one Supabase project.
type Client struct {
	BaseURL string
	APIKey  string
	// Schema is sent as Content-Profile. Empty means the default schema.
	Schema     string
	HTTP       *http.Client
	MaxRetries uint64

	newBackOff func() backoff.BackOff
}

// NewClient creates a Client for the project at baseURL.
func NewClient(baseURL, apiKey, schema string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Schema:     schema,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 5,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Insert posts rows to the table endpoint.
func (c *Client) Insert(ctx context.Context, table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	endpoint := c.BaseURL + "/rest/v1/" + url.PathEscape(table)

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if c.newBackOff != nil {
		b = c.newBackOff()
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)

	return backoff.Retry(func() error {
		err := c.post(ctx, endpoint, body)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	if c.Schema != "" {
		req.Header.Set("Content-Profile", c.Schema)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respData, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respData))}
	}
	return nil
}
