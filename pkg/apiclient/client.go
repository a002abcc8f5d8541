// Package apiclient provides a REST client for the shadowfs control API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every request except walks.
const DefaultTimeout = 30 * time.Second

// Client is the shadowfs API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the wrapper every JSON success response carries.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// do performs an HTTP request and decodes the data of the response envelope.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, respBody)
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, c.httpClient, http.MethodGet, path, nil, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, c.httpClient, http.MethodPost, path, body, result)
}

// put performs a PUT request.
func (c *Client) put(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, c.httpClient, http.MethodPut, path, body, result)
}

// untimed returns an http client sharing the transport but with no
// overall deadline.
func (c *Client) untimed() *http.Client {
	hc := *c.httpClient
	hc.Timeout = 0
	return &hc
}
