package api

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

	"github.com/pluqqy/funnelkit/pkg/models"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// TransportError is a request that got no answer from the server.
type TransportError struct {
	Method, Path string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable is false only when the caller cancelled the request.
func (e *TransportError) Retryable() bool {
	return !errors.Is(e.Err, context.Canceled)
}

// Client talks to a funnelkit API server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL. A nil httpClient uses a client
// with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

// ListFunnels returns every funnel on the server.
func (c *Client) ListFunnels(ctx context.Context) ([]models.FunnelSummary, error) {
	var out []models.FunnelSummary
	if err := c.do(ctx, http.MethodGet, "/v1/funnels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateFunnel creates an empty funnel.
func (c *Client) CreateFunnel(ctx context.Context, name string, theme json.RawMessage) (*models.Funnel, error) {
	var out models.Funnel
	if err := c.do(ctx, http.MethodPost, "/v1/funnels", CreateRequest{Name: name, ThemeConfig: theme}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Load fetches a funnel tree.
func (c *Client) Load(ctx context.Context, funnelID string) (*models.Funnel, error) {
	var out models.Funnel
	if err := c.do(ctx, http.MethodGet, "/v1/funnels/"+url.PathEscape(funnelID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Save sends the editor state. Any non-success answer is a full failure.
func (c *Client) Save(ctx context.Context, req models.SaveRequest) (*models.Remap, error) {
	var out SaveResponse
	err := c.do(ctx, http.MethodPut, "/v1/funnels/"+url.PathEscape(req.FunnelID)+"/tree", req, &out)
	if err != nil {
		return nil, err
	}
	if !out.Success || out.Remap == nil {
		return nil, &StatusError{StatusCode: http.StatusOK, Message: "save not acknowledged"}
	}
	return out.Remap, nil
}

// Preview fetches the composed markdown preview.
func (c *Client) Preview(ctx context.Context, funnelID string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/v1/funnels/"+url.PathEscape(funnelID)+"/preview", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read preview: %w", err)
	}
	return string(body), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	return resp, nil
}

func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(b))
}
