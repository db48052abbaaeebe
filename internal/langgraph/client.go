package langgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oap-labs/oapd/internal/apperr"
)

// Client talks to the upstream engine over HTTP. All calls share a
// rate limiter so sync sweeps cannot starve interactive requests.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient builds a Client. rps bounds outbound request rate; zero
// means unlimited.
func NewClient(baseURL, apiKey string, rps float64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps) + 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// GetAssistant fetches one assistant by id.
func (c *Client) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	var a Assistant
	if err := c.do(ctx, "GET", "/assistants/"+id, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetSchemas fetches the schema bundle for an assistant.
func (c *Client) GetSchemas(ctx context.Context, assistantID string) (*Schemas, error) {
	var s Schemas
	if err := c.do(ctx, "GET", "/assistants/"+assistantID+"/schemas", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SearchAssistants pages the upstream assistant index.
func (c *Client) SearchAssistants(ctx context.Context, req SearchRequest) ([]Assistant, error) {
	var out []Assistant
	if err := c.do(ctx, "POST", "/assistants/search", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListVersions fetches the upstream version history of an assistant,
// newest first.
func (c *Client) ListVersions(ctx context.Context, id string) ([]Assistant, error) {
	var out []Assistant
	if err := c.do(ctx, "POST", "/assistants/"+id+"/versions", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAssistant patches an assistant upstream. The engine assigns a
// new version and returns the updated record.
func (c *Client) UpdateAssistant(ctx context.Context, id string, patch UpdatePayload) (*Assistant, error) {
	var a Assistant
	if err := c.do(ctx, "PATCH", "/assistants/"+id, patch, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ThreadHistory fetches state snapshots for a thread, newest first.
func (c *Client) ThreadHistory(ctx context.Context, threadID string) ([]ThreadState, error) {
	var out []ThreadState
	if err := c.do(ctx, "GET", "/threads/"+threadID+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("engine: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("engine: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return apperr.Wrap(apperr.Timeout, err, "engine: %s %s", method, path)
		}
		return apperr.Wrap(apperr.UpstreamFailure, err, "engine: %s %s", method, path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New(apperr.NotFound, "engine: %s not found", path)
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.New(apperr.UpstreamFailure, "engine: %s %s: http %d: %s",
			method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.UpstreamFailure, err, "engine: decode %s response", path)
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
