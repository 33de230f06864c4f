package publisher

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
)

const (
	defaultRequestTimeout = 60 * time.Second
	userAgent             = "syndicate/1.0"
	maxErrorBody          = 512
	maxResponseBody       = 4 << 20
)

// APIError is returned for non-2xx platform responses
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// APIClient is the small JSON-over-HTTP client shared by adapters. Each adapter
// owns one, so per-call timeouts are enforced at the adapter level.
type APIClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewAPIClient(baseURL string, timeout time.Duration, headers map[string]string) *APIClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}
}

func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// DoJSON sends body (if any) as JSON and decodes a 2xx response into out (if any).
func (c *APIClient) DoJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(respBody) > maxResponseBody {
		return fmt.Errorf("response from %s exceeds %d bytes", path, maxResponseBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: text}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// Probe issues a lightweight authenticated request and reports reachability.
func (c *APIClient) Probe(ctx context.Context, method, path string) HealthStatus {
	start := time.Now()
	err := c.DoJSON(ctx, method, path, nil, nil)
	status := HealthStatus{
		IsOnline:     err == nil,
		ResponseTime: time.Since(start).Milliseconds(),
		LastChecked:  time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// DescribeError turns a transport or API error into a result message.
func DescribeError(platform string, err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Sprintf("%s authentication failed (status %d)", platform, apiErr.StatusCode)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Sprintf("%s rate limit exceeded", platform)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return fmt.Sprintf("%s rejected the content: %s", platform, apiErr.Error())
		}
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeoutErr) && timeoutErr.Timeout()) {
		return fmt.Sprintf("%s request timed out", platform)
	}
	return fmt.Sprintf("%s request failed: %v", platform, err)
}
