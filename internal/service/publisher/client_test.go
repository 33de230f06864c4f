package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"42"}`)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL+"/", time.Second, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, srv.URL, client.BaseURL())

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, client.DoJSON(context.Background(), http.MethodPost, "/things", map[string]string{"a": "b"}, &out))
	assert.Equal(t, "42", out.ID)
}

func TestDoJSONReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, strings.Repeat("x", 2000))
	}))
	defer srv.Close()

	err := NewAPIClient(srv.URL, time.Second, nil).DoJSON(context.Background(), http.MethodGet, "/", nil, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Len(t, apiErr.Body, 512)
}

func TestDoJSONRejectsOversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"%s"}`, strings.Repeat("x", maxResponseBody))
	}))
	defer srv.Close()

	var out struct {
		ID string `json:"id"`
	}
	err := NewAPIClient(srv.URL, 5*time.Second, nil).DoJSON(context.Background(), http.MethodGet, "/big", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response from /big exceeds")
	assert.Empty(t, out.ID)
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, time.Second, nil)

	up := client.Probe(context.Background(), http.MethodGet, "/up")
	assert.True(t, up.IsOnline)
	assert.Empty(t, up.Error)
	assert.False(t, up.LastChecked.IsZero())

	down := client.Probe(context.Background(), http.MethodGet, "/down")
	assert.False(t, down.IsOnline)
	assert.Contains(t, down.Error, "503")
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", &APIError{StatusCode: 401}, "medium authentication failed (status 401)"},
		{"forbidden", &APIError{StatusCode: 403}, "medium authentication failed (status 403)"},
		{"rate limited", &APIError{StatusCode: 429}, "medium rate limit exceeded"},
		{"rejected", &APIError{StatusCode: 400, Body: "title too long"}, "medium rejected the content: API returned status 400: title too long"},
		{"timeout", fmt.Errorf("failed to send request: %w", context.DeadlineExceeded), "medium request timed out"},
		{"server error", &APIError{StatusCode: 502, Body: "bad gateway"}, "medium request failed: API returned status 502: bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DescribeError("medium", tt.err))
		})
	}
}
