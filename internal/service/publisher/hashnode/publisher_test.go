package hashnode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/service/publisher"
)

func newServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("Authorization"))
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Query)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPublish(t *testing.T) {
	srv := newServer(t, `{"data":{"publishPost":{"post":{"id":"p1","slug":"hello","url":"https://me.hashnode.dev/hello"}}}}`)

	p := NewHashnodePublisher(config.HashnodeConfig{BaseURL: srv.URL, Token: "token", PublicationID: "pub"}, time.Second, zap.NewNop())
	res, err := p.Publish(context.Background(), publisher.Content{Title: "Hello", Content: "Body"}, publisher.PublishOptions{})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "p1", res.PublishID)
	assert.Equal(t, "https://me.hashnode.dev/hello", res.URL)
	assert.Equal(t, "hello", res.Metadata["slug"])
}

func TestPublishGraphQLErrors(t *testing.T) {
	srv := newServer(t, `{"errors":[{"message":"Invalid tag"},{"message":"Title too short"}]}`)

	p := NewHashnodePublisher(config.HashnodeConfig{BaseURL: srv.URL, Token: "token", PublicationID: "pub"}, time.Second, zap.NewNop())
	res, err := p.Publish(context.Background(), publisher.Content{Title: "x"}, publisher.PublishOptions{})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "hashnode rejected the content: Invalid tag; Title too short", res.Error)
}

func TestBuildInputSkipsEmptyTags(t *testing.T) {
	p := NewHashnodePublisher(config.HashnodeConfig{PublicationID: "pub"}, time.Second, zap.NewNop())
	input := p.buildInput(publisher.Content{Tags: []string{"Web Dev", "!!!"}, CoverImage: "https://img.example/c.png"})

	require.Len(t, input.Tags, 1)
	assert.Equal(t, tagInput{Slug: "web-dev", Name: "Web Dev"}, input.Tags[0])
	assert.Equal(t, "https://img.example/c.png", input.CoverImageOptions["coverImageURL"])
}

func TestHealthCheckReportsGraphQLErrors(t *testing.T) {
	srv := newServer(t, `{"errors":[{"message":"Unauthenticated"}]}`)

	p := NewHashnodePublisher(config.HashnodeConfig{BaseURL: srv.URL, Token: "token"}, time.Second, zap.NewNop())
	status := p.HealthCheck(context.Background())
	assert.False(t, status.IsOnline)
	assert.Equal(t, "graphql error: Unauthenticated", status.Error)
}
