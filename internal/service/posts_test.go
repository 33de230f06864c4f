package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/models"
)

func TestHTTPPostSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cms-token", r.Header.Get("Authorization"))
		switch r.URL.EscapedPath() {
		case "/api/posts/hello%2Fworld":
			w.Write([]byte(`{"title":"Hello","slug":"hello-world","content":"Body","excerpt":"Short","tags":["go","oss"],"canonical_url":"https://blog.example.com/hello-world","status":"published"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	source := NewHTTPPostSource(config.PostsConfig{BaseURL: srv.URL + "/api/", Token: "cms-token", Timeout: "1s"}, zap.NewNop())

	post, err := source.GetPost(context.Background(), "hello/world")
	require.NoError(t, err)
	assert.Equal(t, "hello/world", post.ID)
	assert.Equal(t, "Hello", post.Title)
	assert.Equal(t, "Short", post.Summary)
	assert.Equal(t, []string{"go", "oss"}, post.Tags)
	assert.Equal(t, "https://blog.example.com/hello-world", post.CanonicalURL)
	assert.Equal(t, "hello-world", post.Metadata["slug"])

	_, err = source.GetPost(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestHTTPPostSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	source := NewHTTPPostSource(config.PostsConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := source.GetPost(context.Background(), "p1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPostNotFound)
	assert.Contains(t, err.Error(), "failed to fetch post")
}

func TestDatabasePostSource(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AutoMigrate(&models.Post{}))

	published := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.Post{
		ID:          "p1",
		Title:       "From the CMS",
		Content:     "# Body",
		Tags:        []string{"go"},
		AuthorName:  "Dana",
		Status:      "published",
		PublishedAt: &published,
	}).Error)

	source := NewDatabasePostSource(db, zap.NewNop())
	post, err := source.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "From the CMS", post.Title)
	assert.Equal(t, "Dana", post.Author)
	assert.Equal(t, []string{"go"}, post.Tags)
	require.NotNil(t, post.PublishDate)
	assert.True(t, post.PublishDate.Equal(published))

	_, err = source.GetPost(context.Background(), "p2")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestNewPostSource(t *testing.T) {
	source, err := NewPostSource(config.PostsConfig{Source: "http", BaseURL: "http://cms"}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &HTTPPostSource{}, source)

	_, err = NewPostSource(config.PostsConfig{Source: "database"}, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewPostSource(config.PostsConfig{Source: "ftp"}, nil, zap.NewNop())
	assert.Error(t, err)
}
