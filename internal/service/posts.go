package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
	"github.com/ifuryst/syndicate/internal/service/publisher"
)

var ErrPostNotFound = errors.New("post not found")

var (
	_ distribution.PostSource = (*DatabasePostSource)(nil)
	_ distribution.PostSource = (*HTTPPostSource)(nil)
)

// DatabasePostSource reads posts straight from the CMS posts table
type DatabasePostSource struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewDatabasePostSource(db *gorm.DB, logger *zap.Logger) *DatabasePostSource {
	return &DatabasePostSource{db: db, logger: logger}
}

func (s *DatabasePostSource) GetPost(ctx context.Context, id string) (*publisher.Content, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPostNotFound, id)
		}
		return nil, fmt.Errorf("failed to load post: %w", err)
	}
	return publisher.FromPost(&post), nil
}

// HTTPPostSource fetches posts from the CMS JSON API at {base_url}/posts/{id}
type HTTPPostSource struct {
	client *publisher.APIClient
	logger *zap.Logger
}

func NewHTTPPostSource(cfg config.PostsConfig, logger *zap.Logger) *HTTPPostSource {
	headers := map[string]string{}
	if cfg.Token != "" {
		headers["Authorization"] = "Bearer " + cfg.Token
	}

	return &HTTPPostSource{
		client: publisher.NewAPIClient(cfg.BaseURL, config.Duration(cfg.Timeout), headers),
		logger: logger,
	}
}

func (s *HTTPPostSource) GetPost(ctx context.Context, id string) (*publisher.Content, error) {
	var post models.Post
	err := s.client.DoJSON(ctx, http.MethodGet, "/posts/"+url.PathEscape(id), nil, &post)
	if err != nil {
		var apiErr *publisher.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPostNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch post: %w", err)
	}
	if post.ID == "" {
		post.ID = id
	}

	s.logger.Debug("Fetched post from CMS", zap.String("post_id", id))
	return publisher.FromPost(&post), nil
}

// NewPostSource picks the implementation configured by posts.source.
func NewPostSource(cfg config.PostsConfig, db *gorm.DB, logger *zap.Logger) (distribution.PostSource, error) {
	switch cfg.Source {
	case "http":
		return NewHTTPPostSource(cfg, logger), nil
	case "database", "":
		if db == nil {
			return nil, fmt.Errorf("posts.source database requires a database connection")
		}
		return NewDatabasePostSource(db, logger), nil
	default:
		return nil, fmt.Errorf("unsupported posts source: %s", cfg.Source)
	}
}
