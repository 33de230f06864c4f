package publisher

import (
	"context"
	"time"

	"github.com/ifuryst/syndicate/internal/models"
)

// Content represents the post being distributed, as read at dispatch time
type Content struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Slug         string            `json:"slug"`
	Content      string            `json:"content"` // Markdown
	Summary      string            `json:"summary"`
	Tags         []string          `json:"tags"`
	Author       string            `json:"author"`
	CoverImage   string            `json:"cover_image"`
	CanonicalURL string            `json:"canonical_url"`
	PublishDate  *time.Time        `json:"publish_date"`
	Metadata     map[string]string `json:"metadata"`
}

// PublishOptions carries per-call settings from the engine
type PublishOptions struct {
	JobID string
	Draft bool
}

// PublishResult represents the result of a publish operation.
// Expected platform failures are reported here with Success false, never as an error.
type PublishResult struct {
	Success     bool              `json:"success"`
	PublishID   string            `json:"publish_id,omitempty"`
	URL         string            `json:"url,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PublishedAt time.Time         `json:"published_at"`
}

// Capabilities are static per platform
type Capabilities struct {
	MaxContentLength   int  `json:"max_content_length"`
	SupportsImages     bool `json:"supports_images"`
	SupportsVideo      bool `json:"supports_video"`
	SupportsHashtags   bool `json:"supports_hashtags"`
	SupportsMentions   bool `json:"supports_mentions"`
	SupportsScheduling bool `json:"supports_scheduling"`
}

// RateLimits describes the documented API quota of a platform
type RateLimits struct {
	RequestsPerHour int `json:"requests_per_hour"`
	RequestsPerDay  int `json:"requests_per_day"`
}

// HealthStatus is the outcome of a best-effort probe
type HealthStatus struct {
	IsOnline     bool      `json:"is_online"`
	ResponseTime int64     `json:"response_time,omitempty"` // milliseconds
	LastChecked  time.Time `json:"last_checked"`
	Error        string    `json:"error,omitempty"`
}

// Adapter is the uniform interface to one external publishing destination
type Adapter interface {
	Platform() string
	DisplayName() string
	Category() string

	Capabilities() Capabilities
	RateLimits() RateLimits

	Publish(ctx context.Context, content Content, opts PublishOptions) (*PublishResult, error)
	HealthCheck(ctx context.Context) HealthStatus
}

// Failed builds an unsuccessful result.
func Failed(msg string) *PublishResult {
	return &PublishResult{
		Success: false,
		Error:   msg,
	}
}

// FromPost converts a CMS post to Content
func FromPost(post *models.Post) *Content {
	metadata := map[string]string{
		"status": post.Status,
	}
	if post.Slug != "" {
		metadata["slug"] = post.Slug
	}

	return &Content{
		ID:           post.ID,
		Title:        post.Title,
		Slug:         post.Slug,
		Content:      post.Content,
		Summary:      post.Excerpt,
		Tags:         []string(post.Tags),
		Author:       post.AuthorName,
		CoverImage:   post.CoverImage,
		CanonicalURL: post.CanonicalURL,
		PublishDate:  post.PublishedAt,
		Metadata:     metadata,
	}
}
