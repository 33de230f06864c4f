package medium

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/service/publisher"
)

const (
	platformName   = "medium"
	defaultBaseURL = "https://api.medium.com"
	maxTags        = 5
)

// MediumPublisher posts the full Markdown body to a user's profile
type MediumPublisher struct {
	logger        *zap.Logger
	client        *publisher.APIClient
	authorID      string
	publishStatus string
}

type createPostRequest struct {
	Title         string   `json:"title"`
	ContentFormat string   `json:"contentFormat"`
	Content       string   `json:"content"`
	Tags          []string `json:"tags,omitempty"`
	CanonicalURL  string   `json:"canonicalUrl,omitempty"`
	PublishStatus string   `json:"publishStatus"`
}

type createPostResponse struct {
	Data struct {
		ID            string `json:"id"`
		URL           string `json:"url"`
		PublishStatus string `json:"publishStatus"`
	} `json:"data"`
}

func NewMediumPublisher(cfg config.MediumConfig, timeout time.Duration, logger *zap.Logger) *MediumPublisher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	status := cfg.PublishStatus
	if status == "" {
		status = "public"
	}

	return &MediumPublisher{
		logger:        logger,
		authorID:      cfg.AuthorID,
		publishStatus: status,
		client: publisher.NewAPIClient(baseURL, timeout, map[string]string{
			"Authorization": "Bearer " + cfg.Token,
		}),
	}
}

func (p *MediumPublisher) Platform() string    { return platformName }
func (p *MediumPublisher) DisplayName() string { return "Medium" }
func (p *MediumPublisher) Category() string    { return "Publishing Platform" }

func (p *MediumPublisher) Capabilities() publisher.Capabilities {
	return publisher.Capabilities{
		MaxContentLength:   100000,
		SupportsImages:     true,
		SupportsVideo:      false,
		SupportsHashtags:   true,
		SupportsMentions:   false,
		SupportsScheduling: false,
	}
}

func (p *MediumPublisher) RateLimits() publisher.RateLimits {
	return publisher.RateLimits{RequestsPerHour: 60, RequestsPerDay: 1000}
}

func (p *MediumPublisher) buildPost(content publisher.Content, opts publisher.PublishOptions) createPostRequest {
	body := content.Content
	if content.Title != "" {
		body = fmt.Sprintf("# %s\n\n%s", content.Title, content.Content)
	}

	tags := content.Tags
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}

	status := p.publishStatus
	if opts.Draft {
		status = "draft"
	}

	return createPostRequest{
		Title:         content.Title,
		ContentFormat: "markdown",
		Content:       body,
		Tags:          tags,
		CanonicalURL:  content.CanonicalURL,
		PublishStatus: status,
	}
}

func (p *MediumPublisher) Publish(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error) {
	if p.authorID == "" {
		return publisher.Failed("medium: author_id is not configured"), nil
	}

	var resp createPostResponse
	path := fmt.Sprintf("/v1/users/%s/posts", p.authorID)
	if err := p.client.DoJSON(ctx, http.MethodPost, path, p.buildPost(content, opts), &resp); err != nil {
		p.logger.Warn("Failed to create Medium post", zap.String("job_id", opts.JobID), zap.Error(err))
		return publisher.Failed(publisher.DescribeError(platformName, err)), nil
	}

	p.logger.Info("Medium post created",
		zap.String("job_id", opts.JobID),
		zap.String("post_id", resp.Data.ID),
		zap.String("status", resp.Data.PublishStatus))

	return &publisher.PublishResult{
		Success:   true,
		PublishID: resp.Data.ID,
		URL:       resp.Data.URL,
		Metadata: map[string]string{
			"publish_status": resp.Data.PublishStatus,
		},
		PublishedAt: time.Now(),
	}, nil
}

func (p *MediumPublisher) HealthCheck(ctx context.Context) publisher.HealthStatus {
	return p.client.Probe(ctx, http.MethodGet, "/v1/me")
}
