package facebook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/service/publisher"
	"github.com/ifuryst/syndicate/pkg/util"
)

const (
	platformName     = "facebook"
	defaultBaseURL   = "https://graph.facebook.com"
	graphVersion     = "v19.0"
	maxMessageLength = 63206
)

// FacebookPublisher posts to a page feed through the Graph API
type FacebookPublisher struct {
	logger *zap.Logger
	client *publisher.APIClient
	pageID string
}

type feedRequest struct {
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

type feedResponse struct {
	ID string `json:"id"`
}

func NewFacebookPublisher(cfg config.FacebookConfig, timeout time.Duration, logger *zap.Logger) *FacebookPublisher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &FacebookPublisher{
		logger: logger,
		pageID: cfg.PageID,
		client: publisher.NewAPIClient(baseURL, timeout, map[string]string{
			"Authorization": "Bearer " + cfg.AccessToken,
		}),
	}
}

func (p *FacebookPublisher) Platform() string    { return platformName }
func (p *FacebookPublisher) DisplayName() string { return "Facebook" }
func (p *FacebookPublisher) Category() string    { return "Social Media" }

func (p *FacebookPublisher) Capabilities() publisher.Capabilities {
	return publisher.Capabilities{
		MaxContentLength:   maxMessageLength,
		SupportsImages:     true,
		SupportsVideo:      true,
		SupportsHashtags:   true,
		SupportsMentions:   true,
		SupportsScheduling: true,
	}
}

func (p *FacebookPublisher) RateLimits() publisher.RateLimits {
	return publisher.RateLimits{RequestsPerHour: 200, RequestsPerDay: 4800}
}

func buildMessage(content publisher.Content) string {
	parts := []string{content.Title}
	if content.Summary != "" {
		parts = append(parts, content.Summary)
	}
	if hashtags := util.Hashtags(content.Tags); len(hashtags) > 0 {
		parts = append(parts, strings.Join(hashtags, " "))
	}
	return util.Truncate(strings.Join(parts, "\n\n"), maxMessageLength)
}

func (p *FacebookPublisher) Publish(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error) {
	if p.pageID == "" {
		return publisher.Failed("facebook: page_id is not configured"), nil
	}

	var resp feedResponse
	path := fmt.Sprintf("/%s/%s/feed", graphVersion, p.pageID)
	req := feedRequest{Message: buildMessage(content), Link: content.CanonicalURL}
	if err := p.client.DoJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		p.logger.Warn("Failed to post to Facebook page", zap.String("job_id", opts.JobID), zap.Error(err))
		return publisher.Failed(publisher.DescribeError(platformName, err)), nil
	}

	if resp.ID == "" {
		return publisher.Failed("facebook: response did not include a post id"), nil
	}

	p.logger.Info("Facebook post created", zap.String("job_id", opts.JobID), zap.String("post_id", resp.ID))

	return &publisher.PublishResult{
		Success:     true,
		PublishID:   resp.ID,
		URL:         fmt.Sprintf("https://www.facebook.com/%s", resp.ID),
		PublishedAt: time.Now(),
	}, nil
}

func (p *FacebookPublisher) HealthCheck(ctx context.Context) publisher.HealthStatus {
	return p.client.Probe(ctx, http.MethodGet, fmt.Sprintf("/%s/%s?fields=id", graphVersion, p.pageID))
}
