package twitter

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
	platformName   = "twitter"
	defaultBaseURL = "https://api.twitter.com"
	maxTweetLength = 280
)

// TwitterPublisher posts a short status linking back to the post
type TwitterPublisher struct {
	logger *zap.Logger
	client *publisher.APIClient
}

type createTweetRequest struct {
	Text string `json:"text"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func NewTwitterPublisher(cfg config.TwitterConfig, timeout time.Duration, logger *zap.Logger) *TwitterPublisher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &TwitterPublisher{
		logger: logger,
		client: publisher.NewAPIClient(baseURL, timeout, map[string]string{
			"Authorization": "Bearer " + cfg.BearerToken,
		}),
	}
}

func (p *TwitterPublisher) Platform() string    { return platformName }
func (p *TwitterPublisher) DisplayName() string { return "Twitter / X" }
func (p *TwitterPublisher) Category() string    { return "Social Media" }

func (p *TwitterPublisher) Capabilities() publisher.Capabilities {
	return publisher.Capabilities{
		MaxContentLength:   maxTweetLength,
		SupportsImages:     true,
		SupportsVideo:      true,
		SupportsHashtags:   true,
		SupportsMentions:   true,
		SupportsScheduling: false,
	}
}

func (p *TwitterPublisher) RateLimits() publisher.RateLimits {
	return publisher.RateLimits{RequestsPerHour: 50, RequestsPerDay: 300}
}

// ComposeTweet builds the status text: title, hashtags while they fit, canonical link.
func ComposeTweet(content publisher.Content) string {
	body := content.Title
	if body == "" {
		body = content.Summary
	}
	return util.ComposeShort(body, content.CanonicalURL, util.Hashtags(content.Tags), maxTweetLength)
}

func (p *TwitterPublisher) Publish(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error) {
	text := ComposeTweet(content)
	if strings.TrimSpace(text) == "" {
		return publisher.Failed("twitter: nothing to post, title and canonical url are empty"), nil
	}

	var resp createTweetResponse
	if err := p.client.DoJSON(ctx, http.MethodPost, "/2/tweets", createTweetRequest{Text: text}, &resp); err != nil {
		p.logger.Warn("Failed to post tweet",
			zap.String("job_id", opts.JobID),
			zap.Error(err))
		return publisher.Failed(publisher.DescribeError(platformName, err)), nil
	}

	if resp.Data.ID == "" {
		return publisher.Failed("twitter: response did not include a tweet id"), nil
	}

	p.logger.Info("Tweet posted",
		zap.String("job_id", opts.JobID),
		zap.String("tweet_id", resp.Data.ID))

	return &publisher.PublishResult{
		Success:     true,
		PublishID:   resp.Data.ID,
		URL:         fmt.Sprintf("https://twitter.com/i/web/status/%s", resp.Data.ID),
		PublishedAt: time.Now(),
	}, nil
}

func (p *TwitterPublisher) HealthCheck(ctx context.Context) publisher.HealthStatus {
	return p.client.Probe(ctx, http.MethodGet, "/2/users/me")
}
