package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/service/publisher"
	"github.com/ifuryst/syndicate/pkg/util"
)

const (
	platformName      = "linkedin"
	defaultBaseURL    = "https://api.linkedin.com"
	maxCommentarySize = 3000
)

// LinkedInPublisher shares an article link with commentary through the UGC posts API
type LinkedInPublisher struct {
	logger    *zap.Logger
	client    *publisher.APIClient
	authorURN string
}

type shareRequest struct {
	Author          string            `json:"author"`
	LifecycleState  string            `json:"lifecycleState"`
	SpecificContent specificContent   `json:"specificContent"`
	Visibility      map[string]string `json:"visibility"`
}

type specificContent struct {
	ShareContent shareContent `json:"com.linkedin.ugc.ShareContent"`
}

type shareContent struct {
	ShareCommentary    textValue    `json:"shareCommentary"`
	ShareMediaCategory string       `json:"shareMediaCategory"`
	Media              []shareMedia `json:"media,omitempty"`
}

type shareMedia struct {
	Status      string     `json:"status"`
	OriginalURL string     `json:"originalUrl"`
	Title       *textValue `json:"title,omitempty"`
	Description *textValue `json:"description,omitempty"`
}

type textValue struct {
	Text string `json:"text"`
}

type shareResponse struct {
	ID string `json:"id"`
}

func NewLinkedInPublisher(cfg config.LinkedInConfig, timeout time.Duration, logger *zap.Logger) *LinkedInPublisher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &LinkedInPublisher{
		logger:    logger,
		authorURN: cfg.AuthorURN,
		client: publisher.NewAPIClient(baseURL, timeout, map[string]string{
			"Authorization":             "Bearer " + cfg.AccessToken,
			"X-Restli-Protocol-Version": "2.0.0",
		}),
	}
}

func (p *LinkedInPublisher) Platform() string    { return platformName }
func (p *LinkedInPublisher) DisplayName() string { return "LinkedIn" }
func (p *LinkedInPublisher) Category() string    { return "Professional Network" }

func (p *LinkedInPublisher) Capabilities() publisher.Capabilities {
	return publisher.Capabilities{
		MaxContentLength:   maxCommentarySize,
		SupportsImages:     true,
		SupportsVideo:      true,
		SupportsHashtags:   true,
		SupportsMentions:   true,
		SupportsScheduling: false,
	}
}

func (p *LinkedInPublisher) RateLimits() publisher.RateLimits {
	return publisher.RateLimits{RequestsPerHour: 100, RequestsPerDay: 500}
}

func (p *LinkedInPublisher) buildShare(content publisher.Content) shareRequest {
	body := content.Title
	if content.Summary != "" {
		body = content.Title + "\n\n" + content.Summary
	}

	share := shareContent{
		ShareCommentary:    textValue{Text: util.ComposeShort(body, "", util.Hashtags(content.Tags), maxCommentarySize)},
		ShareMediaCategory: "NONE",
	}
	if content.CanonicalURL != "" {
		share.ShareMediaCategory = "ARTICLE"
		media := shareMedia{
			Status:      "READY",
			OriginalURL: content.CanonicalURL,
			Title:       &textValue{Text: content.Title},
		}
		if content.Summary != "" {
			media.Description = &textValue{Text: util.Truncate(content.Summary, 256)}
		}
		share.Media = []shareMedia{media}
	}

	return shareRequest{
		Author:          p.authorURN,
		LifecycleState:  "PUBLISHED",
		SpecificContent: specificContent{ShareContent: share},
		Visibility: map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
}

func (p *LinkedInPublisher) Publish(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error) {
	if p.authorURN == "" {
		return publisher.Failed("linkedin: author_urn is not configured"), nil
	}

	var resp shareResponse
	if err := p.client.DoJSON(ctx, http.MethodPost, "/v2/ugcPosts", p.buildShare(content), &resp); err != nil {
		p.logger.Warn("Failed to share on LinkedIn", zap.String("job_id", opts.JobID), zap.Error(err))
		return publisher.Failed(publisher.DescribeError(platformName, err)), nil
	}

	if resp.ID == "" {
		return publisher.Failed("linkedin: response did not include a share id"), nil
	}

	p.logger.Info("LinkedIn share created", zap.String("job_id", opts.JobID), zap.String("share_id", resp.ID))

	return &publisher.PublishResult{
		Success:     true,
		PublishID:   resp.ID,
		URL:         fmt.Sprintf("https://www.linkedin.com/feed/update/%s", resp.ID),
		PublishedAt: time.Now(),
	}, nil
}

func (p *LinkedInPublisher) HealthCheck(ctx context.Context) publisher.HealthStatus {
	return p.client.Probe(ctx, http.MethodGet, "/v2/me")
}
