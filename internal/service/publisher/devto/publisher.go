package devto

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/service/publisher"
	"github.com/ifuryst/syndicate/pkg/util"
)

const (
	platformName   = "devto"
	defaultBaseURL = "https://dev.to"
	maxTags        = 4
)

// DevToPublisher creates articles through the Forem API
type DevToPublisher struct {
	logger *zap.Logger
	client *publisher.APIClient
}

type articleRequest struct {
	Article article `json:"article"`
}

type article struct {
	Title        string   `json:"title"`
	BodyMarkdown string   `json:"body_markdown"`
	Published    bool     `json:"published"`
	Tags         []string `json:"tags,omitempty"`
	CanonicalURL string   `json:"canonical_url,omitempty"`
	Description  string   `json:"description,omitempty"`
	MainImage    string   `json:"main_image,omitempty"`
}

type articleResponse struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

func NewDevToPublisher(cfg config.DevToConfig, timeout time.Duration, logger *zap.Logger) *DevToPublisher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &DevToPublisher{
		logger: logger,
		client: publisher.NewAPIClient(baseURL, timeout, map[string]string{
			"api-key": cfg.APIKey,
		}),
	}
}

func (p *DevToPublisher) Platform() string    { return platformName }
func (p *DevToPublisher) DisplayName() string { return "DEV Community" }
func (p *DevToPublisher) Category() string    { return "Developer Community" }

func (p *DevToPublisher) Capabilities() publisher.Capabilities {
	return publisher.Capabilities{
		MaxContentLength:   0,
		SupportsImages:     true,
		SupportsVideo:      true,
		SupportsHashtags:   true,
		SupportsMentions:   true,
		SupportsScheduling: false,
	}
}

func (p *DevToPublisher) RateLimits() publisher.RateLimits {
	return publisher.RateLimits{RequestsPerHour: 30, RequestsPerDay: 300}
}

// NormalizeTags keeps the first four tags as lowercase alphanumerics, which is all Forem accepts.
func NormalizeTags(tags []string) []string {
	var normalized []string
	seen := make(map[string]bool)

	for _, tag := range tags {
		tag = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
		if len(normalized) == maxTags {
			break
		}
	}

	return normalized
}

func (p *DevToPublisher) Publish(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error) {
	req := articleRequest{Article: article{
		Title:        content.Title,
		BodyMarkdown: content.Content,
		Published:    !opts.Draft,
		Tags:         NormalizeTags(content.Tags),
		CanonicalURL: content.CanonicalURL,
		Description:  util.Truncate(content.Summary, 150),
		MainImage:    content.CoverImage,
	}}

	var resp articleResponse
	if err := p.client.DoJSON(ctx, http.MethodPost, "/api/articles", req, &resp); err != nil {
		p.logger.Warn("Failed to create DEV article", zap.String("job_id", opts.JobID), zap.Error(err))
		return publisher.Failed(publisher.DescribeError(platformName, err)), nil
	}

	p.logger.Info("DEV article created", zap.String("job_id", opts.JobID), zap.Int("article_id", resp.ID))

	return &publisher.PublishResult{
		Success:     true,
		PublishID:   strconv.Itoa(resp.ID),
		URL:         resp.URL,
		PublishedAt: time.Now(),
	}, nil
}

func (p *DevToPublisher) HealthCheck(ctx context.Context) publisher.HealthStatus {
	return p.client.Probe(ctx, http.MethodGet, "/api/users/me")
}
