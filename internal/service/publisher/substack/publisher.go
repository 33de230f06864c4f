package substack

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/service/publisher"
)

const platformName = "substack"

// SubstackPublisher handles publishing to Substack through the web app's draft API.
// Auth is the logged-in session cookie.
type SubstackPublisher struct {
	logger      *zap.Logger
	transformer *SubstackTransformer
	client      *publisher.APIClient
	domain      string
}

type SubstackCreateDraftRequest struct {
	DraftTitle     string           `json:"draft_title"`
	DraftSubtitle  string           `json:"draft_subtitle"`
	DraftBody      string           `json:"draft_body"`
	SectionChosen  bool             `json:"section_chosen"`
	DraftSectionID *int             `json:"draft_section_id"`
	DraftBylines   []SubstackByline `json:"draft_bylines"`
	Audience       string           `json:"audience"`
}

type SubstackByline struct {
	ID      int  `json:"id"`
	IsGuest bool `json:"is_guest"`
}

type SubstackDraftResponse struct {
	ID            int    `json:"id"`
	UUID          string `json:"uuid"`
	DraftTitle    string `json:"draft_title"`
	IsPublished   bool   `json:"is_published"`
	PublicationID int    `json:"publication_id"`
	Slug          string `json:"slug"`
}

type SubstackPublishRequest struct {
	Send               bool `json:"send"`
	ShareAutomatically bool `json:"share_automatically"`
}

type SubstackPublishResponse struct {
	ID           int    `json:"id"`
	Slug         string `json:"slug"`
	CanonicalURL string `json:"canonical_url"`
}

func NewSubstackPublisher(cfg config.SubstackConfig, timeout time.Duration, logger *zap.Logger) *SubstackPublisher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s", cfg.Domain)
	}

	return &SubstackPublisher{
		logger:      logger,
		transformer: NewSubstackTransformer(),
		domain:      cfg.Domain,
		client: publisher.NewAPIClient(baseURL, timeout, map[string]string{
			"Cookie":  cfg.Cookie,
			"Origin":  fmt.Sprintf("https://%s", cfg.Domain),
			"Referer": fmt.Sprintf("https://%s/publish/post", cfg.Domain),
		}),
	}
}

func (p *SubstackPublisher) Platform() string    { return platformName }
func (p *SubstackPublisher) DisplayName() string { return "Substack" }
func (p *SubstackPublisher) Category() string    { return "Publishing Platform" }

func (p *SubstackPublisher) Capabilities() publisher.Capabilities {
	return publisher.Capabilities{
		MaxContentLength:   0,
		SupportsImages:     true,
		SupportsVideo:      false,
		SupportsHashtags:   false,
		SupportsMentions:   false,
		SupportsScheduling: true,
	}
}

func (p *SubstackPublisher) RateLimits() publisher.RateLimits {
	return publisher.RateLimits{RequestsPerHour: 30, RequestsPerDay: 100}
}

func (p *SubstackPublisher) Publish(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error) {
	body, err := p.transformer.Transform(content.Content)
	if err != nil {
		return publisher.Failed(fmt.Sprintf("substack: %v", err)), nil
	}

	p.logger.Debug("Creating Substack draft",
		zap.String("job_id", opts.JobID),
		zap.String("title", content.Title),
		zap.Int("images", len(p.transformer.ExtractImages(content.Content))))

	var draft SubstackDraftResponse
	err = p.client.DoJSON(ctx, http.MethodPost, "/api/v1/drafts", SubstackCreateDraftRequest{
		DraftTitle:    content.Title,
		DraftSubtitle: content.Summary,
		DraftBody:     body,
		DraftBylines:  []SubstackByline{},
		Audience:      "everyone",
	}, &draft)
	if err != nil {
		p.logger.Warn("Failed to create Substack draft", zap.String("job_id", opts.JobID), zap.Error(err))
		return publisher.Failed(publisher.DescribeError(platformName, err)), nil
	}

	draftID := strconv.Itoa(draft.ID)
	metadata := map[string]string{
		"draft_id": draftID,
		"uuid":     draft.UUID,
	}

	if opts.Draft {
		metadata["draft_status"] = "saved"
		p.logger.Info("Substack draft saved", zap.String("job_id", opts.JobID), zap.String("draft_id", draftID))
		return &publisher.PublishResult{
			Success:     true,
			PublishID:   draftID,
			URL:         fmt.Sprintf("https://%s/publish/post/%s", p.domain, draftID),
			Metadata:    metadata,
			PublishedAt: time.Now(),
		}, nil
	}

	var published SubstackPublishResponse
	err = p.client.DoJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/drafts/%d/publish", draft.ID),
		SubstackPublishRequest{}, &published)
	if err != nil {
		// The draft exists but is not live, so the platform did not receive the post.
		p.logger.Warn("Failed to publish Substack draft",
			zap.String("job_id", opts.JobID),
			zap.String("draft_id", draftID),
			zap.Error(err))
		result := publisher.Failed(publisher.DescribeError(platformName, err))
		result.Metadata = metadata
		return result, nil
	}

	url := published.CanonicalURL
	if url == "" {
		slug := published.Slug
		if slug == "" {
			slug = draft.Slug
		}
		url = fmt.Sprintf("https://%s/p/%s", p.domain, slug)
	}

	p.logger.Info("Substack post published",
		zap.String("job_id", opts.JobID),
		zap.String("draft_id", draftID),
		zap.String("url", url))

	return &publisher.PublishResult{
		Success:     true,
		PublishID:   draftID,
		URL:         url,
		Metadata:    metadata,
		PublishedAt: time.Now(),
	}, nil
}

func (p *SubstackPublisher) HealthCheck(ctx context.Context) publisher.HealthStatus {
	return p.client.Probe(ctx, http.MethodGet, "/api/v1/drafts?offset=0&limit=1")
}
