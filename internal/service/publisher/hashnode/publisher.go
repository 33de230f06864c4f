package hashnode

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
	platformName   = "hashnode"
	defaultBaseURL = "https://gql.hashnode.com"
)

const publishPostMutation = `mutation PublishPost($input: PublishPostInput!) {
  publishPost(input: $input) {
    post { id slug url }
  }
}`

const meQuery = `query { me { id } }`

// HashnodePublisher publishes to a Hashnode publication over GraphQL
type HashnodePublisher struct {
	logger        *zap.Logger
	client        *publisher.APIClient
	publicationID string
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type tagInput struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type publishPostInput struct {
	PublicationID      string            `json:"publicationId"`
	Title              string            `json:"title"`
	ContentMarkdown    string            `json:"contentMarkdown"`
	Subtitle           string            `json:"subtitle,omitempty"`
	Tags               []tagInput        `json:"tags"`
	OriginalArticleURL string            `json:"originalArticleURL,omitempty"`
	CoverImageOptions  map[string]string `json:"coverImageOptions,omitempty"`
}

type publishPostResponse struct {
	Data struct {
		PublishPost struct {
			Post struct {
				ID   string `json:"id"`
				Slug string `json:"slug"`
				URL  string `json:"url"`
			} `json:"post"`
		} `json:"publishPost"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

func NewHashnodePublisher(cfg config.HashnodeConfig, timeout time.Duration, logger *zap.Logger) *HashnodePublisher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &HashnodePublisher{
		logger:        logger,
		publicationID: cfg.PublicationID,
		client: publisher.NewAPIClient(baseURL, timeout, map[string]string{
			"Authorization": cfg.Token,
		}),
	}
}

func (p *HashnodePublisher) Platform() string    { return platformName }
func (p *HashnodePublisher) DisplayName() string { return "Hashnode" }
func (p *HashnodePublisher) Category() string    { return "Developer Community" }

func (p *HashnodePublisher) Capabilities() publisher.Capabilities {
	return publisher.Capabilities{
		MaxContentLength:   0,
		SupportsImages:     true,
		SupportsVideo:      true,
		SupportsHashtags:   true,
		SupportsMentions:   true,
		SupportsScheduling: true,
	}
}

func (p *HashnodePublisher) RateLimits() publisher.RateLimits {
	return publisher.RateLimits{RequestsPerHour: 60, RequestsPerDay: 500}
}

func (p *HashnodePublisher) buildInput(content publisher.Content) publishPostInput {
	tags := []tagInput{}
	for _, tag := range content.Tags {
		slug := util.GenerateSlug(tag)
		if slug == "" {
			continue
		}
		tags = append(tags, tagInput{Slug: slug, Name: tag})
	}

	input := publishPostInput{
		PublicationID:      p.publicationID,
		Title:              content.Title,
		ContentMarkdown:    content.Content,
		Subtitle:           util.Truncate(content.Summary, 150),
		Tags:               tags,
		OriginalArticleURL: content.CanonicalURL,
	}
	if content.CoverImage != "" {
		input.CoverImageOptions = map[string]string{"coverImageURL": content.CoverImage}
	}
	return input
}

func (p *HashnodePublisher) Publish(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error) {
	if p.publicationID == "" {
		return publisher.Failed("hashnode: publication_id is not configured"), nil
	}

	req := graphQLRequest{
		Query:     publishPostMutation,
		Variables: map[string]any{"input": p.buildInput(content)},
	}

	var resp publishPostResponse
	if err := p.client.DoJSON(ctx, http.MethodPost, "/", req, &resp); err != nil {
		p.logger.Warn("Failed to publish Hashnode post", zap.String("job_id", opts.JobID), zap.Error(err))
		return publisher.Failed(publisher.DescribeError(platformName, err)), nil
	}

	// GraphQL reports errors with a 200 status
	if len(resp.Errors) > 0 {
		messages := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			messages = append(messages, e.Message)
		}
		return publisher.Failed(fmt.Sprintf("hashnode rejected the content: %s", strings.Join(messages, "; "))), nil
	}

	post := resp.Data.PublishPost.Post
	if post.ID == "" {
		return publisher.Failed("hashnode: response did not include a post id"), nil
	}

	p.logger.Info("Hashnode post published", zap.String("job_id", opts.JobID), zap.String("post_id", post.ID))

	return &publisher.PublishResult{
		Success:   true,
		PublishID: post.ID,
		URL:       post.URL,
		Metadata: map[string]string{
			"slug": post.Slug,
		},
		PublishedAt: time.Now(),
	}, nil
}

func (p *HashnodePublisher) HealthCheck(ctx context.Context) publisher.HealthStatus {
	start := time.Now()
	var resp struct {
		Errors []graphQLError `json:"errors"`
	}
	err := p.client.DoJSON(ctx, http.MethodPost, "/", graphQLRequest{Query: meQuery}, &resp)
	if err == nil && len(resp.Errors) > 0 {
		err = fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	status := publisher.HealthStatus{
		IsOnline:     err == nil,
		ResponseTime: time.Since(start).Milliseconds(),
		LastChecked:  time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
