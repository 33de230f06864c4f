package service

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
	"github.com/ifuryst/syndicate/internal/service/publisher"
	"github.com/ifuryst/syndicate/internal/service/publisher/devto"
	"github.com/ifuryst/syndicate/internal/service/publisher/facebook"
	"github.com/ifuryst/syndicate/internal/service/publisher/hashnode"
	"github.com/ifuryst/syndicate/internal/service/publisher/linkedin"
	"github.com/ifuryst/syndicate/internal/service/publisher/medium"
	"github.com/ifuryst/syndicate/internal/service/publisher/substack"
	"github.com/ifuryst/syndicate/internal/service/publisher/twitter"
)

// BuildAdapters creates an adapter for every enabled platform that has credentials.
func BuildAdapters(cfg *config.Config, logger *zap.Logger) []publisher.Adapter {
	timeout := config.Duration(cfg.Dispatch.PublishTimeout)
	platforms := cfg.Platforms

	var adapters []publisher.Adapter
	add := func(name string, enabled bool, missing []string, build func() publisher.Adapter) {
		if !enabled {
			return
		}
		if len(missing) > 0 {
			logger.Warn("Platform enabled but not configured, skipping",
				zap.String("platform", name),
				zap.Strings("missing", missing))
			return
		}
		adapters = append(adapters, build())
	}

	add("linkedin", platforms.LinkedIn.Enabled,
		missingFields(map[string]string{"access_token": platforms.LinkedIn.AccessToken, "author_urn": platforms.LinkedIn.AuthorURN}),
		func() publisher.Adapter {
			return linkedin.NewLinkedInPublisher(platforms.LinkedIn, timeout, logger.Named("linkedin"))
		})
	add("medium", platforms.Medium.Enabled,
		missingFields(map[string]string{"token": platforms.Medium.Token, "author_id": platforms.Medium.AuthorID}),
		func() publisher.Adapter {
			return medium.NewMediumPublisher(platforms.Medium, timeout, logger.Named("medium"))
		})
	add("twitter", platforms.Twitter.Enabled,
		missingFields(map[string]string{"bearer_token": platforms.Twitter.BearerToken}),
		func() publisher.Adapter {
			return twitter.NewTwitterPublisher(platforms.Twitter, timeout, logger.Named("twitter"))
		})
	add("facebook", platforms.Facebook.Enabled,
		missingFields(map[string]string{"page_id": platforms.Facebook.PageID, "access_token": platforms.Facebook.AccessToken}),
		func() publisher.Adapter {
			return facebook.NewFacebookPublisher(platforms.Facebook, timeout, logger.Named("facebook"))
		})
	add("devto", platforms.DevTo.Enabled,
		missingFields(map[string]string{"api_key": platforms.DevTo.APIKey}),
		func() publisher.Adapter {
			return devto.NewDevToPublisher(platforms.DevTo, timeout, logger.Named("devto"))
		})
	add("hashnode", platforms.Hashnode.Enabled,
		missingFields(map[string]string{"token": platforms.Hashnode.Token, "publication_id": platforms.Hashnode.PublicationID}),
		func() publisher.Adapter {
			return hashnode.NewHashnodePublisher(platforms.Hashnode, timeout, logger.Named("hashnode"))
		})
	add("substack", platforms.Substack.Enabled,
		missingFields(map[string]string{"domain": platforms.Substack.Domain, "cookie": platforms.Substack.Cookie}),
		func() publisher.Adapter {
			return substack.NewSubstackPublisher(platforms.Substack, timeout, logger.Named("substack"))
		})

	return adapters
}

// NewPlatformRegistry builds the registry from configuration.
func NewPlatformRegistry(cfg *config.Config, logger *zap.Logger) (*publisher.Registry, error) {
	adapters := BuildAdapters(cfg, logger)
	if len(adapters) == 0 {
		logger.Warn("No platforms configured, every distribution request will be rejected")
	}
	return publisher.NewRegistry(logger.Named("registry"), config.Duration(cfg.Dispatch.HealthTimeout), adapters...)
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for name, value := range fields {
		if value == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
