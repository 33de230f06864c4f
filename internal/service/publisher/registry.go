package publisher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultHealthTimeout = 5 * time.Second

// Feature filters accepted by ByFeature
const (
	FeatureScheduling = "scheduling"
	FeatureImages     = "images"
	FeatureVideos     = "videos"
	FeatureHashtags   = "hashtags"
	FeatureMentions   = "mentions"
)

// Registry holds every adapter, keyed by platform id. It is built once at
// startup and only read afterwards.
type Registry struct {
	adapters      map[string]Adapter
	ids           []string
	logger        *zap.Logger
	healthTimeout time.Duration
	probes        singleflight.Group
}

// PlatformInfo is the public description of a registered platform
type PlatformInfo struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Category     string       `json:"category"`
	Capabilities Capabilities `json:"capabilities"`
	RateLimits   RateLimits   `json:"rate_limits"`
}

// Statistics are aggregate counts over the registry
type Statistics struct {
	Total        int            `json:"total"`
	ByCategory   map[string]int `json:"by_category"`
	ByCapability map[string]int `json:"by_capability"`
}

// HealthSummary aggregates a batch health check
type HealthSummary struct {
	TotalPlatforms      int   `json:"total_platforms"`
	OnlinePlatforms     int   `json:"online_platforms"`
	OfflinePlatforms    int   `json:"offline_platforms"`
	HealthPercentage    int   `json:"health_percentage"`
	AverageResponseTime int64 `json:"average_response_time"`
}

func NewRegistry(logger *zap.Logger, healthTimeout time.Duration, adapters ...Adapter) (*Registry, error) {
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}

	r := &Registry{
		adapters:      make(map[string]Adapter, len(adapters)),
		logger:        logger,
		healthTimeout: healthTimeout,
	}

	for _, adapter := range adapters {
		platform := adapter.Platform()
		if platform == "" {
			return nil, fmt.Errorf("adapter %T has an empty platform id", adapter)
		}
		if _, exists := r.adapters[platform]; exists {
			return nil, fmt.Errorf("adapter for platform %s already registered", platform)
		}
		r.adapters[platform] = adapter
		r.ids = append(r.ids, platform)
		logger.Info("Platform adapter registered",
			zap.String("platform", platform),
			zap.String("category", adapter.Category()))
	}
	sort.Strings(r.ids)

	return r, nil
}

func (r *Registry) Get(platform string) (Adapter, bool) {
	adapter, ok := r.adapters[platform]
	return adapter, ok
}

func (r *Registry) Has(platform string) bool {
	_, ok := r.adapters[platform]
	return ok
}

// All returns every adapter ordered by platform id
func (r *Registry) All() []Adapter {
	adapters := make([]Adapter, 0, len(r.ids))
	for _, id := range r.ids {
		adapters = append(adapters, r.adapters[id])
	}
	return adapters
}

func (r *Registry) ByCategory(category string) []Adapter {
	var adapters []Adapter
	for _, adapter := range r.All() {
		if adapter.Category() == category {
			adapters = append(adapters, adapter)
		}
	}
	return adapters
}

// FilterByFeature keeps adapters supporting feature. Unknown features do not filter.
func FilterByFeature(adapters []Adapter, feature string) []Adapter {
	var filtered []Adapter
	for _, adapter := range adapters {
		if HasFeature(adapter.Capabilities(), feature) {
			filtered = append(filtered, adapter)
		}
	}
	return filtered
}

func (r *Registry) ByFeature(feature string) []Adapter {
	return FilterByFeature(r.All(), feature)
}

// HasFeature reports whether capabilities cover feature.
func HasFeature(c Capabilities, feature string) bool {
	switch feature {
	case FeatureScheduling:
		return c.SupportsScheduling
	case FeatureImages:
		return c.SupportsImages
	case FeatureVideos:
		return c.SupportsVideo
	case FeatureHashtags:
		return c.SupportsHashtags
	case FeatureMentions:
		return c.SupportsMentions
	default:
		return true
	}
}

func Describe(adapters []Adapter) []PlatformInfo {
	infos := make([]PlatformInfo, 0, len(adapters))
	for _, adapter := range adapters {
		infos = append(infos, PlatformInfo{
			Name:         adapter.Platform(),
			DisplayName:  adapter.DisplayName(),
			Category:     adapter.Category(),
			Capabilities: adapter.Capabilities(),
			RateLimits:   adapter.RateLimits(),
		})
	}
	return infos
}

func (r *Registry) Statistics() Statistics {
	stats := Statistics{
		Total:        len(r.adapters),
		ByCategory:   make(map[string]int),
		ByCapability: make(map[string]int),
	}

	for _, adapter := range r.adapters {
		stats.ByCategory[adapter.Category()]++
		caps := adapter.Capabilities()
		for _, feature := range []string{FeatureScheduling, FeatureImages, FeatureVideos, FeatureHashtags, FeatureMentions} {
			if HasFeature(caps, feature) {
				stats.ByCapability[feature]++
			}
		}
	}

	return stats
}

// BatchHealthCheck probes the requested platforms (all when empty) concurrently.
// Every requested id gets an entry; a slow or failing probe only affects its own entry.
func (r *Registry) BatchHealthCheck(ctx context.Context, platforms []string) map[string]HealthStatus {
	if len(platforms) == 0 {
		platforms = r.ids
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]HealthStatus, len(platforms))
	)

	for _, platform := range platforms {
		adapter, ok := r.adapters[platform]
		if !ok {
			mu.Lock()
			results[platform] = HealthStatus{
				IsOnline:    false,
				LastChecked: time.Now(),
				Error:       "unknown platform",
			}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(platform string, adapter Adapter) {
			defer wg.Done()
			status := r.HealthCheck(ctx, adapter)

			mu.Lock()
			results[platform] = status
			mu.Unlock()
		}(platform, adapter)
	}

	wg.Wait()
	return results
}

// HealthCheck probes one adapter. Concurrent callers for the same platform
// share a single in-flight probe.
func (r *Registry) HealthCheck(ctx context.Context, adapter Adapter) HealthStatus {
	platform := adapter.Platform()
	ch := r.probes.DoChan(platform, func() (any, error) {
		return r.runProbe(adapter), nil
	})

	select {
	case res := <-ch:
		return res.Val.(HealthStatus)
	case <-ctx.Done():
		return HealthStatus{
			IsOnline:    false,
			LastChecked: time.Now(),
			Error:       ctx.Err().Error(),
		}
	}
}

func (r *Registry) runProbe(adapter Adapter) HealthStatus {
	ctx, cancel := context.WithTimeout(context.Background(), r.healthTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan HealthStatus, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Health check panicked",
					zap.String("platform", adapter.Platform()),
					zap.Any("panic", rec))
				done <- HealthStatus{
					IsOnline:    false,
					LastChecked: time.Now(),
					Error:       "health check failed",
				}
			}
		}()
		done <- adapter.HealthCheck(ctx)
	}()

	select {
	case status := <-done:
		if status.LastChecked.IsZero() {
			status.LastChecked = time.Now()
		}
		return status
	case <-ctx.Done():
		r.logger.Warn("Health check timed out",
			zap.String("platform", adapter.Platform()),
			zap.Duration("timeout", r.healthTimeout))
		return HealthStatus{
			IsOnline:     false,
			ResponseTime: time.Since(start).Milliseconds(),
			LastChecked:  time.Now(),
			Error:        "health check timed out",
		}
	}
}

// Summarize computes aggregate health figures.
func Summarize(statuses map[string]HealthStatus) HealthSummary {
	summary := HealthSummary{TotalPlatforms: len(statuses)}

	var totalResponse int64
	responses := 0
	for _, status := range statuses {
		if status.IsOnline {
			summary.OnlinePlatforms++
		}
		if status.ResponseTime > 0 {
			totalResponse += status.ResponseTime
			responses++
		}
	}

	summary.OfflinePlatforms = summary.TotalPlatforms - summary.OnlinePlatforms
	if summary.TotalPlatforms > 0 {
		summary.HealthPercentage = int(math.Round(float64(summary.OnlinePlatforms) * 100 / float64(summary.TotalPlatforms)))
	}
	if responses > 0 {
		summary.AverageResponseTime = totalResponse / int64(responses)
	}

	return summary
}
