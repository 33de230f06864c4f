// Package publishertest provides a scriptable adapter for tests.
package publishertest

import (
	"context"
	"sync"
	"time"

	"github.com/ifuryst/syndicate/internal/service/publisher"
)

// Adapter is a fake publisher.Adapter. PublishFunc and HealthFunc default to success.
type Adapter struct {
	Name         string
	DisplayLabel string
	CategoryName string
	Caps         publisher.Capabilities
	Limits       publisher.RateLimits

	PublishFunc func(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error)
	HealthFunc  func(ctx context.Context) publisher.HealthStatus

	mu     sync.Mutex
	calls  []publisher.Content
	jobIDs []string
	probes int
}

func New(name string) *Adapter {
	return &Adapter{Name: name, DisplayLabel: name, CategoryName: "Social Media"}
}

// Succeeding returns an adapter whose publishes succeed with a predictable URL.
func Succeeding(name string) *Adapter {
	return New(name)
}

// Failing returns an adapter whose publishes fail with msg.
func Failing(name, msg string) *Adapter {
	a := New(name)
	a.PublishFunc = func(context.Context, publisher.Content, publisher.PublishOptions) (*publisher.PublishResult, error) {
		return publisher.Failed(msg), nil
	}
	return a
}

func (a *Adapter) Platform() string                     { return a.Name }
func (a *Adapter) DisplayName() string                  { return a.DisplayLabel }
func (a *Adapter) Category() string                     { return a.CategoryName }
func (a *Adapter) Capabilities() publisher.Capabilities { return a.Caps }
func (a *Adapter) RateLimits() publisher.RateLimits     { return a.Limits }

func (a *Adapter) Publish(ctx context.Context, content publisher.Content, opts publisher.PublishOptions) (*publisher.PublishResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, content)
	a.jobIDs = append(a.jobIDs, opts.JobID)
	a.mu.Unlock()

	if a.PublishFunc != nil {
		return a.PublishFunc(ctx, content, opts)
	}
	return &publisher.PublishResult{
		Success:     true,
		PublishID:   a.Name + "-1",
		URL:         "https://" + a.Name + ".example/" + content.ID,
		PublishedAt: time.Now(),
	}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) publisher.HealthStatus {
	a.mu.Lock()
	a.probes++
	a.mu.Unlock()

	if a.HealthFunc != nil {
		return a.HealthFunc(ctx)
	}
	return publisher.HealthStatus{IsOnline: true, ResponseTime: 10, LastChecked: time.Now()}
}

// Calls returns the content of every Publish call so far.
func (a *Adapter) Calls() []publisher.Content {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]publisher.Content(nil), a.calls...)
}

// JobIDs returns the job id passed with every Publish call so far.
func (a *Adapter) JobIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.jobIDs...)
}

func (a *Adapter) Probes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.probes
}
