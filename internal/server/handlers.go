package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/models"
	"github.com/ifuryst/syndicate/internal/service/distribution"
	"github.com/ifuryst/syndicate/internal/service/publisher"
)

type distributeRequest struct {
	PostID       string   `json:"post_id"`
	Platforms    []string `json:"platforms"`
	ScheduledFor string   `json:"scheduled_for"`
	RequestedBy  string   `json:"requested_by"`
}

func (s *Server) handleDistribute(c *gin.Context) {
	var req distributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	var scheduledFor *time.Time
	if req.ScheduledFor != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_for must be an RFC3339 timestamp"})
			return
		}
		scheduledFor = &t
	}

	job, err := s.Engine.Distribute(c.Request.Context(), distribution.DistributeRequest{
		PostID:       req.PostID,
		Platforms:    req.Platforms,
		ScheduledFor: scheduledFor,
		RequestedBy:  req.RequestedBy,
	})
	if err != nil {
		s.writeError(c, err, "Failed to create distribution job")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.Engine.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to get distribution job")
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleListJobs(c *gin.Context) {
	filter := distribution.JobFilter{
		PostID:      c.Query("post_id"),
		RequestedBy: c.Query("requested_by"),
	}

	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseJobStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status: " + raw})
			return
		}
		filter.Status = status
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	jobs, err := s.Engine.ListJobs(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err, "Failed to list distribution jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.DistributionJob{}
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

type bulkStatusRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleBulkStatus(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	jobs, err := s.Engine.BulkJobStatus(c.Request.Context(), req.IDs)
	if errors.Is(err, distribution.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.writeError(c, err, "Failed to get distribution jobs")
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleJobStatistics(c *gin.Context) {
	stats, err := s.Engine.Statistics(c.Request.Context())
	if err != nil {
		s.writeError(c, err, "Failed to get job statistics")
		return
	}

	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

func (s *Server) handleRetry(c *gin.Context) {
	job, err := s.Engine.RetryFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to retry distribution job")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleCancel(c *gin.Context) {
	cancelled, err := s.Engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to cancel distribution job")
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{
			"cancelled": false,
			"error":     "Job has already started or finished",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) handleListPlatforms(c *gin.Context) {
	adapters := s.Registry.All()
	if category := c.Query("category"); category != "" {
		adapters = s.Registry.ByCategory(category)
	}
	if feature := c.Query("feature"); feature != "" {
		adapters = publisher.FilterByFeature(adapters, feature)
	}

	c.JSON(http.StatusOK, gin.H{
		"platforms":  publisher.Describe(adapters),
		"statistics": s.Registry.Statistics(),
	})
}

func (s *Server) handlePlatformHealth(c *gin.Context) {
	var platforms []string
	for _, name := range strings.Split(c.Query("platforms"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			platforms = append(platforms, name)
		}
	}

	health := s.Registry.BatchHealthCheck(c.Request.Context(), platforms)

	c.JSON(http.StatusOK, gin.H{
		"health":  health,
		"summary": publisher.Summarize(health),
	})
}

func (s *Server) handleGetPlatform(c *gin.Context) {
	adapter, ok := s.Registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Platform not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"platform": publisher.Describe([]publisher.Adapter{adapter})[0],
		"health":   s.Registry.HealthCheck(c.Request.Context(), adapter),
	})
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	if s.Monitoring == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Monitoring is disabled"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	errorLogs, err := s.Monitoring.GetRecentErrors(c.Request.Context(), limit)
	if err != nil {
		s.Logger.Error("Failed to get recent errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recent errors"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"errors": errorLogs})
}

// writeError maps engine errors to status codes. Anything unexpected is logged as a 500.
func (s *Server) writeError(c *gin.Context, err error, message string) {
	var validationErr *distribution.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "field": validationErr.Field})
	case errors.Is(err, distribution.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Distribution job not found"})
	case errors.Is(err, distribution.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, distribution.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service is shutting down"})
	default:
		s.Logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
