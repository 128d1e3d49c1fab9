package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-lab-harvester/internal/aggregator"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage"
)

// Handler handles API requests
type Handler struct {
	storage    storage.Storage
	aggregator aggregator.Aggregator
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage, agg aggregator.Aggregator) *Handler {
	return &Handler{
		storage:    store,
		aggregator: agg,
	}
}

// GetRuns returns every harvest run, newest first
// GET /api/v1/runs
func (h *Handler) GetRuns(c *gin.Context) {
	runs, err := h.storage.GetRuns(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRun returns a single harvest run
// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.storage.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// GetRepositories returns the repository snapshots collected by a run
// GET /api/v1/runs/:id/repositories
func (h *Handler) GetRepositories(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.storage.GetRun(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	snaps, err := h.storage.GetSnapshots(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snaps,
	})
}

// GetPullRequests returns the pull request records collected by a run
// GET /api/v1/runs/:id/pull-requests
func (h *Handler) GetPullRequests(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.storage.GetRun(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	records, err := h.storage.GetPullRequests(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": records,
	})
}

// GetQuestions returns the research-question results of a run
// GET /api/v1/runs/:id/questions
func (h *Handler) GetQuestions(c *gin.Context) {
	results, err := h.aggregator.Questions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": results,
	})
}

// GetLanguages returns the popular-language report of a repository run
// GET /api/v1/runs/:id/languages
func (h *Handler) GetLanguages(c *gin.Context) {
	report, err := h.aggregator.Languages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// respondError writes err as a JSON error body with the status matching its code
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(statusFor(appErr.Code), gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}

func statusFor(code apperrors.ErrCode) int {
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeBadRequest:
		return http.StatusBadRequest
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeSourceUnavailable, apperrors.ErrCodeRequestFailed, apperrors.ErrCodeQuery,
		apperrors.ErrCodeMalformedResponse, apperrors.ErrCodeTransientNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
