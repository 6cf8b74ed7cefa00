package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roomlens/internal/models"
)

type createFixRequest struct {
	ResourceID string   `json:"resourceId" binding:"required"`
	Scope      string   `json:"scope" binding:"required,oneof=all single multiple"`
	ProblemIDs []string `json:"problemIds"`
}

type fixJobResponse struct {
	ID           string    `json:"id"`
	ResourceID   string    `json:"resourceId"`
	Scope        string    `json:"scope"`
	ProblemIDs   []string  `json:"problemIds"`
	Version      int       `json:"version"`
	Status       string    `json:"status"`
	SourceFixID  *string   `json:"sourceFixId,omitempty"`
	ErrorMessage *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toFixJobResponse(job models.FixJob) fixJobResponse {
	return fixJobResponse{
		ID:           job.ID,
		ResourceID:   job.ResourceID,
		Scope:        string(job.Scope),
		ProblemIDs:   job.ProblemIDs,
		Version:      job.Version,
		Status:       string(job.Status),
		SourceFixID:  job.SourceFixID,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
	}
}

type fixResultResponse struct {
	Items            []models.FixedProblem `json:"items"`
	BeforeOverall    int                   `json:"beforeOverall"`
	AfterOverall     int                   `json:"afterOverall"`
	BeforeDimensions map[string]int        `json:"beforeDimensions"`
	AfterDimensions  map[string]int        `json:"afterDimensions"`
	Summary          string                `json:"summary"`
	CreatedAt        time.Time             `json:"createdAt"`
}

func (h HandlerSet) CreateFix(c *gin.Context) {
	user, ok := middlewareUser(c)
	if !ok {
		return
	}

	var req createFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	job, cached, err := h.fixService.CreateFix(
		c.Request.Context(),
		user.ID,
		req.ResourceID,
		models.FixScope(req.Scope),
		req.ProblemIDs,
	)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"fix":      toFixJobResponse(job),
		"isCached": cached,
	})
}

func (h HandlerSet) GetFix(c *gin.Context) {
	user, ok := middlewareUser(c)
	if !ok {
		return
	}

	job, result, err := h.fixService.GetFix(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	body := gin.H{"fix": toFixJobResponse(job)}
	if result != nil {
		body["result"] = fixResultResponse{
			Items:            result.Items,
			BeforeOverall:    result.BeforeOverall,
			AfterOverall:     result.AfterOverall,
			BeforeDimensions: result.BeforeDimensions,
			AfterDimensions:  result.AfterDimensions,
			Summary:          result.Summary,
			CreatedAt:        result.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, body)
}
