package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"roomlens/internal/models"
	"roomlens/internal/service"
)

type resourceResponse struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Status          string    `json:"status"`
	Format          string    `json:"format"`
	SizeBytes       int64     `json:"sizeBytes"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	IsDuplicate     bool      `json:"isDuplicate,omitempty"`
	SourceID        *string   `json:"sourceResourceId,omitempty"`
	FixCount        int       `json:"fixCount"`
	FailReason      *string   `json:"failReason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toResourceResponse(res models.Resource) resourceResponse {
	return resourceResponse{
		ID:              res.ID,
		Kind:            string(res.Kind),
		Status:          string(res.Status),
		Format:          res.Format,
		SizeBytes:       res.SizeBytes,
		DurationSeconds: res.DurationSeconds,
		SourceID:        res.SourceResourceID,
		FixCount:        res.FixCount,
		FailReason:      res.FailReason,
		CreatedAt:       res.CreatedAt,
	}
}

func (h HandlerSet) UploadMedia(c *gin.Context) {
	user, ok := middlewareUser(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	defer file.Close()

	result, err := h.uploadService.Upload(c.Request.Context(), service.UploadInput{
		OwnerID: user.ID,
		File:    file,
		Header:  header,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := toResourceResponse(result.Resource)
	resp.IsDuplicate = result.IsDuplicate
	c.JSON(http.StatusOK, gin.H{"resource": resp})
}

func (h HandlerSet) ListResources(c *gin.Context) {
	user, ok := middlewareUser(c)
	if !ok {
		return
	}

	limit := queryInt(c, "limit", 20, 100)
	offset := queryInt(c, "offset", 0, 1<<30)

	resources, err := h.resources.ListByOwner(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]resourceResponse, 0, len(resources))
	for _, res := range resources {
		items = append(items, toResourceResponse(res))
	}
	c.JSON(http.StatusOK, gin.H{"resources": items})
}

type analysisResponse struct {
	Overall       int                   `json:"overall"`
	Dimensions    map[string]int        `json:"dimensions"`
	Problems      []models.Problem      `json:"problems"`
	ProblemFrames []models.ProblemFrame `json:"problemFrames,omitempty"`
	Summary       string                `json:"summary"`
	CopiedFrom    *string               `json:"copiedFrom,omitempty"`
	AnalyzedAt    time.Time             `json:"analyzedAt"`
}

func (h HandlerSet) GetResource(c *gin.Context) {
	user, ok := middlewareUser(c)
	if !ok {
		return
	}

	res, err := h.resources.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if res.OwnerID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	body := gin.H{"resource": toResourceResponse(res)}
	if res.Status == models.ResourceStatusCompleted {
		if analysis, err := h.analyses.GetByResource(c.Request.Context(), res.ID); err == nil {
			body["analysis"] = analysisResponse{
				Overall:       analysis.Overall,
				Dimensions:    analysis.Dimensions,
				Problems:      analysis.Problems,
				ProblemFrames: analysis.ProblemFrames,
				Summary:       analysis.Summary,
				CopiedFrom:    analysis.CopiedFrom,
				AnalyzedAt:    analysis.AnalyzedAt,
			}
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h HandlerSet) DeleteResource(c *gin.Context) {
	user, ok := middlewareUser(c)
	if !ok {
		return
	}

	if err := h.uploadService.Delete(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func queryInt(c *gin.Context, name string, fallback, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}
