package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/service"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

// ExportHandler serves schedule exports.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler constructs handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// TutorSchedule godoc
// @Summary Export a tutor's schedule as CSV or PDF
// @Tags Exports
// @Produce application/octet-stream
// @Param id path string true "Tutor ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /tutors/{id}/schedule/export [get]
func (h *ExportHandler) TutorSchedule(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.TutorSchedule(c.Request.Context(), claims, c.Param("id"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(200, result.ContentType, result.Content)
}
