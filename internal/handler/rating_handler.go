package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/service"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

// RatingHandler manages post-meeting rating endpoints.
type RatingHandler struct {
	service *service.RatingService
}

// NewRatingHandler constructs handler.
func NewRatingHandler(svc *service.RatingService) *RatingHandler {
	return &RatingHandler{service: svc}
}

// Submit godoc
// @Summary Submit a rating for a completed meeting
// @Tags Ratings
// @Accept json
// @Produce json
// @Param id path string true "Meeting ID"
// @Param payload body service.SubmitRatingRequest true "Rating payload"
// @Success 200 {object} response.Envelope
// @Router /meetings/{id}/rating [post]
func (h *RatingHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SubmitRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	meeting, err := h.service.SubmitRating(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, meeting, nil)
}
