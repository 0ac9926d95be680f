package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freshnest/booking-api/internal/service"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
	"github.com/freshnest/booking-api/pkg/response"
)

// AvailabilityHandler exposes the slot availability endpoint.
type AvailabilityHandler struct {
	service *service.AvailabilityService
}

// NewAvailabilityHandler constructs an availability handler.
func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// Day godoc
// @Summary Get day availability
// @Description Returns the bookable slot grid for a calendar date
// @Tags Availability
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /availability [get]
func (h *AvailabilityHandler) Day(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date query parameter is required"))
		return
	}
	availability, err := h.service.GetDayAvailability(c.Request.Context(), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, availability, nil)
}
