package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/service"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
	"github.com/freshnest/booking-api/pkg/response"
)

// BookingHandler exposes booking creation and lifecycle endpoints.
type BookingHandler struct {
	bookings   *service.BookingService
	reschedule *service.RescheduleService
}

// NewBookingHandler constructs a booking handler.
func NewBookingHandler(bookings *service.BookingService, reschedule *service.RescheduleService) *BookingHandler {
	return &BookingHandler{bookings: bookings, reschedule: reschedule}
}

// Create godoc
// @Summary Book a cleaning
// @Description Validates the request against booking policy, elects a worker, and commits the job
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body service.CreateBookingRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid booking payload"))
		return
	}
	// Clients may only book for themselves.
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleClient {
		req.ClientID = claims.SubjectID
	}

	job, err := h.bookings.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, job)
}

// Get godoc
// @Summary Get booking detail
// @Tags Bookings
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bookings/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	job, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// List godoc
// @Summary List bookings for a client
// @Tags Bookings
// @Produce json
// @Param client_id query string false "Client ID (operators only; clients see their own)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	clientID := c.Query("client_id")
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleClient {
		clientID = claims.SubjectID
	}
	if clientID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "client_id query parameter is required"))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	jobs, pagination, err := h.bookings.ListByClient(c.Request.Context(), clientID, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, pagination)
}

// Eligibility godoc
// @Summary Check reschedule and cancel eligibility
// @Tags Bookings
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bookings/{id}/eligibility [get]
func (h *BookingHandler) Eligibility(c *gin.Context) {
	eligibility, err := h.reschedule.Eligibility(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, eligibility, nil)
}

// Reschedule godoc
// @Summary Reschedule a booking
// @Description Moves a recurring booking to a new time when enough notice remains
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param payload body service.RescheduleRequest true "New date and time"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /bookings/{id}/reschedule [put]
func (h *BookingHandler) Reschedule(c *gin.Context) {
	var req service.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reschedule payload"))
		return
	}
	job, err := h.reschedule.Reschedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Cancel godoc
// @Summary Cancel a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) Cancel(c *gin.Context) {
	job, err := h.reschedule.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}
