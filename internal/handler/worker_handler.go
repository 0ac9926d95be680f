package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/service"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
	"github.com/freshnest/booking-api/pkg/response"
)

// WorkerHandler exposes worker roster management endpoints.
type WorkerHandler struct {
	service *service.WorkerService
}

// NewWorkerHandler constructs a worker handler.
func NewWorkerHandler(svc *service.WorkerService) *WorkerHandler {
	return &WorkerHandler{service: svc}
}

// List godoc
// @Summary List workers
// @Tags Workers
// @Produce json
// @Param search query string false "Search keyword"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /workers [get]
func (h *WorkerHandler) List(c *gin.Context) {
	var filter models.WorkerFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &active
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	workers, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, workers, pagination)
}

// Get godoc
// @Summary Get worker detail
// @Tags Workers
// @Produce json
// @Param id path string true "Worker ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /workers/{id} [get]
func (h *WorkerHandler) Get(c *gin.Context) {
	worker, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, worker, nil)
}

// Create godoc
// @Summary Onboard a worker
// @Tags Workers
// @Accept json
// @Produce json
// @Param payload body service.CreateWorkerRequest true "Worker payload"
// @Success 201 {object} response.Envelope
// @Router /workers [post]
func (h *WorkerHandler) Create(c *gin.Context) {
	var req service.CreateWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid worker payload"))
		return
	}
	worker, err := h.service.Create(c.Request.Context(), req, actorID(c), c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, worker)
}

// UpdateSchedule godoc
// @Summary Replace a worker's weekly schedule and blackout dates
// @Tags Workers
// @Accept json
// @Produce json
// @Param id path string true "Worker ID"
// @Param payload body service.UpdateWorkerScheduleRequest true "Schedule payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /workers/{id}/schedule [put]
func (h *WorkerHandler) UpdateSchedule(c *gin.Context) {
	var req service.UpdateWorkerScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule payload"))
		return
	}
	worker, err := h.service.UpdateSchedule(c.Request.Context(), c.Param("id"), req, actorID(c), c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, worker, nil)
}

// SetPriorities godoc
// @Summary Reorder worker assignment preference
// @Description Applies the full ordering; index zero is most preferred
// @Tags Workers
// @Accept json
// @Produce json
// @Param payload body service.SetWorkerPriorityRequest true "Ordered worker IDs"
// @Success 204
// @Router /workers/priorities [put]
func (h *WorkerHandler) SetPriorities(c *gin.Context) {
	var req service.SetWorkerPriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid priority payload"))
		return
	}
	if err := h.service.SetPriorities(c.Request.Context(), req, actorID(c), c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Deactivate godoc
// @Summary Deactivate a worker
// @Tags Workers
// @Produce json
// @Param id path string true "Worker ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /workers/{id} [delete]
func (h *WorkerHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), c.Param("id"), actorID(c), c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListJobs godoc
// @Summary List a worker's jobs
// @Tags Workers
// @Produce json
// @Param id path string true "Worker ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /workers/{id}/jobs [get]
func (h *WorkerHandler) ListJobs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	jobs, pagination, err := h.service.ListJobs(c.Request.Context(), c.Param("id"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, pagination)
}
