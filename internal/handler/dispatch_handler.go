package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/service"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
	"github.com/freshnest/booking-api/pkg/response"
)

// DispatchHandler exposes the open-job pool and the claim endpoint.
type DispatchHandler struct {
	service *service.DispatchService
}

// NewDispatchHandler constructs a dispatch handler.
func NewDispatchHandler(svc *service.DispatchService) *DispatchHandler {
	return &DispatchHandler{service: svc}
}

// ListOpen godoc
// @Summary List open jobs
// @Description Returns unassigned pending jobs available to claim
// @Tags Dispatch
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dispatch/open [get]
func (h *DispatchHandler) ListOpen(c *gin.Context) {
	jobs, err := h.service.ListOpen(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, nil)
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

// Claim godoc
// @Summary Claim an open job
// @Description First successful claim wins; losers receive ALREADY_CLAIMED
// @Tags Dispatch
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param payload body claimRequest false "Worker ID (operators only; workers claim as themselves)"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /dispatch/{id}/claim [post]
func (h *DispatchHandler) Claim(c *gin.Context) {
	claims := claimsFromContext(c)

	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid claim payload"))
		return
	}

	workerID := req.WorkerID
	if claims != nil && claims.Role == models.RoleWorker {
		workerID = claims.SubjectID
	}
	if workerID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "worker_id is required"))
		return
	}

	result, err := h.service.Claim(c.Request.Context(), c.Param("id"), workerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
