package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freshnest/booking-api/internal/service"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
	"github.com/freshnest/booking-api/pkg/response"
)

// SettingsHandler exposes booking policy configuration endpoints.
type SettingsHandler struct {
	service *service.PolicyService
}

// NewSettingsHandler constructs a settings handler.
func NewSettingsHandler(svc *service.PolicyService) *SettingsHandler {
	return &SettingsHandler{service: svc}
}

// Get godoc
// @Summary Get the effective booking policy
// @Tags Settings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /settings [get]
func (h *SettingsHandler) Get(c *gin.Context) {
	policy, err := h.service.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Update godoc
// @Summary Update booking policy settings
// @Description Accepts a map of known setting keys to values; unknown keys are rejected
// @Tags Settings
// @Accept json
// @Produce json
// @Param payload body service.UpdatePolicyRequest true "Settings payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /settings [put]
func (h *SettingsHandler) Update(c *gin.Context) {
	var req service.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid settings payload"))
		return
	}
	policy, err := h.service.Update(c.Request.Context(), req, actorID(c), c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}
