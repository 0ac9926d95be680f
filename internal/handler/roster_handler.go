package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/freshnest/booking-api/internal/service"
	"github.com/freshnest/booking-api/pkg/response"
)

// RosterHandler serves day roster exports for operators.
type RosterHandler struct {
	service *service.RosterService
}

// NewRosterHandler constructs a roster handler.
func NewRosterHandler(svc *service.RosterService) *RosterHandler {
	return &RosterHandler{service: svc}
}

// ExportDay godoc
// @Summary Export the day roster
// @Description Renders every job on a date with worker and client names
// @Tags Roster
// @Produce text/csv
// @Produce application/pdf
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /roster/{date}/export [get]
func (h *RosterHandler) ExportDay(c *gin.Context) {
	format := service.RosterFormat(c.DefaultQuery("format", string(service.RosterFormatCSV)))

	export, err := h.service.ExportDay(c.Request.Context(), c.Param("date"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	c.Data(200, export.ContentType, export.Data)
}
