package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/freshnest/booking-api/internal/service"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
	"github.com/freshnest/booking-api/pkg/response"
)

// ClientHandler exposes client directory endpoints.
type ClientHandler struct {
	service *service.ClientService
}

// NewClientHandler constructs a client handler.
func NewClientHandler(svc *service.ClientService) *ClientHandler {
	return &ClientHandler{service: svc}
}

// List godoc
// @Summary List clients
// @Tags Clients
// @Produce json
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /clients [get]
func (h *ClientHandler) List(c *gin.Context) {
	search := strings.TrimSpace(c.Query("search"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	clients, pagination, err := h.service.List(c.Request.Context(), search, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, clients, pagination)
}

// Get godoc
// @Summary Get client detail
// @Tags Clients
// @Produce json
// @Param id path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /clients/{id} [get]
func (h *ClientHandler) Get(c *gin.Context) {
	client, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, client, nil)
}

// Create godoc
// @Summary Register a client
// @Tags Clients
// @Accept json
// @Produce json
// @Param payload body service.CreateClientRequest true "Client payload"
// @Success 201 {object} response.Envelope
// @Router /clients [post]
func (h *ClientHandler) Create(c *gin.Context) {
	var req service.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid client payload"))
		return
	}
	client, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, client)
}
