package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/service"
)

func newAvailabilityHandlerFixture() *AvailabilityHandler {
	svc := service.NewAvailabilityService(policyMock{policy: models.DefaultPolicy()}, workersMock{}, &recordingLedger{}, nil)
	return NewAvailabilityHandler(svc)
}

func TestAvailabilityHandlerRequiresDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAvailabilityHandlerFixture()

	c, w := newGinContext(http.MethodGet, "/availability", nil)
	handler.Day(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeEnvelope(t, w)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestAvailabilityHandlerReturnsGrid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAvailabilityHandlerFixture()

	date := time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
	c, w := newGinContext(http.MethodGet, "/availability?date="+date, nil)
	handler.Day(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAvailabilityHandlerRejectsBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAvailabilityHandlerFixture()

	c, w := newGinContext(http.MethodGet, "/availability?date=10-09-2026", nil)
	handler.Day(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
