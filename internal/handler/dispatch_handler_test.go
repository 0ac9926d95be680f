package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshnest/booking-api/internal/middleware"
	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/service"
)

// claimLedger serves one open job and records who claims it.
type claimLedger struct {
	job       *models.Job
	claimedBy string
}

func (l *claimLedger) FindByID(_ context.Context, id string) (*models.Job, error) {
	if l.job == nil || l.job.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *l.job
	return &copied, nil
}

func (l *claimLedger) ListOpen(context.Context, time.Time) ([]models.Job, error) {
	if l.job == nil {
		return nil, nil
	}
	return []models.Job{*l.job}, nil
}

func (l *claimLedger) ListBlocking(context.Context, string, time.Time, time.Time) ([]models.Job, error) {
	return nil, nil
}

func (l *claimLedger) ClaimOpen(_ context.Context, jobID, workerID string, _ time.Duration) error {
	l.claimedBy = workerID
	l.job.WorkerID = &workerID
	l.job.Status = models.JobStatusScheduled
	return nil
}

type workerDirMock struct{ workers map[string]*models.Worker }

func (m workerDirMock) FindByID(_ context.Context, id string) (*models.Worker, error) {
	worker, ok := m.workers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return worker, nil
}

func fullWeekWorker(t *testing.T, id string) *models.Worker {
	t.Helper()
	schedule, err := json.Marshal(models.WeeklySchedule{
		"monday": {Start: "08:00", End: "18:00"}, "tuesday": {Start: "08:00", End: "18:00"},
		"wednesday": {Start: "08:00", End: "18:00"}, "thursday": {Start: "08:00", End: "18:00"},
		"friday": {Start: "08:00", End: "18:00"}, "saturday": {Start: "08:00", End: "18:00"},
		"sunday": {Start: "08:00", End: "18:00"},
	})
	require.NoError(t, err)
	return &models.Worker{
		ID:                id,
		FullName:          "Worker " + id,
		Email:             id + "@freshnest.test",
		WeeklyScheduleRaw: schedule,
		BlackoutDatesRaw:  json.RawMessage(`[]`),
		Active:            true,
	}
}

func newDispatchHandlerFixture(t *testing.T) (*DispatchHandler, *claimLedger) {
	t.Helper()
	start := time.Now().UTC().AddDate(0, 0, 7).Truncate(24 * time.Hour).Add(10 * time.Hour)
	ledger := &claimLedger{job: &models.Job{
		ID:        "job-open",
		ClientID:  "c1",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		Status:    models.JobStatusPending,
	}}
	workers := workerDirMock{workers: map[string]*models.Worker{
		"w-self":  fullWeekWorker(t, "w-self"),
		"w-other": fullWeekWorker(t, "w-other"),
	}}
	svc := service.NewDispatchService(ledger, workers, policyMock{policy: models.DefaultPolicy()}, nil, nil, nil)
	return NewDispatchHandler(svc), ledger
}

func TestDispatchHandlerClaimWorkerClaimsAsSelf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, ledger := newDispatchHandlerFixture(t)

	// The body names another worker; the WORKER role overrides it.
	c, w := newGinContext(http.MethodPost, "/dispatch/job-open/claim", []byte(`{"worker_id":"w-other"}`))
	c.Params = gin.Params{{Key: "id", Value: "job-open"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{AccountID: "acct-1", Role: models.RoleWorker, SubjectID: "w-self"})

	handler.Claim(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "w-self", ledger.claimedBy)
}

func TestDispatchHandlerClaimOperatorNamesWorker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, ledger := newDispatchHandlerFixture(t)

	c, w := newGinContext(http.MethodPost, "/dispatch/job-open/claim", []byte(`{"worker_id":"w-other"}`))
	c.Params = gin.Params{{Key: "id", Value: "job-open"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{AccountID: "acct-1", Role: models.RoleOperator})

	handler.Claim(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "w-other", ledger.claimedBy)
}

func TestDispatchHandlerClaimMissingWorker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newDispatchHandlerFixture(t)

	c, w := newGinContext(http.MethodPost, "/dispatch/job-open/claim", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-open"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{AccountID: "acct-1", Role: models.RoleOperator})

	handler.Claim(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeEnvelope(t, w)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestDispatchHandlerListOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newDispatchHandlerFixture(t)

	c, w := newGinContext(http.MethodGet, "/dispatch/open", nil)
	handler.ListOpen(c)
	require.Equal(t, http.StatusOK, w.Code)
}
