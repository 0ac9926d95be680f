package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshnest/booking-api/internal/models"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
)

type dispatchFixture struct {
	svc     *DispatchService
	ledger  *memoryLedger
	events  *eventRecorder
	metrics *metricsRecorder
}

func newDispatchFixture(t *testing.T, workers map[string]*models.Worker) *dispatchFixture {
	t.Helper()
	ledger := newMemoryLedger()
	events := &eventRecorder{}
	metrics := &metricsRecorder{}
	svc := NewDispatchService(ledger, workerFindStub{workers: workers}, policyStub{policy: availabilityPolicy()}, events, metrics, nil)
	svc.now = func() time.Time { return fixedNow }
	return &dispatchFixture{svc: svc, ledger: ledger, events: events, metrics: metrics}
}

func openJob(date time.Time, startHour int) models.Job {
	return models.Job{
		ClientID:    "c1",
		ServiceType: "standard",
		StartTime:   date.Add(time.Duration(startHour) * time.Hour),
		EndTime:     date.Add(time.Duration(startHour+2) * time.Hour),
		Status:      models.JobStatusPending,
	}
}

func dispatchWorker(t *testing.T, id string) *models.Worker {
	t.Helper()
	worker := testWorker(t, id, 0, fullWeek(models.TimeWindow{Start: "08:00", End: "18:00"}), nil)
	return &worker
}

func TestDispatchListOpenSkipsStartedJobs(t *testing.T) {
	fx := newDispatchFixture(t, nil)
	future := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	past := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	fx.ledger.seed(openJob(future, 10))
	fx.ledger.seed(openJob(past, 10))

	jobs, err := fx.svc.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, future.Add(10*time.Hour), jobs[0].StartTime)
}

func TestDispatchClaimSuccess(t *testing.T) {
	fx := newDispatchFixture(t, map[string]*models.Worker{"w1": dispatchWorker(t, "w1")})
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	fx.ledger.seed(models.Job{ID: "job-open", ClientID: "c1", StartTime: date.Add(10 * time.Hour), EndTime: date.Add(12 * time.Hour), Status: models.JobStatusPending})

	result, err := fx.svc.Claim(context.Background(), "job-open", "w1")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	require.NotNil(t, result.Job.WorkerID)
	assert.Equal(t, "w1", *result.Job.WorkerID)
	assert.Equal(t, models.JobStatusScheduled, result.Job.Status)
	assert.Equal(t, []string{"job.claimed"}, fx.events.types())
	assert.Equal(t, 1, fx.metrics.claimsWon)
}

func TestDispatchClaimInactiveWorker(t *testing.T) {
	worker := dispatchWorker(t, "w1")
	worker.Active = false
	fx := newDispatchFixture(t, map[string]*models.Worker{"w1": worker})
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	fx.ledger.seed(models.Job{ID: "job-open", ClientID: "c1", StartTime: date.Add(10 * time.Hour), EndTime: date.Add(12 * time.Hour), Status: models.JobStatusPending})

	_, err := fx.svc.Claim(context.Background(), "job-open", "w1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDispatchClaimAlreadyAssigned(t *testing.T) {
	fx := newDispatchFixture(t, map[string]*models.Worker{"w1": dispatchWorker(t, "w1")})
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	other := "w9"
	fx.ledger.seed(models.Job{ID: "job-taken", ClientID: "c1", WorkerID: &other, StartTime: date.Add(10 * time.Hour), EndTime: date.Add(12 * time.Hour), Status: models.JobStatusScheduled})

	_, err := fx.svc.Claim(context.Background(), "job-taken", "w1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyClaimed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.events.types())
}

func TestDispatchClaimOutsideWorkerWindow(t *testing.T) {
	worker := testWorker(t, "w1", 0, fullWeek(models.TimeWindow{Start: "08:00", End: "11:00"}), nil)
	fx := newDispatchFixture(t, map[string]*models.Worker{"w1": &worker})
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	fx.ledger.seed(models.Job{ID: "job-open", ClientID: "c1", StartTime: date.Add(10 * time.Hour), EndTime: date.Add(12 * time.Hour), Status: models.JobStatusPending})

	_, err := fx.svc.Claim(context.Background(), "job-open", "w1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPolicyRejected.Code, appErrors.FromError(err).Code)
}

func TestDispatchClaimBufferedConflict(t *testing.T) {
	fx := newDispatchFixture(t, map[string]*models.Worker{"w1": dispatchWorker(t, "w1")})
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	workerID := "w1"
	fx.ledger.seed(models.Job{ClientID: "c2", WorkerID: &workerID, StartTime: date.Add(12 * time.Hour), EndTime: date.Add(14 * time.Hour), Status: models.JobStatusScheduled})
	// Ends 12:00, buffer 30 makes it touch the existing 12:00 start.
	fx.ledger.seed(models.Job{ID: "job-open", ClientID: "c1", StartTime: date.Add(10 * time.Hour), EndTime: date.Add(12 * time.Hour), Status: models.JobStatusPending})

	_, err := fx.svc.Claim(context.Background(), "job-open", "w1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPolicyRejected.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, fx.metrics.claimsWon)
}

func TestDispatchClaimUnknownJobAndWorker(t *testing.T) {
	fx := newDispatchFixture(t, map[string]*models.Worker{"w1": dispatchWorker(t, "w1")})

	_, err := fx.svc.Claim(context.Background(), "missing", "w1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = fx.svc.Claim(context.Background(), "missing", "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDispatchClaimConcurrentSingleWinner(t *testing.T) {
	workers := make(map[string]*models.Worker)
	const claimants = 8
	for i := 0; i < claimants; i++ {
		id := fmt.Sprintf("w%d", i)
		workers[id] = dispatchWorker(t, id)
	}
	fx := newDispatchFixture(t, workers)
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	fx.ledger.seed(models.Job{ID: "job-open", ClientID: "c1", StartTime: date.Add(10 * time.Hour), EndTime: date.Add(12 * time.Hour), Status: models.JobStatusPending})

	var wg sync.WaitGroup
	results := make([]*ClaimResult, claimants)
	errs := make([]error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fx.svc.Claim(context.Background(), "job-open", fmt.Sprintf("w%d", i))
		}(i)
	}
	wg.Wait()

	var won int
	for i := range errs {
		if errs[i] == nil {
			require.NotNil(t, results[i])
			assert.True(t, results[i].Accepted)
			won++
			continue
		}
		assert.Equal(t, appErrors.ErrAlreadyClaimed.Code, appErrors.FromError(errs[i]).Code)
	}
	assert.Equal(t, 1, won, "exactly one claimant should win")
	assert.Equal(t, 1, fx.metrics.claimsWon)

	final := fx.ledger.get("job-open")
	require.NotNil(t, final)
	require.NotNil(t, final.WorkerID)
	assert.Equal(t, models.JobStatusScheduled, final.Status)
}

// rivalLedger commits a competing booking for the claimant immediately
// after the eligibility read, before the claim itself runs.
type rivalLedger struct {
	*memoryLedger
	once  sync.Once
	rival func()
}

func (l *rivalLedger) ListBlocking(ctx context.Context, workerID string, from, to time.Time) ([]models.Job, error) {
	jobs, err := l.memoryLedger.ListBlocking(ctx, workerID, from, to)
	l.once.Do(l.rival)
	return jobs, err
}

func TestDispatchClaimRejectsBookingCommittedAfterEligibilityRead(t *testing.T) {
	ledger := newMemoryLedger()
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	ledger.seed(models.Job{ID: "job-open", ClientID: "c1", StartTime: date.Add(10 * time.Hour), EndTime: date.Add(12 * time.Hour), Status: models.JobStatusPending})

	policy := availabilityPolicy()
	wrapped := &rivalLedger{memoryLedger: ledger}
	wrapped.rival = func() {
		workerID := "w1"
		rival := &models.Job{ClientID: "c2", WorkerID: &workerID, ServiceType: "standard", StartTime: date.Add(11 * time.Hour), EndTime: date.Add(13 * time.Hour)}
		require.NoError(t, ledger.CreateScheduled(context.Background(), rival, policy.Buffer()))
	}

	events := &eventRecorder{}
	metrics := &metricsRecorder{}
	svc := NewDispatchService(wrapped, workerFindStub{workers: map[string]*models.Worker{"w1": dispatchWorker(t, "w1")}}, policyStub{policy: policy}, events, metrics, nil)
	svc.now = func() time.Time { return fixedNow }

	_, err := svc.Claim(context.Background(), "job-open", "w1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPolicyRejected.Code, appErrors.FromError(err).Code)

	// The open job stays unassigned; the worker keeps exactly one
	// committed job.
	job := ledger.get("job-open")
	require.NotNil(t, job)
	assert.Nil(t, job.WorkerID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Empty(t, events.types())
	assert.Equal(t, 0, metrics.claimsWon)
	assert.Equal(t, 1, metrics.claimsLos)
}
