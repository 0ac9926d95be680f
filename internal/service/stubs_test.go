package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/repository"
)

type policyStub struct {
	policy models.Policy
	err    error
}

func (s policyStub) Current(context.Context) (models.Policy, error) {
	return s.policy, s.err
}

type workerListStub struct {
	workers []models.Worker
	err     error
}

func (s workerListStub) ListActive(context.Context) ([]models.Worker, error) {
	return s.workers, s.err
}

type workerFindStub struct {
	workers map[string]*models.Worker
}

func (s workerFindStub) FindByID(_ context.Context, id string) (*models.Worker, error) {
	worker, ok := s.workers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return worker, nil
}

type clientFindStub struct {
	clients map[string]*models.Client
}

func (s clientFindStub) FindByID(_ context.Context, id string) (*models.Client, error) {
	client, ok := s.clients[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return client, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) Publish(eventType string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

type metricsRecorder struct {
	mu        sync.Mutex
	created   int
	assigned  int
	conflicts int
	claimsWon int
	claimsLos int
}

func (r *metricsRecorder) BookingCreated(assigned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
	if assigned {
		r.assigned++
	}
}

func (r *metricsRecorder) SlotConflictRejected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

func (r *metricsRecorder) ClaimResolved(won bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if won {
		r.claimsWon++
	} else {
		r.claimsLos++
	}
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (s *auditStub) Create(_ context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

// memoryLedger is an in-memory double for the job repository that
// replicates its commit-time conflict semantics, including the
// conditional claim.
type memoryLedger struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*models.Job
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{jobs: make(map[string]*models.Job)}
}

func (l *memoryLedger) seed(job models.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if job.ID == "" {
		l.seq++
		job.ID = fmt.Sprintf("job-%d", l.seq)
	}
	copied := job
	l.jobs[copied.ID] = &copied
}

func (l *memoryLedger) get(id string) *models.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	if job, ok := l.jobs[id]; ok {
		copied := *job
		return &copied
	}
	return nil
}

func (l *memoryLedger) FindByID(_ context.Context, id string) (*models.Job, error) {
	if job := l.get(id); job != nil {
		return job, nil
	}
	return nil, sql.ErrNoRows
}

func (l *memoryLedger) List(_ context.Context, filter models.JobFilter) ([]models.Job, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Job
	for _, job := range l.jobs {
		if filter.ClientID != "" && job.ClientID != filter.ClientID {
			continue
		}
		if filter.WorkerID != "" && (job.WorkerID == nil || *job.WorkerID != filter.WorkerID) {
			continue
		}
		if filter.Status != "" && string(job.Status) != filter.Status {
			continue
		}
		out = append(out, *job)
	}
	return out, len(out), nil
}

func (l *memoryLedger) ListBlocking(_ context.Context, workerID string, from, to time.Time) ([]models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Job
	for _, job := range l.jobs {
		if job.WorkerID == nil || *job.WorkerID != workerID || !job.Blocks() {
			continue
		}
		if job.StartTime.Before(to) && job.EndTime.After(from) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (l *memoryLedger) ListDay(_ context.Context, from, to time.Time) ([]models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Job
	for _, job := range l.jobs {
		if !job.StartTime.Before(from) && job.StartTime.Before(to) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (l *memoryLedger) ListOpen(_ context.Context, from time.Time) ([]models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Job
	for _, job := range l.jobs {
		if job.WorkerID == nil && job.Status == models.JobStatusPending && !job.StartTime.Before(from) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (l *memoryLedger) CreateOpen(_ context.Context, job *models.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	job.ID = fmt.Sprintf("job-%d", l.seq)
	job.WorkerID = nil
	job.Status = models.JobStatusPending
	copied := *job
	l.jobs[copied.ID] = &copied
	return nil
}

func (l *memoryLedger) CreateScheduled(_ context.Context, job *models.Job, buffer time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	expanded := job.Span().Expand(buffer)
	for _, existing := range l.jobs {
		if existing.WorkerID == nil || *existing.WorkerID != *job.WorkerID || !existing.Blocks() {
			continue
		}
		if existing.Span().Overlaps(expanded) {
			return repository.ErrSlotTaken
		}
	}
	l.seq++
	job.ID = fmt.Sprintf("job-%d", l.seq)
	job.Status = models.JobStatusScheduled
	copied := *job
	l.jobs[copied.ID] = &copied
	return nil
}

func (l *memoryLedger) ClaimOpen(_ context.Context, jobID, workerID string, buffer time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok || job.WorkerID != nil || job.Status != models.JobStatusPending {
		return repository.ErrClaimLost
	}
	expanded := job.Span().Expand(buffer)
	for _, existing := range l.jobs {
		if existing.ID == jobID || existing.WorkerID == nil || *existing.WorkerID != workerID || !existing.Blocks() {
			continue
		}
		if existing.Span().Overlaps(expanded) {
			return repository.ErrSlotTaken
		}
	}
	id := workerID
	job.WorkerID = &id
	job.Status = models.JobStatusScheduled
	return nil
}

func (l *memoryLedger) Reschedule(_ context.Context, jobID string, start, end time.Time, buffer time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return sql.ErrNoRows
	}
	if job.WorkerID != nil {
		expanded := models.Span{Start: start, End: end}.Expand(buffer)
		for _, existing := range l.jobs {
			if existing.ID == jobID || existing.WorkerID == nil || *existing.WorkerID != *job.WorkerID || !existing.Blocks() {
				continue
			}
			if existing.Span().Overlaps(expanded) {
				return repository.ErrSlotTaken
			}
		}
	}
	job.StartTime = start
	job.EndTime = end
	return nil
}

func (l *memoryLedger) UpdateStatus(_ context.Context, jobID string, to models.JobStatus, from ...models.JobStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return repository.ErrNoRowsUpdated
	}
	for _, origin := range from {
		if job.Status == origin {
			job.Status = to
			return nil
		}
	}
	return repository.ErrNoRowsUpdated
}

func scheduleRaw(t *testing.T, schedule models.WeeklySchedule) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(schedule)
	require.NoError(t, err)
	return raw
}

func blackoutsRaw(t *testing.T, dates []string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(dates)
	require.NoError(t, err)
	return raw
}

func testWorker(t *testing.T, id string, priority int, schedule models.WeeklySchedule, blackouts []string) models.Worker {
	t.Helper()
	return models.Worker{
		ID:                id,
		FullName:          "Worker " + id,
		Email:             id + "@freshnest.test",
		WeeklyScheduleRaw: scheduleRaw(t, schedule),
		BlackoutDatesRaw:  blackoutsRaw(t, blackouts),
		Priority:          priority,
		Active:            true,
	}
}

func fullWeek(window models.TimeWindow) models.WeeklySchedule {
	return models.WeeklySchedule{
		"monday": window, "tuesday": window, "wednesday": window,
		"thursday": window, "friday": window, "saturday": window, "sunday": window,
	}
}
