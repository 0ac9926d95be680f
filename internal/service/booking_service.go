package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/repository"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
)

type bookingLedger interface {
	FindByID(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, filter models.JobFilter) ([]models.Job, int, error)
	ListBlocking(ctx context.Context, workerID string, from, to time.Time) ([]models.Job, error)
	CreateScheduled(ctx context.Context, job *models.Job, buffer time.Duration) error
	CreateOpen(ctx context.Context, job *models.Job) error
}

type clientReader interface {
	FindByID(ctx context.Context, id string) (*models.Client, error)
}

type eventPublisher interface {
	Publish(eventType string, payload interface{})
}

type bookingMetrics interface {
	BookingCreated(assigned bool)
	SlotConflictRejected()
}

// CreateBookingRequest describes the payload for booking a cleaning.
// Urgent bookings skip the lead-time gates and enter the open dispatch
// pool directly for claim-based assignment.
type CreateBookingRequest struct {
	ClientID    string `json:"client_id" validate:"required"`
	Date        string `json:"date" validate:"required"`
	Time        string `json:"time" validate:"required"`
	ServiceType string `json:"service_type" validate:"required"`
	Recurrence  string `json:"recurrence" validate:"omitempty,oneof=weekly biweekly monthly"`
	Urgent      bool   `json:"urgent"`
}

// BookingService validates booking requests, elects a worker, and
// commits new jobs to the ledger.
type BookingService struct {
	jobs      bookingLedger
	clients   clientReader
	workers   activeWorkerSource
	policies  policySource
	events    eventPublisher
	metrics   bookingMetrics
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewBookingService instantiates BookingService.
func NewBookingService(
	jobs bookingLedger,
	clients clientReader,
	workers activeWorkerSource,
	policies policySource,
	events eventPublisher,
	metrics bookingMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		jobs:      jobs,
		clients:   clients,
		workers:   workers,
		policies:  policies,
		events:    events,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Create books a cleaning. When a worker is eligible the job commits
// as scheduled; the conflict check is re-run at commit time inside the
// booking transaction, and a race loss surfaces as SLOT_UNAVAILABLE.
// When no worker is eligible the job enters the open pool unassigned,
// which is the expected trigger for manual dispatch or worker claims.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (*models.Job, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}

	span, date, err := s.resolveSpan(req.Date, req.Time, policy)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	today := now.Truncate(24 * time.Hour)
	if span.Start.Before(now) {
		return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "requested time is in the past")
	}
	if !req.Urgent && dateBlocked(date, today, policy) {
		return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "requested date is not yet bookable")
	}

	if _, err := s.clients.FindByID(ctx, req.ClientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}

	job := &models.Job{
		ClientID:    req.ClientID,
		ServiceType: req.ServiceType,
		StartTime:   span.Start,
		EndTime:     span.End,
	}
	if req.Recurrence != "" {
		rec := models.Recurrence(req.Recurrence)
		job.Recurrence = &rec
	}

	var workerID string
	if !req.Urgent {
		workerID, err = s.electWorker(ctx, date, span, policy)
		if err != nil {
			return nil, err
		}
	}

	if workerID == "" {
		if err := s.jobs.CreateOpen(ctx, job); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create open job")
		}
		if s.metrics != nil {
			s.metrics.BookingCreated(false)
		}
		if s.events != nil {
			s.events.Publish("booking.opened", job)
		}
		return job, nil
	}

	job.WorkerID = &workerID
	if err := s.jobs.CreateScheduled(ctx, job, policy.Buffer()); err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			if s.metrics != nil {
				s.metrics.SlotConflictRejected()
			}
			return nil, appErrors.Clone(appErrors.ErrSlotUnavailable, "slot was booked by another client, please pick a new time")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking")
	}

	if s.metrics != nil {
		s.metrics.BookingCreated(true)
	}
	if s.events != nil {
		s.events.Publish("booking.confirmed", job)
	}
	return job, nil
}

// Get returns a job by id.
func (s *BookingService) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job")
	}
	return job, nil
}

// ListByClient returns a client's jobs, newest first page by page.
func (s *BookingService) ListByClient(ctx context.Context, clientID string, page, pageSize int) ([]models.Job, *models.Pagination, error) {
	jobs, total, err := s.jobs.List(ctx, models.JobFilter{ClientID: clientID, Page: page, PageSize: pageSize})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return jobs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// electWorker picks the assigned worker for a span: active, working
// that day, not blacked out, window covering the span, and free of
// buffered conflicts. The lowest priority value wins; ties break on
// worker ID for determinism. An empty result means unassigned.
func (s *BookingService) electWorker(ctx context.Context, date time.Time, span models.Span, policy models.Policy) (string, error) {
	workers, err := s.workers.ListActive(ctx)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workers")
	}

	sort.SliceStable(workers, func(i, j int) bool {
		if workers[i].Priority != workers[j].Priority {
			return workers[i].Priority < workers[j].Priority
		}
		return workers[i].ID < workers[j].ID
	})

	startMinOfDay := int(span.Start.Sub(date) / time.Minute)
	endMinOfDay := int(span.End.Sub(date) / time.Minute)

	for _, worker := range workers {
		startMin, endMin, ok, werr := workerWindow(worker, date, policy)
		if werr != nil {
			s.logger.Warn("excluding worker with malformed schedule",
				zap.String("worker_id", worker.ID),
				zap.Error(werr))
			continue
		}
		if !ok || startMinOfDay < startMin || endMinOfDay > endMin {
			continue
		}
		blocking, berr := s.jobs.ListBlocking(ctx, worker.ID, span.Start.Add(-policy.Buffer()), span.End.Add(policy.Buffer()))
		if berr != nil {
			return "", appErrors.Wrap(berr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load commitments")
		}
		if spanConflicts(span, blocking, policy.Buffer()) {
			continue
		}
		return worker.ID, nil
	}
	return "", nil
}

// resolveSpan parses the requested date and time and applies the
// default duration and business-hours bounds.
func (s *BookingService) resolveSpan(dateStr, timeStr string, policy models.Policy) (models.Span, time.Time, error) {
	date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
	if err != nil {
		return models.Span{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date, expected YYYY-MM-DD")
	}
	startMin, err := models.ParseClock(timeStr)
	if err != nil {
		return models.Span{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time, expected HH:MM")
	}

	open, err := models.ParseClock(policy.BusinessOpen)
	if err != nil {
		return models.Span{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid business hours policy")
	}
	closeM, err := models.ParseClock(policy.BusinessClose)
	if err != nil {
		return models.Span{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid business hours policy")
	}

	endMin := startMin + policy.DefaultDurationMinutes
	if startMin < open || endMin > closeM {
		return models.Span{}, time.Time{}, appErrors.Clone(appErrors.ErrPolicyRejected, fmt.Sprintf("requested time is outside business hours %s-%s", policy.BusinessOpen, policy.BusinessClose))
	}

	return models.Span{Start: clockAt(date, startMin), End: clockAt(date, endMin)}, date, nil
}
