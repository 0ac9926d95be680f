package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/repository"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
)

type rescheduleLedger interface {
	FindByID(ctx context.Context, id string) (*models.Job, error)
	Reschedule(ctx context.Context, jobID string, start, end time.Time, buffer time.Duration) error
	UpdateStatus(ctx context.Context, jobID string, to models.JobStatus, from ...models.JobStatus) error
}

// Eligibility reports what self-service changes a job currently
// permits.
type Eligibility struct {
	CanReschedule bool `json:"can_reschedule"`
	CanCancel     bool `json:"can_cancel"`
}

// RescheduleRequest carries the new time for an existing job.
type RescheduleRequest struct {
	Date string `json:"date" validate:"required"`
	Time string `json:"time" validate:"required"`
}

// RescheduleService evaluates and applies reschedule and cancellation
// policy for existing jobs.
type RescheduleService struct {
	jobs      rescheduleLedger
	policies  policySource
	events    eventPublisher
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewRescheduleService instantiates RescheduleService.
func NewRescheduleService(jobs rescheduleLedger, policies policySource, events eventPublisher, validate *validator.Validate, logger *zap.Logger) *RescheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RescheduleService{
		jobs:      jobs,
		policies:  policies,
		events:    events,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// CanReschedule is a pure predicate: one-time jobs can never be
// rescheduled through self-service; recurring jobs require the
// configured notice. "now" is part of the input, so nothing here is
// cached.
func CanReschedule(job *models.Job, now time.Time, policy models.Policy) bool {
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusScheduled {
		return false
	}
	if !job.IsRecurring() {
		return false
	}
	return !now.Add(policy.RescheduleNotice()).After(job.StartTime)
}

// CanCancel is the cancellation counterpart: one-time jobs use an
// hours-denominated notice window, recurring jobs a days-denominated
// one.
func CanCancel(job *models.Job, now time.Time, policy models.Policy) bool {
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusScheduled {
		return false
	}
	return !now.Add(policy.CancelNotice(job.IsRecurring())).After(job.StartTime)
}

// Eligibility evaluates both predicates for a job.
func (s *RescheduleService) Eligibility(ctx context.Context, jobID string) (*Eligibility, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return &Eligibility{
		CanReschedule: CanReschedule(job, now, policy),
		CanCancel:     CanCancel(job, now, policy),
	}, nil
}

// Reschedule moves a job to a new time when policy permits. The
// conflict check against the assigned worker's other commitments runs
// inside the reschedule transaction; losing that re-check surfaces as
// SLOT_UNAVAILABLE.
func (s *RescheduleService) Reschedule(ctx context.Context, jobID string, req RescheduleRequest) (*models.Job, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if !CanReschedule(job, now, policy) {
		if !job.IsRecurring() {
			return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "one-time bookings cannot be rescheduled")
		}
		return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "not enough notice to reschedule")
	}

	date, startMin, err := parseDateTime(req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	duration := int(job.Span().Duration() / time.Minute)
	open, _ := models.ParseClock(policy.BusinessOpen)
	closeM, _ := models.ParseClock(policy.BusinessClose)
	if startMin < open || startMin+duration > closeM {
		return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "requested time is outside business hours")
	}
	start := clockAt(date, startMin)
	end := clockAt(date, startMin+duration)
	if start.Before(now) {
		return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "requested time is in the past")
	}

	if err := s.jobs.Reschedule(ctx, jobID, start, end, policy.Buffer()); err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			return nil, appErrors.Clone(appErrors.ErrSlotUnavailable, "the new time conflicts with another commitment")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reschedule job")
	}

	updated, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Publish("booking.rescheduled", updated)
	}
	return updated, nil
}

// Cancel cancels a job when the notice policy permits.
func (s *RescheduleService) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}

	if !CanCancel(job, s.now().UTC(), policy) {
		return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "not enough notice to cancel")
	}

	if err := s.jobs.UpdateStatus(ctx, jobID, models.JobStatusCancelled, models.JobStatusPending, models.JobStatusScheduled); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			// The job left the cancellable state between read and write.
			return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "job can no longer be cancelled")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel job")
	}

	cancelled, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Publish("booking.cancelled", cancelled)
	}
	return cancelled, nil
}

func (s *RescheduleService) loadJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job")
	}
	return job, nil
}

func parseDateTime(dateStr, timeStr string) (time.Time, int, error) {
	date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
	if err != nil {
		return time.Time{}, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date, expected YYYY-MM-DD")
	}
	startMin, err := models.ParseClock(timeStr)
	if err != nil {
		return time.Time{}, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time, expected HH:MM")
	}
	return date, startMin, nil
}
