package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/repository"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
)

type dispatchLedger interface {
	FindByID(ctx context.Context, id string) (*models.Job, error)
	ListOpen(ctx context.Context, from time.Time) ([]models.Job, error)
	ListBlocking(ctx context.Context, workerID string, from, to time.Time) ([]models.Job, error)
	ClaimOpen(ctx context.Context, jobID, workerID string, buffer time.Duration) error
}

type workerReader interface {
	FindByID(ctx context.Context, id string) (*models.Worker, error)
}

type claimMetrics interface {
	ClaimResolved(won bool)
}

// ClaimResult reports the outcome of a claim attempt.
type ClaimResult struct {
	Accepted bool        `json:"accepted"`
	Job      *models.Job `json:"job,omitempty"`
}

// DispatchService exposes the open-job pool and arbitrates concurrent
// worker claims on it.
type DispatchService struct {
	jobs     dispatchLedger
	workers  workerReader
	policies policySource
	events   eventPublisher
	metrics  claimMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatchService instantiates DispatchService.
func NewDispatchService(jobs dispatchLedger, workers workerReader, policies policySource, events eventPublisher, metrics claimMetrics, logger *zap.Logger) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		jobs:     jobs,
		workers:  workers,
		policies: policies,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// ListOpen returns the currently claimable jobs: unassigned, pending,
// and not yet started.
func (s *DispatchService) ListOpen(ctx context.Context) ([]models.Job, error) {
	jobs, err := s.jobs.ListOpen(ctx, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list open jobs")
	}
	return jobs, nil
}

// Claim resolves a worker's attempt to take an open job. The decisive
// step is a conditional update on the job row inside a transaction
// that also re-checks the worker's commitments, so exactly one of any
// number of simultaneous claimants wins and a booking that committed
// for this worker after the eligibility read still blocks the claim.
// Every other caller gets ALREADY_CLAIMED or POLICY_REJECTED with no
// side effects.
func (s *DispatchService) Claim(ctx context.Context, jobID, workerID string) (*ClaimResult, error) {
	worker, err := s.workers.FindByID(ctx, workerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load worker")
	}
	if !worker.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "inactive workers cannot claim jobs")
	}

	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job")
	}
	if job.WorkerID != nil || job.Status != models.JobStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, "")
	}

	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.checkEligibility(ctx, worker, job, policy); err != nil {
		return nil, err
	}

	if err := s.jobs.ClaimOpen(ctx, jobID, workerID, policy.Buffer()); err != nil {
		switch {
		case errors.Is(err, repository.ErrClaimLost):
			if s.metrics != nil {
				s.metrics.ClaimResolved(false)
			}
			return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, "")
		case errors.Is(err, repository.ErrSlotTaken):
			if s.metrics != nil {
				s.metrics.ClaimResolved(false)
			}
			return nil, appErrors.Clone(appErrors.ErrPolicyRejected, "job conflicts with an existing commitment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim job")
	}

	claimed, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		// The claim committed; return the pre-read job rather than
		// failing the winner.
		s.logger.Warn("failed to reload claimed job", zap.String("job_id", jobID), zap.Error(err))
		claimed = job
	}

	if s.metrics != nil {
		s.metrics.ClaimResolved(true)
	}
	if s.events != nil {
		s.events.Publish("job.claimed", claimed)
	}
	return &ClaimResult{Accepted: true, Job: claimed}, nil
}

// checkEligibility verifies the worker could actually serve the job:
// working window covers the span, date not blacked out, and no
// buffered conflict with existing commitments.
func (s *DispatchService) checkEligibility(ctx context.Context, worker *models.Worker, job *models.Job, policy models.Policy) error {
	date := job.StartTime.UTC().Truncate(24 * time.Hour)
	startMin, endMin, ok, err := workerWindow(*worker, date, policy)
	if err != nil {
		s.logger.Warn("excluding worker with malformed schedule",
			zap.String("worker_id", worker.ID),
			zap.Error(err))
		return appErrors.Clone(appErrors.ErrPolicyRejected, "worker schedule does not permit this job")
	}
	jobStartMin := int(job.StartTime.UTC().Sub(date) / time.Minute)
	jobEndMin := int(job.EndTime.UTC().Sub(date) / time.Minute)
	if !ok || jobStartMin < startMin || jobEndMin > endMin {
		return appErrors.Clone(appErrors.ErrPolicyRejected, "worker schedule does not permit this job")
	}

	blocking, err := s.jobs.ListBlocking(ctx, worker.ID, job.StartTime.Add(-policy.Buffer()), job.EndTime.Add(policy.Buffer()))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load commitments")
	}
	if spanConflicts(job.Span(), blocking, policy.Buffer()) {
		return appErrors.Clone(appErrors.ErrPolicyRejected, "job conflicts with an existing commitment")
	}
	return nil
}
