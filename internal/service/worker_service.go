package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/freshnest/booking-api/internal/models"
	"github.com/freshnest/booking-api/internal/repository"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
)

type workerRepository interface {
	List(ctx context.Context, filter models.WorkerFilter) ([]models.Worker, int, error)
	FindByID(ctx context.Context, id string) (*models.Worker, error)
	Create(ctx context.Context, worker *models.Worker) error
	UpdateSchedule(ctx context.Context, id string, schedule, blackouts json.RawMessage) error
	UpdatePriorities(ctx context.Context, orderedIDs []string) error
	Deactivate(ctx context.Context, id string) error
}

type workerJobLister interface {
	List(ctx context.Context, filter models.JobFilter) ([]models.Job, int, error)
}

type directoryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const (
	workerDirectoryKeyPrefix = "workers:list:"
	workerDirectoryTTL       = 5 * time.Minute
)

type cachedWorkerList struct {
	Workers    []models.Worker    `json:"workers"`
	Pagination *models.Pagination `json:"pagination"`
}

var weekdayKeys = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
}

// CreateWorkerRequest describes the onboarding payload.
type CreateWorkerRequest struct {
	FullName string                `json:"full_name" validate:"required"`
	Email    string                `json:"email" validate:"required,email"`
	Phone    *string               `json:"phone"`
	Schedule models.WeeklySchedule `json:"weekly_schedule"`
	Priority int                   `json:"priority" validate:"gte=0"`
}

// UpdateWorkerScheduleRequest replaces the weekly windows and
// blackout set.
type UpdateWorkerScheduleRequest struct {
	Schedule      models.WeeklySchedule `json:"weekly_schedule" validate:"required"`
	BlackoutDates []string              `json:"blackout_dates"`
}

// SetWorkerPriorityRequest carries the full preferred ordering; index
// zero is most preferred for auto-assignment.
type SetWorkerPriorityRequest struct {
	OrderedIDs []string `json:"ordered_ids" validate:"required,min=1"`
}

// WorkerService manages the worker roster and schedule store.
type WorkerService struct {
	workers   workerRepository
	jobs      workerJobLister
	audit     auditWriter
	cache     directoryCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewWorkerService instantiates WorkerService. The cache is optional;
// a nil cache disables directory caching.
func NewWorkerService(workers workerRepository, jobs workerJobLister, audit auditWriter, cache directoryCache, validate *validator.Validate, logger *zap.Logger) *WorkerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerService{workers: workers, jobs: jobs, audit: audit, cache: cache, validator: validate, logger: logger}
}

// List returns workers with pagination metadata. Results are cached
// briefly; any roster mutation invalidates the cache.
func (s *WorkerService) List(ctx context.Context, filter models.WorkerFilter) ([]models.Worker, *models.Pagination, error) {
	key := directoryKey(filter)
	if s.cache != nil {
		var cached cachedWorkerList
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached.Workers, cached.Pagination, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("worker directory cache get failed", zap.Error(err))
		}
	}

	workers, total, err := s.workers.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list workers")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedWorkerList{Workers: workers, Pagination: pagination}, workerDirectoryTTL); err != nil {
			s.logger.Warn("worker directory cache set failed", zap.Error(err))
		}
	}
	return workers, pagination, nil
}

func directoryKey(filter models.WorkerFilter) string {
	active := "any"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("%s%s:%s:%d:%d", workerDirectoryKeyPrefix, filter.Search, active, filter.Page, filter.PageSize)
}

func (s *WorkerService) invalidateDirectory(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, workerDirectoryKeyPrefix+"*"); err != nil {
		s.logger.Warn("worker directory cache invalidation failed", zap.Error(err))
	}
}

// Get returns one worker.
func (s *WorkerService) Get(ctx context.Context, id string) (*models.Worker, error) {
	worker, err := s.workers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load worker")
	}
	return worker, nil
}

// Create onboards a new worker.
func (s *WorkerService) Create(ctx context.Context, req CreateWorkerRequest, actorID, ip, userAgent string) (*models.Worker, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid worker payload")
	}
	if err := validateSchedule(req.Schedule); err != nil {
		return nil, err
	}

	scheduleRaw, err := json.Marshal(req.Schedule)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode schedule")
	}

	worker := &models.Worker{
		FullName:          req.FullName,
		Email:             req.Email,
		Phone:             req.Phone,
		WeeklyScheduleRaw: scheduleRaw,
		BlackoutDatesRaw:  json.RawMessage("[]"),
		Priority:          req.Priority,
		Active:            true,
	}
	if err := s.workers.Create(ctx, worker); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create worker")
	}

	s.invalidateDirectory(ctx)
	s.recordAudit(ctx, actorID, models.AuditActionWorkerCreate, worker.ID, worker, ip, userAgent)
	return worker, nil
}

// UpdateSchedule replaces a worker's weekly schedule and blackout
// dates after validating every window and date.
func (s *WorkerService) UpdateSchedule(ctx context.Context, id string, req UpdateWorkerScheduleRequest, actorID, ip, userAgent string) (*models.Worker, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if err := validateSchedule(req.Schedule); err != nil {
		return nil, err
	}
	for _, d := range req.BlackoutDates {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid blackout date %q, expected YYYY-MM-DD", d))
		}
	}

	scheduleRaw, err := json.Marshal(req.Schedule)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode schedule")
	}
	blackouts := req.BlackoutDates
	if blackouts == nil {
		blackouts = []string{}
	}
	blackoutsRaw, err := json.Marshal(blackouts)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode blackout dates")
	}

	if err := s.workers.UpdateSchedule(ctx, id, scheduleRaw, blackoutsRaw); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}

	s.invalidateDirectory(ctx)
	s.recordAudit(ctx, actorID, models.AuditActionWorkerUpdate, id, req, ip, userAgent)
	return s.Get(ctx, id)
}

// SetPriorities applies an operator's drag-reordered preference list.
// Every listed worker gets its list index as priority inside one
// transaction.
func (s *WorkerService) SetPriorities(ctx context.Context, req SetWorkerPriorityRequest, actorID, ip, userAgent string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid priority payload")
	}
	seen := make(map[string]struct{}, len(req.OrderedIDs))
	for _, id := range req.OrderedIDs {
		if _, dup := seen[id]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate worker id %q", id))
		}
		seen[id] = struct{}{}
	}

	if err := s.workers.UpdatePriorities(ctx, req.OrderedIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to reorder workers")
	}

	s.invalidateDirectory(ctx)
	s.recordAudit(ctx, actorID, models.AuditActionPriorityUpdate, "", req.OrderedIDs, ip, userAgent)
	return nil
}

// Deactivate hides a worker from generation and assignment while
// preserving historical job references.
func (s *WorkerService) Deactivate(ctx context.Context, id string, actorID, ip, userAgent string) error {
	if err := s.workers.Deactivate(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			return appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate worker")
	}
	s.invalidateDirectory(ctx)
	s.recordAudit(ctx, actorID, models.AuditActionWorkerDisable, id, nil, ip, userAgent)
	return nil
}

// ListJobs returns a worker's jobs.
func (s *WorkerService) ListJobs(ctx context.Context, workerID string, page, pageSize int) ([]models.Job, *models.Pagination, error) {
	if _, err := s.Get(ctx, workerID); err != nil {
		return nil, nil, err
	}
	jobs, total, err := s.jobs.List(ctx, models.JobFilter{WorkerID: workerID, Page: page, PageSize: pageSize})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list worker jobs")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return jobs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func (s *WorkerService) recordAudit(ctx context.Context, actorID, action, resourceID string, payload interface{}, ip, userAgent string) {
	if s.audit == nil || actorID == "" {
		return
	}
	log := &models.AuditLog{
		AccountID: &actorID,
		Action:    action,
		Resource:  "workers",
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	if payload != nil {
		if body, err := json.Marshal(payload); err == nil {
			log.NewValues = body
		}
	}
	if err := s.audit.Create(ctx, log); err != nil {
		s.logger.Warn("failed to record worker audit log", zap.Error(err))
	}
}

// validateSchedule checks weekday keys and window bounds.
func validateSchedule(schedule models.WeeklySchedule) error {
	for day, window := range schedule {
		if _, ok := weekdayKeys[day]; !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown weekday %q", day))
		}
		start, err := models.ParseClock(window.Start)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid start time for %s", day))
		}
		end, err := models.ParseClock(window.End)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid end time for %s", day))
		}
		if start >= end {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("window for %s ends before it starts", day))
		}
	}
	return nil
}
