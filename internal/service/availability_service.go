package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/freshnest/booking-api/internal/models"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
)

const dateLayout = "2006-01-02"

type policySource interface {
	Current(ctx context.Context) (models.Policy, error)
}

type activeWorkerSource interface {
	ListActive(ctx context.Context) ([]models.Worker, error)
}

type blockingLedger interface {
	ListBlocking(ctx context.Context, workerID string, from, to time.Time) ([]models.Job, error)
}

// AvailabilityService produces the bookable slot menu for a calendar
// date from worker schedules, the commitment ledger, and the policy.
type AvailabilityService struct {
	policies policySource
	workers  activeWorkerSource
	ledger   blockingLedger
	logger   *zap.Logger
	now      func() time.Time
}

// NewAvailabilityService instantiates AvailabilityService.
func NewAvailabilityService(policies policySource, workers activeWorkerSource, ledger blockingLedger, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{
		policies: policies,
		workers:  workers,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

// GetDayAvailability returns the full ordered slot list for a date.
// Slots outside every worker's reach are kept and marked unavailable
// so the client can render them disabled. Past dates yield an empty
// list; dates blocked by the same-day gate or lead time yield a fully
// unavailable grid.
func (s *AvailabilityService) GetDayAvailability(ctx context.Context, dateStr string) (*models.DayAvailability, error) {
	date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date, expected YYYY-MM-DD")
	}

	policy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}

	grid, err := slotGrid(policy)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid business hours policy")
	}

	now := s.now().UTC()
	today := now.Truncate(24 * time.Hour)

	result := &models.DayAvailability{Date: dateStr, Slots: make([]models.Slot, 0, len(grid))}
	if date.Before(today) {
		return result, nil
	}

	if dateBlocked(date, today, policy) {
		for _, m := range grid {
			result.Slots = append(result.Slots, models.Slot{Time: models.FormatClock(m), Available: false})
		}
		return result, nil
	}

	workers, err := s.workers.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workers")
	}

	type candidate struct {
		startMin int
		endMin   int
		blocking []models.Job
	}
	candidates := make([]candidate, 0, len(workers))

	dayStart := date
	dayEnd := date.Add(24 * time.Hour)
	for _, worker := range workers {
		startMin, endMin, ok, werr := workerWindow(worker, date, policy)
		if werr != nil {
			// Fail closed: a worker with unreadable schedule data is
			// excluded rather than treated as fully open.
			s.logger.Warn("excluding worker with malformed schedule",
				zap.String("worker_id", worker.ID),
				zap.Error(werr))
			continue
		}
		if !ok {
			continue
		}
		blocking, berr := s.ledger.ListBlocking(ctx, worker.ID, dayStart.Add(-policy.Buffer()), dayEnd.Add(policy.Buffer()))
		if berr != nil {
			return nil, appErrors.Wrap(berr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load commitments")
		}
		candidates = append(candidates, candidate{startMin: startMin, endMin: endMin, blocking: blocking})
	}

	duration := policy.DefaultDurationMinutes
	for _, m := range grid {
		span := models.Span{Start: clockAt(date, m), End: clockAt(date, m+duration)}
		if date.Equal(today) && span.Start.Before(now) {
			// Elapsed same-day slots would be rejected at booking time;
			// keep the menu and the commit path in agreement.
			result.Slots = append(result.Slots, models.Slot{Time: models.FormatClock(m), Available: false})
			continue
		}
		available := false
		for _, c := range candidates {
			if m < c.startMin || m+duration > c.endMin {
				continue
			}
			if !spanConflicts(span, c.blocking, policy.Buffer()) {
				available = true
				break
			}
		}
		result.Slots = append(result.Slots, models.Slot{Time: models.FormatClock(m), Available: available})
	}

	return result, nil
}

// slotGrid enumerates slot start offsets (minutes past midnight)
// across business hours. A slot must fit entirely before close.
func slotGrid(policy models.Policy) ([]int, error) {
	open, err := models.ParseClock(policy.BusinessOpen)
	if err != nil {
		return nil, err
	}
	closeM, err := models.ParseClock(policy.BusinessClose)
	if err != nil {
		return nil, err
	}
	step := policy.SlotGranularityMinutes
	if step <= 0 {
		step = 30
	}
	duration := policy.DefaultDurationMinutes
	var grid []int
	for m := open; m+duration <= closeM; m += step {
		grid = append(grid, m)
	}
	return grid, nil
}

// dateBlocked applies the lead-time policy gates for new bookings.
func dateBlocked(date, today time.Time, policy models.Policy) bool {
	if date.Equal(today) && !policy.AllowSameDay {
		return true
	}
	earliest := today.AddDate(0, 0, policy.MinLeadDays)
	if policy.AllowSameDay && date.Equal(today) {
		return false
	}
	return date.Before(earliest)
}

// workerWindow resolves a worker's candidate range on a date, clipped
// to business hours. ok is false when the worker does not work that
// day or the date is blacked out. A non-nil error means the stored
// schedule is unreadable and the worker must be excluded.
func workerWindow(worker models.Worker, date time.Time, policy models.Policy) (startMin, endMin int, ok bool, err error) {
	schedule, err := worker.Schedule()
	if err != nil {
		return 0, 0, false, err
	}
	blackouts, err := worker.Blackouts()
	if err != nil {
		return 0, 0, false, err
	}
	if _, blocked := blackouts[date.Format(dateLayout)]; blocked {
		return 0, 0, false, nil
	}

	window, works := schedule[models.WeekdayKey(date.Weekday())]
	if !works {
		return 0, 0, false, nil
	}

	winStart, err := models.ParseClock(window.Start)
	if err != nil {
		return 0, 0, false, err
	}
	winEnd, err := models.ParseClock(window.End)
	if err != nil {
		return 0, 0, false, err
	}

	open, err := models.ParseClock(policy.BusinessOpen)
	if err != nil {
		return 0, 0, false, err
	}
	closeM, err := models.ParseClock(policy.BusinessClose)
	if err != nil {
		return 0, 0, false, err
	}

	startMin = maxInt(winStart, open)
	endMin = minInt(winEnd, closeM)
	if startMin >= endMin {
		return 0, 0, false, nil
	}
	return startMin, endMin, true, nil
}

// spanConflicts reports whether the candidate span collides with any
// blocking job once the job's span is expanded by the buffer. Abutting
// the expanded edge exactly is not a conflict.
func spanConflicts(span models.Span, blocking []models.Job, buffer time.Duration) bool {
	for i := range blocking {
		job := &blocking[i]
		if !job.Blocks() {
			continue
		}
		if job.Span().Expand(buffer).Overlaps(span) {
			return true
		}
	}
	return false
}

// clockAt anchors minutes past midnight onto a calendar date.
func clockAt(date time.Time, minutes int) time.Time {
	return date.Add(time.Duration(minutes) * time.Minute)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
