package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/freshnest/booking-api/internal/models"
)

// Sentinel errors surfaced by the transactional paths. Services map
// them onto the user-facing error taxonomy.
var (
	// ErrSlotTaken signals a commit-time conflict re-check failure:
	// another writer booked an overlapping span after this caller read
	// availability.
	ErrSlotTaken = errors.New("slot already taken")
	// ErrClaimLost signals that the conditional claim update matched no
	// row because the job was claimed (or left the open pool) first.
	ErrClaimLost = errors.New("claim lost")
	// ErrNoRowsUpdated signals a conditional update that matched nothing.
	ErrNoRowsUpdated = errors.New("no rows updated")
)

const jobColumns = "id, client_id, worker_id, service_type, start_time, end_time, status, recurrence, created_at, updated_at"

// JobRepository provides persistence for the commitment ledger.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// FindByID loads a job by id.
func (r *JobRepository) FindByID(ctx context.Context, id string) (*models.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1", jobColumns)
	var job models.Job
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs matching the filter with pagination.
func (r *JobRepository) List(ctx context.Context, filter models.JobFilter) ([]models.Job, int, error) {
	base := "FROM jobs WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.ClientID != "" {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)+1))
		args = append(args, filter.ClientID)
	}
	if filter.WorkerID != "" {
		conditions = append(conditions, fmt.Sprintf("worker_id = $%d", len(args)+1))
		args = append(args, filter.WorkerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("start_time >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("start_time < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY start_time ASC LIMIT %d OFFSET %d", jobColumns, base, size, offset)
	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	return jobs, total, nil
}

// ListBlocking returns a worker's jobs that occupy time (scheduled or
// completed) and intersect the given window. Pending and cancelled
// jobs never block.
func (r *JobRepository) ListBlocking(ctx context.Context, workerID string, from, to time.Time) ([]models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs
WHERE worker_id = $1 AND status IN ('scheduled', 'completed') AND start_time < $3 AND end_time > $2
ORDER BY start_time ASC`, jobColumns)
	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, workerID, from, to); err != nil {
		return nil, fmt.Errorf("list blocking jobs: %w", err)
	}
	return jobs, nil
}

// ListDay returns every job starting within the window, ordered by
// start time. Used for roster exports, which need the full day rather
// than a page.
func (r *JobRepository) ListDay(ctx context.Context, from, to time.Time) ([]models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs
WHERE start_time >= $1 AND start_time < $2
ORDER BY start_time ASC`, jobColumns)
	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, from, to); err != nil {
		return nil, fmt.Errorf("list day jobs: %w", err)
	}
	return jobs, nil
}

// ListOpen returns unassigned pending jobs starting at or after the
// given moment, oldest start first. This is the claimable pool.
func (r *JobRepository) ListOpen(ctx context.Context, from time.Time) ([]models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs
WHERE worker_id IS NULL AND status = 'pending' AND start_time >= $1
ORDER BY start_time ASC`, jobColumns)
	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, from); err != nil {
		return nil, fmt.Errorf("list open jobs: %w", err)
	}
	return jobs, nil
}

// CreateOpen inserts an unassigned pending job into the open pool.
func (r *JobRepository) CreateOpen(ctx context.Context, job *models.Job) error {
	prepareJob(job)
	job.WorkerID = nil
	job.Status = models.JobStatusPending

	const query = `INSERT INTO jobs (id, client_id, worker_id, service_type, start_time, end_time, status, recurrence, created_at, updated_at)
VALUES (:id, :client_id, :worker_id, :service_type, :start_time, :end_time, :status, :recurrence, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create open job: %w", err)
	}
	return nil
}

// CreateScheduled commits an assigned booking. The worker row is
// locked and the conflict check re-run inside the same transaction, so
// two writers who both observed a free slot cannot both insert: the
// loser gets ErrSlotTaken.
func (r *JobRepository) CreateScheduled(ctx context.Context, job *models.Job, buffer time.Duration) (err error) {
	if job.WorkerID == nil {
		return fmt.Errorf("create scheduled job: worker is required")
	}
	prepareJob(job)
	job.Status = models.JobStatusScheduled

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockWorker(ctx, tx, *job.WorkerID); err != nil {
		return err
	}
	if err = ensureNoOverlap(ctx, tx, *job.WorkerID, "", job.Span().Expand(buffer)); err != nil {
		return err
	}

	const insertQuery = `INSERT INTO jobs (id, client_id, worker_id, service_type, start_time, end_time, status, recurrence, created_at, updated_at)
VALUES (:id, :client_id, :worker_id, :service_type, :start_time, :end_time, :status, :recurrence, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, job); err != nil {
		return fmt.Errorf("insert scheduled job: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit booking transaction: %w", err)
	}
	return nil
}

// ClaimOpen attempts to claim an open job for a worker. The job row is
// locked, the worker row is locked, and the conflict check is re-run
// against the buffer-expanded span inside the same transaction, so a
// booking that committed for this worker after the caller's eligibility
// read surfaces as ErrSlotTaken rather than a double-booking. The final
// update stays conditional on the job being unassigned and pending, so
// exactly one of any number of simultaneous claimants wins; losers get
// ErrClaimLost with no side effects.
func (r *JobRepository) ClaimOpen(ctx context.Context, jobID, workerID string, buffer time.Duration) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var job models.Job
	selectQuery := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1 FOR UPDATE", jobColumns)
	if err = tx.GetContext(ctx, &job, selectQuery, jobID); err != nil {
		return err
	}
	if job.WorkerID != nil || job.Status != models.JobStatusPending {
		err = ErrClaimLost
		return err
	}

	if err = lockWorker(ctx, tx, workerID); err != nil {
		return err
	}
	if err = ensureNoOverlap(ctx, tx, workerID, jobID, job.Span().Expand(buffer)); err != nil {
		return err
	}

	const updateQuery = `UPDATE jobs SET worker_id = $2, status = 'scheduled', updated_at = $3
WHERE id = $1 AND worker_id IS NULL AND status = 'pending'`
	result, execErr := tx.ExecContext(ctx, updateQuery, jobID, workerID, time.Now().UTC())
	if execErr != nil {
		err = fmt.Errorf("claim job: %w", execErr)
		return err
	}
	affected, raErr := result.RowsAffected()
	if raErr != nil {
		err = fmt.Errorf("claim job: %w", raErr)
		return err
	}
	if affected == 0 {
		err = ErrClaimLost
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit claim transaction: %w", err)
	}
	return nil
}

// Reschedule moves an existing job to a new span. For assigned jobs the
// worker row is locked and the conflict check re-run against the new
// span (excluding the job itself) inside the transaction.
func (r *JobRepository) Reschedule(ctx context.Context, jobID string, start, end time.Time, buffer time.Duration) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reschedule transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Job
	selectQuery := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1 FOR UPDATE", jobColumns)
	if err = tx.GetContext(ctx, &current, selectQuery, jobID); err != nil {
		return err
	}

	if current.WorkerID != nil {
		if err = lockWorker(ctx, tx, *current.WorkerID); err != nil {
			return err
		}
		span := models.Span{Start: start, End: end}.Expand(buffer)
		if err = ensureNoOverlap(ctx, tx, *current.WorkerID, jobID, span); err != nil {
			return err
		}
	}

	const updateQuery = `UPDATE jobs SET start_time = $2, end_time = $3, updated_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, jobID, start, end, time.Now().UTC()); err != nil {
		return fmt.Errorf("update job span: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reschedule transaction: %w", err)
	}
	return nil
}

// UpdateStatus transitions a job's status, guarded by the set of
// statuses the transition is valid from.
func (r *JobRepository) UpdateStatus(ctx context.Context, jobID string, to models.JobStatus, from ...models.JobStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("update job status: origin statuses required")
	}
	placeholders := make([]string, len(from))
	args := []interface{}{jobID, string(to), time.Now().UTC()}
	for i, s := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(s))
	}
	query := fmt.Sprintf(`UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1 AND status IN (%s)`, strings.Join(placeholders, ", "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if affected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

func prepareJob(job *models.Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
}

// lockWorker serialises ledger writes per worker for the duration of
// the transaction.
func lockWorker(ctx context.Context, tx *sqlx.Tx, workerID string) error {
	var id string
	if err := tx.GetContext(ctx, &id, `SELECT id FROM workers WHERE id = $1 FOR UPDATE`, workerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock worker row: %w", err)
	}
	return nil
}

// ensureNoOverlap fails with ErrSlotTaken when any blocking job of the
// worker intersects the buffer-expanded span. excludeJobID skips the
// job being moved during a reschedule.
func ensureNoOverlap(ctx context.Context, tx *sqlx.Tx, workerID, excludeJobID string, span models.Span) error {
	query := `SELECT COUNT(*) FROM jobs
WHERE worker_id = $1 AND status IN ('scheduled', 'completed') AND start_time < $3 AND end_time > $2`
	args := []interface{}{workerID, span.Start, span.End}
	if excludeJobID != "" {
		query += " AND id <> $4"
		args = append(args, excludeJobID)
	}
	var overlapping int
	if err := tx.GetContext(ctx, &overlapping, query, args...); err != nil {
		return fmt.Errorf("recheck conflicts: %w", err)
	}
	if overlapping > 0 {
		return ErrSlotTaken
	}
	return nil
}
