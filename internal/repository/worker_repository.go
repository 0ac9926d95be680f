package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/freshnest/booking-api/internal/models"
)

const workerColumns = "id, full_name, email, phone, weekly_schedule, blackout_dates, priority, active, created_at, updated_at"

// WorkerRepository provides persistence for workers.
type WorkerRepository struct {
	db *sqlx.DB
}

// NewWorkerRepository creates a new worker repository.
func NewWorkerRepository(db *sqlx.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// List returns workers with optional filtering and pagination.
func (r *WorkerRepository) List(ctx context.Context, filter models.WorkerFilter) ([]models.Worker, int, error) {
	base := "FROM workers WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR email ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY priority ASC, id ASC LIMIT %d OFFSET %d", workerColumns, base, size, offset)
	var workers []models.Worker
	if err := r.db.SelectContext(ctx, &workers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list workers: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count workers: %w", err)
	}

	return workers, total, nil
}

// ListActive returns all active workers in priority order.
func (r *WorkerRepository) ListActive(ctx context.Context) ([]models.Worker, error) {
	query := fmt.Sprintf("SELECT %s FROM workers WHERE active = TRUE ORDER BY priority ASC, id ASC", workerColumns)
	var workers []models.Worker
	if err := r.db.SelectContext(ctx, &workers, query); err != nil {
		return nil, fmt.Errorf("list active workers: %w", err)
	}
	return workers, nil
}

// FindByID loads a worker by id.
func (r *WorkerRepository) FindByID(ctx context.Context, id string) (*models.Worker, error) {
	query := fmt.Sprintf("SELECT %s FROM workers WHERE id = $1", workerColumns)
	var worker models.Worker
	if err := r.db.GetContext(ctx, &worker, query, id); err != nil {
		return nil, err
	}
	return &worker, nil
}

// Create stores a new worker record.
func (r *WorkerRepository) Create(ctx context.Context, worker *models.Worker) error {
	if worker.ID == "" {
		worker.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if worker.CreatedAt.IsZero() {
		worker.CreatedAt = now
	}
	worker.UpdatedAt = now
	if len(worker.WeeklyScheduleRaw) == 0 {
		worker.WeeklyScheduleRaw = json.RawMessage("{}")
	}
	if len(worker.BlackoutDatesRaw) == 0 {
		worker.BlackoutDatesRaw = json.RawMessage("[]")
	}

	const query = `INSERT INTO workers (id, full_name, email, phone, weekly_schedule, blackout_dates, priority, active, created_at, updated_at)
VALUES (:id, :full_name, :email, :phone, :weekly_schedule, :blackout_dates, :priority, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, worker); err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	return nil
}

// UpdateSchedule replaces a worker's weekly schedule and blackout set.
func (r *WorkerRepository) UpdateSchedule(ctx context.Context, id string, schedule, blackouts json.RawMessage) error {
	const query = `UPDATE workers SET weekly_schedule = $2, blackout_dates = $3, updated_at = $4 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, schedule, blackouts, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update worker schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update worker schedule: %w", err)
	}
	if affected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

// UpdatePriorities bulk-assigns priority values from an ordered ID
// list inside one transaction so a partial reorder is never visible.
func (r *WorkerRepository) UpdatePriorities(ctx context.Context, orderedIDs []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin priority transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const query = `UPDATE workers SET priority = $2, updated_at = $3 WHERE id = $1`
	for i, id := range orderedIDs {
		var result sql.Result
		result, err = tx.ExecContext(ctx, query, id, i, now)
		if err != nil {
			return fmt.Errorf("update worker priority: %w", err)
		}
		var affected int64
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update worker priority: %w", err)
		}
		if affected == 0 {
			err = fmt.Errorf("update worker priority: unknown worker %s", id)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit priority transaction: %w", err)
	}
	return nil
}

// Deactivate marks a worker inactive. Workers are never hard-deleted
// so historical jobs keep their references.
func (r *WorkerRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE workers SET active = FALSE, updated_at = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate worker: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate worker: %w", err)
	}
	if affected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}
