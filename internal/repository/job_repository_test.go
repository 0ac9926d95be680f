package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshnest/booking-api/internal/models"
)

func newJobRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "client_id", "worker_id", "service_type", "start_time", "end_time", "status", "recurrence", "created_at", "updated_at"})
}

func TestJobRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	rows := jobRows().AddRow("job-1", "c1", "w1", "standard", start, start.Add(2*time.Hour), "scheduled", nil, start, start)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, client_id, worker_id, service_type, start_time, end_time, status, recurrence, created_at, updated_at FROM jobs WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := repo.FindByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	require.NotNil(t, job.WorkerID)
	assert.Equal(t, "w1", *job.WorkerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryListBlocking(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	from := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	rows := jobRows().AddRow("job-1", "c1", "w1", "standard", from.Add(13*time.Hour), from.Add(15*time.Hour), "scheduled", nil, from, from)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE worker_id = $1 AND status IN ('scheduled', 'completed') AND start_time < $3 AND end_time > $2")).
		WithArgs("w1", from, to).
		WillReturnRows(rows)

	jobs, err := repo.ListBlocking(context.Background(), "w1", from, to)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryListOpen(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	from := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	rows := jobRows().AddRow("job-1", "c1", nil, "deep", from.Add(48*time.Hour), from.Add(50*time.Hour), "pending", nil, from, from)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE worker_id IS NULL AND status = 'pending' AND start_time >= $1")).
		WithArgs(from).
		WillReturnRows(rows)

	jobs, err := repo.ListOpen(context.Background(), from)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Nil(t, jobs[0].WorkerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryListDay(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	from := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	rows := jobRows().
		AddRow("job-1", "c1", "w1", "standard", from.Add(9*time.Hour), from.Add(11*time.Hour), "scheduled", nil, from, from).
		AddRow("job-2", "c2", nil, "deep", from.Add(14*time.Hour), from.Add(16*time.Hour), "pending", nil, from, from)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE start_time >= $1 AND start_time < $2")).
		WithArgs(from, to).
		WillReturnRows(rows)

	jobs, err := repo.ListDay(context.Background(), from, to)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryClaimOpenWins(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(jobRows().AddRow("job-1", "c1", nil, "standard", start, end, "pending", nil, start, start))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM workers WHERE id = $1 FOR UPDATE")).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM jobs")).
		WithArgs("w1", start.Add(-30*time.Minute), end.Add(30*time.Minute), "job-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND worker_id IS NULL AND status = 'pending'")).
		WithArgs("job-1", "w1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ClaimOpen(context.Background(), "job-1", "w1", 30*time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryClaimOpenLosesToRival(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)

	// The locked read already shows another claimant's worker.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(jobRows().AddRow("job-1", "c1", "w1", "standard", start, start.Add(2*time.Hour), "scheduled", nil, start, start))
	mock.ExpectRollback()

	err := repo.ClaimOpen(context.Background(), "job-1", "w2", 30*time.Minute)
	assert.ErrorIs(t, err, ErrClaimLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryClaimOpenRejectsFreshConflict(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	// The job is still open, but a booking for the claimant committed
	// an overlapping span after the caller's eligibility read.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(jobRows().AddRow("job-1", "c1", nil, "standard", start, end, "pending", nil, start, start))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM workers WHERE id = $1 FOR UPDATE")).
		WithArgs("w2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w2"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM jobs")).
		WithArgs("w2", start.Add(-30*time.Minute), end.Add(30*time.Minute), "job-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.ClaimOpen(context.Background(), "job-1", "w2", 30*time.Minute)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryCreateScheduledCommits(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	workerID := "w1"
	job := &models.Job{
		ClientID:  "c1",
		WorkerID:  &workerID,
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM workers WHERE id = $1 FOR UPDATE")).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM jobs")).
		WithArgs("w1", start.Add(-30*time.Minute), start.Add(2*time.Hour+30*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateScheduled(context.Background(), job, 30*time.Minute))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusScheduled, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryCreateScheduledConflictRollsBack(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	start := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	workerID := "w1"
	job := &models.Job{
		ClientID:  "c1",
		WorkerID:  &workerID,
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM workers WHERE id = $1 FOR UPDATE")).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM jobs")).
		WithArgs("w1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.CreateScheduled(context.Background(), job, 30*time.Minute)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryCreateScheduledRequiresWorker(t *testing.T) {
	db, _, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	err := repo.CreateScheduled(context.Background(), &models.Job{ClientID: "c1"}, 0)
	require.Error(t, err)
}

func TestJobRepositoryRescheduleExcludesSelf(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	oldStart := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	newStart := time.Date(2026, 9, 12, 14, 0, 0, 0, time.UTC)
	newEnd := newStart.Add(2 * time.Hour)

	mock.ExpectBegin()
	current := jobRows().AddRow("job-1", "c1", "w1", "standard", oldStart, oldStart.Add(2*time.Hour), "scheduled", nil, oldStart, oldStart)
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(current)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM workers WHERE id = $1 FOR UPDATE")).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("w1"))
	mock.ExpectQuery(regexp.QuoteMeta("AND id <> $4")).
		WithArgs("w1", newStart.Add(-30*time.Minute), newEnd.Add(30*time.Minute), "job-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET start_time = $2, end_time = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("job-1", newStart, newEnd, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Reschedule(context.Background(), "job-1", newStart, newEnd, 30*time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryRescheduleUnassignedSkipsConflictCheck(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	oldStart := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)
	newStart := time.Date(2026, 9, 12, 14, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	current := jobRows().AddRow("job-1", "c1", nil, "standard", oldStart, oldStart.Add(2*time.Hour), "pending", nil, oldStart, oldStart)
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("job-1").
		WillReturnRows(current)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET start_time = $2, end_time = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("job-1", newStart, newStart.Add(2*time.Hour), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Reschedule(context.Background(), "job-1", newStart, newStart.Add(2*time.Hour), 30*time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryUpdateStatusGuarded(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1 AND status IN ($4, $5)")).
		WithArgs("job-1", "cancelled", sqlmock.AnyArg(), "pending", "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "job-1", models.JobStatusCancelled, models.JobStatusPending, models.JobStatusScheduled)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryUpdateStatusNoMatch(t *testing.T) {
	db, mock, cleanup := newJobRepoMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = $2")).
		WithArgs("job-1", "cancelled", sqlmock.AnyArg(), "pending", "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "job-1", models.JobStatusCancelled, models.JobStatusPending, models.JobStatusScheduled)
	assert.ErrorIs(t, err, ErrNoRowsUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
