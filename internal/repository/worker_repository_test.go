package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshnest/booking-api/internal/models"
)

func newWorkerRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func workerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "full_name", "email", "phone", "weekly_schedule", "blackout_dates", "priority", "active", "created_at", "updated_at"})
}

func TestWorkerRepositoryListWithSearch(t *testing.T) {
	db, mock, cleanup := newWorkerRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	now := time.Now()
	rows := workerRows().AddRow("w1", "Mara Voss", "mara@freshnest.test", nil, []byte(`{}`), []byte(`[]`), 0, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("(full_name ILIKE $1 OR email ILIKE $1)")).
		WithArgs("%mara%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM workers")).
		WithArgs("%mara%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	workers, total, err := repo.List(context.Background(), models.WorkerFilter{Search: "mara", Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Len(t, workers, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositoryListActiveOrdersByPriority(t *testing.T) {
	db, mock, cleanup := newWorkerRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	now := time.Now()
	rows := workerRows().
		AddRow("w2", "First", "first@freshnest.test", nil, []byte(`{}`), []byte(`[]`), 0, true, now, now).
		AddRow("w1", "Second", "second@freshnest.test", nil, []byte(`{}`), []byte(`[]`), 1, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM workers WHERE active = TRUE ORDER BY priority ASC, id ASC")).
		WillReturnRows(rows)

	workers, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "w2", workers[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositoryCreateDefaultsRawFields(t *testing.T) {
	db, mock, cleanup := newWorkerRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectExec("INSERT INTO workers").
		WillReturnResult(sqlmock.NewResult(0, 1))

	worker := &models.Worker{FullName: "Mara Voss", Email: "mara@freshnest.test"}
	require.NoError(t, repo.Create(context.Background(), worker))
	assert.NotEmpty(t, worker.ID)
	assert.Equal(t, json.RawMessage("{}"), worker.WeeklyScheduleRaw)
	assert.Equal(t, json.RawMessage("[]"), worker.BlackoutDatesRaw)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositoryUpdateScheduleNotFound(t *testing.T) {
	db, mock, cleanup := newWorkerRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE workers SET weekly_schedule = $2, blackout_dates = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("ghost", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSchedule(context.Background(), "ghost", json.RawMessage(`{}`), json.RawMessage(`[]`))
	assert.ErrorIs(t, err, ErrNoRowsUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositoryUpdatePrioritiesTransactional(t *testing.T) {
	db, mock, cleanup := newWorkerRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE workers SET priority = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("w2", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE workers SET priority = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("w1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdatePriorities(context.Background(), []string{"w2", "w1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositoryUpdatePrioritiesUnknownWorkerRollsBack(t *testing.T) {
	db, mock, cleanup := newWorkerRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE workers SET priority = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("ghost", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdatePriorities(context.Background(), []string{"ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown worker")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositoryDeactivate(t *testing.T) {
	db, mock, cleanup := newWorkerRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE workers SET active = FALSE, updated_at = $2 WHERE id = $1")).
		WithArgs("w1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), "w1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
