package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/freshnest/booking-api/internal/models"
)

const accountColumns = "id, email, password_hash, full_name, role, subject_id, active, last_login, created_at, updated_at"

// AccountRepository provides persistence for login accounts.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByEmail loads an account by (case-insensitive) email.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE LOWER(email) = LOWER($1)", accountColumns)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, email); err != nil {
		return nil, err
	}
	return &account, nil
}

// FindByID loads an account by id.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE id = $1", accountColumns)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		return nil, err
	}
	return &account, nil
}

// Create stores a new account record.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	const query = `INSERT INTO accounts (id, email, password_hash, full_name, role, subject_id, active, created_at, updated_at)
VALUES (:id, :email, :password_hash, :full_name, :role, :subject_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// UpdateLastLogin stamps the account's last successful login.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE accounts SET last_login = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
