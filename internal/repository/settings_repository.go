package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/freshnest/booking-api/internal/models"
)

// SettingsRepository provides persistence for the administrative
// settings store backing the booking policy.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// ListAll returns every stored setting.
func (r *SettingsRepository) ListAll(ctx context.Context) ([]models.Setting, error) {
	const query = `SELECT key, value, type, updated_by, updated_at FROM settings ORDER BY key ASC`
	var settings []models.Setting
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}

// Get loads one setting by key.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	const query = `SELECT key, value, type, updated_by, updated_at FROM settings WHERE key = $1`
	var setting models.Setting
	if err := r.db.GetContext(ctx, &setting, query, key); err != nil {
		return nil, err
	}
	return &setting, nil
}

// Upsert writes a setting value, inserting or replacing by key.
func (r *SettingsRepository) Upsert(ctx context.Context, setting *models.Setting) error {
	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO settings (key, value, type, updated_by, updated_at)
VALUES (:key, :value, :type, :updated_by, :updated_at)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type,
    updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, setting); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}
