package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/freshnest/booking-api/internal/models"
)

const clientColumns = "id, full_name, email, phone, address, created_at, updated_at"

// ClientRepository provides persistence for clients.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository creates a new client repository.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// FindByID loads a client by id.
func (r *ClientRepository) FindByID(ctx context.Context, id string) (*models.Client, error) {
	query := fmt.Sprintf("SELECT %s FROM clients WHERE id = $1", clientColumns)
	var client models.Client
	if err := r.db.GetContext(ctx, &client, query, id); err != nil {
		return nil, err
	}
	return &client, nil
}

// List returns clients matching the optional search term with
// pagination.
func (r *ClientRepository) List(ctx context.Context, search string, page, pageSize int) ([]models.Client, int, error) {
	base := "FROM clients WHERE 1=1"
	var args []interface{}
	if search != "" {
		base += fmt.Sprintf(" AND (full_name ILIKE $%d OR email ILIKE $%d)", len(args)+1, len(args)+1)
		args = append(args, "%"+search+"%")
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf("SELECT %s %s ORDER BY full_name ASC LIMIT %d OFFSET %d", clientColumns, base, pageSize, offset)
	var clients []models.Client
	if err := r.db.SelectContext(ctx, &clients, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}
	return clients, total, nil
}

// Create stores a new client record.
func (r *ClientRepository) Create(ctx context.Context, client *models.Client) error {
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now

	const query = `INSERT INTO clients (id, full_name, email, phone, address, created_at, updated_at)
VALUES (:id, :full_name, :email, :phone, :address, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, client); err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}
