package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/freshnest/booking-api/internal/models"
	appErrors "github.com/freshnest/booking-api/pkg/errors"
)

type clientRepository interface {
	List(ctx context.Context, search string, page, pageSize int) ([]models.Client, int, error)
	FindByID(ctx context.Context, id string) (*models.Client, error)
	Create(ctx context.Context, client *models.Client) error
}

// CreateClientRequest describes the client onboarding payload.
type CreateClientRequest struct {
	FullName string  `json:"full_name" validate:"required"`
	Email    string  `json:"email" validate:"required,email"`
	Phone    *string `json:"phone"`
	Address  *string `json:"address"`
}

// ClientService manages the client directory.
type ClientService struct {
	clients   clientRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClientService instantiates ClientService.
func NewClientService(clients clientRepository, validate *validator.Validate, logger *zap.Logger) *ClientService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientService{clients: clients, validator: validate, logger: logger}
}

// List returns clients with pagination metadata.
func (s *ClientService) List(ctx context.Context, search string, page, pageSize int) ([]models.Client, *models.Pagination, error) {
	clients, total, err := s.clients.List(ctx, search, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list clients")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return clients, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns one client.
func (s *ClientService) Get(ctx context.Context, id string) (*models.Client, error) {
	client, err := s.clients.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load client")
	}
	return client, nil
}

// Create registers a new client.
func (s *ClientService) Create(ctx context.Context, req CreateClientRequest) (*models.Client, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid client payload")
	}
	client := &models.Client{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Address:  req.Address,
	}
	if err := s.clients.Create(ctx, client); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create client")
	}
	return client, nil
}
