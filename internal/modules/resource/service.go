package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/repository"
)

type Repository interface {
	Create(ctx context.Context, res *domain.Resource) error
	GetByID(ctx context.Context, tenantID, id int64) (*domain.Resource, error)
	List(ctx context.Context, tenantID int64, activeOnly bool) ([]domain.Resource, error)
	SetActive(ctx context.Context, tenantID, id int64, active bool) error
}

type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity" binding:"required" validate:"gte=1"`
}

// Service is the tenant's resource registry.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, tenantID int64, req CreateRequest) (*domain.Resource, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.Quantity < 1 {
		return nil, ErrValidation
	}

	res := &domain.Resource{
		TenantID:    tenantID,
		Name:        name,
		Description: req.Description,
		Quantity:    req.Quantity,
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, res); err != nil {
		log.Error().Err(err).Int64("tenant_id", tenantID).Msg("failed to create resource")
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func (s *Service) List(ctx context.Context, tenantID int64, activeOnly bool) ([]domain.Resource, error) {
	return s.repo.List(ctx, tenantID, activeOnly)
}

func (s *Service) Get(ctx context.Context, tenantID, id int64) (*domain.Resource, error) {
	res, err := s.repo.GetByID(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return res, err
}

// Deactivate hides a resource from new bookings. Existing bookings stay.
func (s *Service) Deactivate(ctx context.Context, tenantID, id int64) (*domain.Resource, error) {
	if err := s.repo.SetActive(ctx, tenantID, id, false); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to deactivate resource: %w", err)
	}
	return s.Get(ctx, tenantID, id)
}
