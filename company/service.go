package company

import (
	"context"

	"realtyclaims/auth"
)

// Reader abstracts repository operations for the service.
type Reader interface {
	GetByID(ctx context.Context, id string) (Company, error)
	List(ctx context.Context, filters ListFilters) ([]Company, error)
}

// RepresentativeLister lists accounts linked to a company.
type RepresentativeLister interface {
	ListByCompanyRole(ctx context.Context, companyID string, role auth.Role) ([]auth.User, error)
}

// Service exposes directory reads.
type Service struct {
	repo  Reader
	users RepresentativeLister
}

// NewService builds a Service using the provided repository.
func NewService(repo Reader, users RepresentativeLister) *Service {
	return &Service{repo: repo, users: users}
}

// GetByID returns the company for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Company, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of companies.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Company, error) {
	return s.repo.List(ctx, filters)
}

// Representatives returns the company-role accounts of a company.
func (s *Service) Representatives(ctx context.Context, companyID string) ([]auth.User, error) {
	if _, err := s.repo.GetByID(ctx, companyID); err != nil {
		return nil, err
	}
	return s.users.ListByCompanyRole(ctx, companyID, auth.RoleCompany)
}
