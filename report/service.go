package report

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrEmptyReason rejects reports with nothing to review.
var ErrEmptyReason = eris.New("report: reason is required")

// Store is the persistence surface the service depends on.
type Store interface {
	List(ctx context.Context, status Status) ([]Report, error)
	Create(ctx context.Context, reporterID *string, companyID, reason string) (Report, error)
	Resolve(ctx context.Context, id, adminID string) (Report, error)
}

type Service struct {
	repo Store
}

func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, isAdmin bool, status Status) ([]Report, error) {
	if !isAdmin {
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, status)
}

// Create files a report against a company. An empty reporterID records an anonymous report.
func (s *Service) Create(ctx context.Context, reporterID, companyID, reason string) (Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Report{}, ErrEmptyReason
	}
	var reporter *string
	if reporterID != "" {
		reporter = &reporterID
	}
	rep, err := s.repo.Create(ctx, reporter, companyID, reason)
	if err != nil {
		return Report{}, err
	}
	zap.L().Info("content report filed", zap.String("report_id", rep.ID), zap.String("company_id", companyID))
	return rep, nil
}

func (s *Service) Resolve(ctx context.Context, adminID string, isAdmin bool, id string) (Report, error) {
	if !isAdmin {
		return Report{}, ErrForbidden
	}
	return s.repo.Resolve(ctx, id, adminID)
}
