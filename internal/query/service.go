// Package query serves the read side of the scheduling API: per-user and
// per-business appointment listings, enriched with display names from the
// catalog when it is reachable.
package query

import (
	"context"
	"log/slog"

	"github.com/booksmart-dev/booksmart/internal/catalog"
	"github.com/booksmart-dev/booksmart/internal/model"
	"github.com/booksmart-dev/booksmart/internal/scheduling"
)

// View is an appointment decorated with catalog display names. BusinessName
// and EmployeeName stay empty when the catalog lookup fails; listings never
// fail because enrichment did.
type View struct {
	model.Appointment
	BusinessName string
	EmployeeName string
}

type Service struct {
	repo    scheduling.Repository
	catalog catalog.Provider
	logger  *slog.Logger
}

func NewService(repo scheduling.Repository, provider catalog.Provider, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: provider, logger: logger}
}

// ListByUser returns the user's appointments, newest first. Canceled rows are
// excluded unless includeCanceled is set.
func (s *Service) ListByUser(ctx context.Context, userID string, includeCanceled bool) ([]View, error) {
	appts, err := s.repo.ListByUser(ctx, userID, includeCanceled)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, appts), nil
}

// ListByBusiness returns the business's appointments, newest first.
func (s *Service) ListByBusiness(ctx context.Context, businessID string, includeCanceled bool) ([]View, error) {
	appts, err := s.repo.ListByBusiness(ctx, businessID, includeCanceled)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, appts), nil
}

func (s *Service) enrich(ctx context.Context, appts []model.Appointment) []View {
	views := make([]View, 0, len(appts))
	businessNames := map[string]string{}
	employeeNames := map[string]string{}

	for _, appt := range appts {
		v := View{Appointment: appt}
		v.BusinessName = s.businessName(ctx, businessNames, appt.BusinessID)
		v.EmployeeName = s.employeeName(ctx, employeeNames, appt.EmployeeID)
		views = append(views, v)
	}
	return views
}

func (s *Service) businessName(ctx context.Context, cache map[string]string, id string) string {
	if s.catalog == nil || id == "" {
		return ""
	}
	if name, ok := cache[id]; ok {
		return name
	}
	biz, err := s.catalog.GetBusiness(ctx, id)
	if err != nil {
		s.logger.Debug("business name lookup failed", "business_id", id, "err", err)
		cache[id] = ""
		return ""
	}
	cache[id] = biz.Name
	return biz.Name
}

func (s *Service) employeeName(ctx context.Context, cache map[string]string, id string) string {
	if s.catalog == nil || id == "" {
		return ""
	}
	if name, ok := cache[id]; ok {
		return name
	}
	emp, err := s.catalog.GetEmployee(ctx, id)
	if err != nil {
		s.logger.Debug("employee name lookup failed", "employee_id", id, "err", err)
		cache[id] = ""
		return ""
	}
	cache[id] = emp.Name
	return emp.Name
}
