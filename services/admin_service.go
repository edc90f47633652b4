package services

import (
	"context"
	"fmt"
	"time"

	"smart-queue/models"

	"github.com/shopspring/decimal"
)

// AdminAPI is the part of the REST client an administrator uses.
type AdminAPI interface {
	AdminServices(ctx context.Context) ([]models.Service, error)
	CreateService(ctx context.Context, in models.ServiceInput) (models.Service, error)
	UpdateService(ctx context.Context, id int64, in models.ServiceInput) (models.Service, error)
	DeleteService(ctx context.Context, id int64) error

	AdminUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, in models.UserInput) (models.User, error)
	UpdateUser(ctx context.Context, id int64, in models.UserInput) (models.User, error)
	DeleteUser(ctx context.Context, id int64) error

	AdminCounters(ctx context.Context) ([]models.Counter, error)
	CreateCounter(ctx context.Context, in models.CounterInput) (models.Counter, error)
	DeleteCounter(ctx context.Context, id int64) error

	Analytics(ctx context.Context) ([]models.ServiceAnalytics, error)
}

// AdminService validates admin input locally before it is sent.
type AdminService struct {
	api AdminAPI
}

func NewAdminService(api AdminAPI) *AdminService {
	return &AdminService{api: api}
}

func (s *AdminService) Services(ctx context.Context) ([]models.Service, error) {
	return s.api.AdminServices(ctx)
}

func (s *AdminService) CreateService(ctx context.Context, in models.ServiceInput) (models.Service, error) {
	if err := ValidateInput(in); err != nil {
		return models.Service{}, err
	}
	return s.api.CreateService(ctx, in)
}

func (s *AdminService) UpdateService(ctx context.Context, id int64, in models.ServiceInput) (models.Service, error) {
	if err := ValidateInput(in); err != nil {
		return models.Service{}, err
	}
	return s.api.UpdateService(ctx, id, in)
}

func (s *AdminService) DeleteService(ctx context.Context, id int64) error {
	return s.api.DeleteService(ctx, id)
}

func (s *AdminService) Users(ctx context.Context) ([]models.User, error) {
	return s.api.AdminUsers(ctx)
}

// CreateUser requires a password in addition to the usual user checks.
func (s *AdminService) CreateUser(ctx context.Context, in models.UserInput) (models.User, error) {
	if err := ValidateNewUser(in); err != nil {
		return models.User{}, err
	}
	return s.api.CreateUser(ctx, in)
}

func (s *AdminService) UpdateUser(ctx context.Context, id int64, in models.UserInput) (models.User, error) {
	if err := ValidateInput(in); err != nil {
		return models.User{}, err
	}
	return s.api.UpdateUser(ctx, id, in)
}

func (s *AdminService) DeleteUser(ctx context.Context, id int64) error {
	return s.api.DeleteUser(ctx, id)
}

func (s *AdminService) Counters(ctx context.Context) ([]models.Counter, error) {
	return s.api.AdminCounters(ctx)
}

func (s *AdminService) CreateCounter(ctx context.Context, in models.CounterInput) (models.Counter, error) {
	if err := ValidateInput(in); err != nil {
		return models.Counter{}, err
	}
	return s.api.CreateCounter(ctx, in)
}

func (s *AdminService) DeleteCounter(ctx context.Context, id int64) error {
	return s.api.DeleteCounter(ctx, id)
}

// ValidateNewUser checks a registration or admin create payload.
func ValidateNewUser(in models.UserInput) error {
	if err := ValidateInput(in); err != nil {
		return err
	}
	if in.Password == "" {
		return &ValidationError{Fields: map[string]string{"password": "password is a required field"}}
	}
	return nil
}

// AnalyticsSummary is one service's analytics row with derived figures.
type AnalyticsSummary struct {
	models.ServiceAnalytics
	AverageWait        time.Duration
	AverageWaitMinutes decimal.Decimal
	CompletionRate     decimal.Decimal
}

// AnalyticsReport is today's analytics for every service plus totals.
type AnalyticsReport struct {
	Services       []AnalyticsSummary
	TotalUsers     int
	CompletedUsers int
	SkippedUsers   int
	CompletionRate decimal.Decimal
}

func (s *AdminService) Analytics(ctx context.Context) (AnalyticsReport, error) {
	rows, err := s.api.Analytics(ctx)
	if err != nil {
		return AnalyticsReport{}, err
	}
	return Summarize(rows)
}

// Summarize derives per-service and overall figures from raw rows.
func Summarize(rows []models.ServiceAnalytics) (AnalyticsReport, error) {
	report := AnalyticsReport{Services: make([]AnalyticsSummary, 0, len(rows))}
	for _, row := range rows {
		wait, err := row.AverageWait()
		if err != nil {
			return AnalyticsReport{}, fmt.Errorf("analytics: service %d: %w", row.ServiceID, err)
		}
		minutes, err := row.AverageWaitMinutes()
		if err != nil {
			return AnalyticsReport{}, fmt.Errorf("analytics: service %d: %w", row.ServiceID, err)
		}
		report.Services = append(report.Services, AnalyticsSummary{
			ServiceAnalytics:   row,
			AverageWait:        wait,
			AverageWaitMinutes: minutes,
			CompletionRate:     row.CompletionRate(),
		})
		report.TotalUsers += row.TotalUsers
		report.CompletedUsers += row.CompletedUsers
		report.SkippedUsers += row.SkippedUsers
	}

	total := models.ServiceAnalytics{TotalUsers: report.TotalUsers, CompletedUsers: report.CompletedUsers}
	report.CompletionRate = total.CompletionRate()
	return report, nil
}
