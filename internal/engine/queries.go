package engine

import (
	"context"
	"time"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/lifecycle"
	"siteline/internal/repo"
)

// GetProjectSummary derives the project summary at asOf (zero means now).
// It does not mutate state, so repeated calls return identical results.
func (e Engine) GetProjectSummary(ctx context.Context, projectID string, asOf time.Time) (domain.ProjectSummary, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ProjectSummary{}, err
	}
	return lifecycle.Summarize(&p, orNow(asOf, e.now())), nil
}

func (e Engine) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, projectID)
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilter) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, f)
}

// ListAppointments returns the current appointments, or the full history
// (superseded included, in appointment order) when includeHistory is set.
func (e Engine) ListAppointments(ctx context.Context, projectID string, includeHistory bool) ([]domain.Appointment, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := []domain.Appointment{}
	for _, a := range p.Appointments {
		if includeHistory || a.Current() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

func (e Engine) ListMonitoringReports(ctx context.Context, projectID, kind string, limit int) ([]domain.MonitoringReport, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListMonitoringReports(ctx, projectID, kind, limit)
}

// ProjectCatalog returns the catalog snapshot the project was created from.
func (e Engine) ProjectCatalog(ctx context.Context, projectID string) (*config.Config, error) {
	return e.Repo.GetCatalogSnapshot(ctx, projectID)
}
