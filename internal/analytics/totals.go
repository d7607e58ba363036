package analytics

import (
	"context"
	"time"

	"visitrack/internal/visitors"
)

// ProjectTotal is the unique visitor count of one project.
type ProjectTotal struct {
	ProjectName    string `json:"projectName"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

// UniqueCount is the number of identities recorded for project, or for every
// project when project is "All".
func (e *Engine) UniqueCount(ctx context.Context, project string) (int64, error) {
	if err := requireProject(project); err != nil {
		return 0, err
	}
	return e.store.Count(ctx, visitors.Filter{ProjectName: project})
}

// TotalVisits groups visitors by project.
func (e *Engine) TotalVisits(ctx context.Context) ([]ProjectTotal, error) {
	totals := []ProjectTotal{}
	err := e.visitors().WithContext(ctx).
		Select("project_name, COUNT(*) AS unique_visitors").
		Group("project_name").
		Order("project_name ASC").
		Scan(&totals).Error
	if err != nil {
		return nil, queryErr("total visits", err)
	}
	return totals, nil
}

// Growth is the per-project total under the name the growth endpoint uses.
// The time-based growth series is MonthlyGrowth.
func (e *Engine) Growth(ctx context.Context) ([]ProjectTotal, error) {
	return e.TotalVisits(ctx)
}

// Projects lists every project name with at least one visitor.
func (e *Engine) Projects(ctx context.Context) ([]string, error) {
	names := []string{}
	err := e.visitors().WithContext(ctx).
		Distinct("project_name").
		Order("project_name ASC").
		Pluck("project_name", &names).Error
	if err != nil {
		return nil, queryErr("projects", err)
	}
	return names, nil
}

// CountBetween counts visitors of project whose last visit falls in [from, to].
func (e *Engine) CountBetween(ctx context.Context, project string, from, to time.Time) (int64, error) {
	if err := requireProject(project); err != nil {
		return 0, err
	}
	return e.store.Count(ctx, visitors.Filter{ProjectName: project, From: &from, To: &to})
}
