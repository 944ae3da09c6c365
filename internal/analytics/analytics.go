// Package analytics computes read-only aggregates over the entity store:
// per-user role dashboards, sprint velocity, compliance posture and
// deployment health.
package analytics

import (
	"context"
	"errors"
	"sort"
	"time"

	"teamline/internal/domain"
	"teamline/internal/repo"
)

// ErrUnknownRole is returned for dashboard requests naming a role outside
// the catalog.
var ErrUnknownRole = errors.New("unknown role")

type Service struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Service {
	return Service{Repo: r, Now: time.Now}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Dashboard is one user's view of their work, shaped by their role.
type Dashboard struct {
	Role           string         `json:"role"`
	UserID         string         `json:"user_id"`
	ActiveProjects int            `json:"active_projects"`
	MyActiveTasks  int            `json:"my_active_tasks"`
	Sections       map[string]any `json:"sections"`
}

const (
	securityScanWindow = 20
	devopsRunWindow    = 10
	recentWeek         = 7 * 24 * time.Hour
)

// RoleDashboard assembles the dashboard for one user. Common metrics cover
// the caller's projects and open tasks; the sections depend on the caller's
// role. An optional projectID narrows everything to one project.
func (s Service) RoleDashboard(ctx context.Context, user domain.User, projectID string) (Dashboard, error) {
	if !domain.ValidRole(user.Role) {
		return Dashboard{}, ErrUnknownRole
	}
	projectIDs, err := s.Repo.ProjectIDsForUser(ctx, user.ID)
	if err != nil {
		return Dashboard{}, err
	}
	if projectID != "" {
		if _, err := s.Repo.GetProject(ctx, projectID); err != nil {
			return Dashboard{}, err
		}
		projectIDs = intersect(projectIDs, projectID)
	}
	myActive, err := s.Repo.CountTasks(ctx, repo.TaskFilters{AssigneeID: user.ID, NotStatus: domain.TaskDone})
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{
		Role:           user.Role,
		UserID:         user.ID,
		ActiveProjects: len(projectIDs),
		MyActiveTasks:  myActive,
		Sections:       map[string]any{},
	}
	switch user.Role {
	case domain.RoleFrontendDeveloper, domain.RoleBackendDeveloper, domain.RoleAIMLEngineer:
		err = s.developerSections(ctx, user, &d)
	case domain.RoleQAEngineer:
		err = s.qaSections(ctx, user, projectID, &d)
	case domain.RoleDevopsEngineer:
		err = s.devopsSections(ctx, projectID, &d)
	case domain.RoleCybersecurityEngineer:
		err = s.securitySections(ctx, projectID, &d)
	case domain.RoleProductDesigner:
		err = s.designerSections(ctx, user, projectID, &d)
	case domain.RoleStakeholder:
		err = s.stakeholderSections(ctx, projectIDs, &d)
	case domain.RoleProductManager, domain.RoleProductOwner, domain.RoleAdmin:
		err = s.managerSections(ctx, user, projectIDs, &d)
	}
	if err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

func (s Service) developerSections(ctx context.Context, user domain.User, d *Dashboard) error {
	inProgress, err := s.Repo.CountTasks(ctx, repo.TaskFilters{AssigneeID: user.ID, Status: domain.TaskInProgress})
	if err != nil {
		return err
	}
	weekAgo := s.now().UTC().Add(-recentWeek).Format(time.RFC3339)
	completedThisWeek, err := s.Repo.CountTasks(ctx, repo.TaskFilters{AssigneeID: user.ID, Status: domain.TaskDone, CompletedFrom: weekAgo})
	if err != nil {
		return err
	}
	blocked, err := s.Repo.CountTasks(ctx, repo.TaskFilters{AssigneeID: user.ID, Status: domain.TaskBlocked})
	if err != nil {
		return err
	}
	d.Sections["tasks_in_progress"] = inProgress
	d.Sections["completed_this_week"] = completedThisWeek
	d.Sections["blocked_tasks"] = blocked
	return nil
}

func (s Service) qaSections(ctx context.Context, user domain.User, projectID string, d *Dashboard) error {
	inQA, err := s.Repo.CountTasks(ctx, repo.TaskFilters{ProjectID: projectID, CurrentRole: domain.RoleQAEngineer})
	if err != nil {
		return err
	}
	passed, failed, err := s.Repo.TestCaseRollup(ctx, user.ID)
	if err != nil {
		return err
	}
	d.Sections["tasks_in_qa"] = inQA
	d.Sections["tests_passed"] = passed
	d.Sections["tests_failed"] = failed
	return nil
}

func (s Service) devopsSections(ctx context.Context, projectID string, d *Dashboard) error {
	pipelines, err := s.Repo.ListPipelines(ctx, repo.PipelineFilters{ProjectID: projectID, Limit: devopsRunWindow})
	if err != nil {
		return err
	}
	finished, succeeded, failed := 0, 0, 0
	for _, p := range pipelines {
		switch p.Status {
		case domain.PipelineSuccess:
			succeeded++
			finished++
		case domain.PipelineFailed:
			failed++
			finished++
		case domain.PipelineCancelled, domain.PipelineSkipped:
			finished++
		}
	}
	rate := 0.0
	if finished > 0 {
		rate = 100 * float64(succeeded) / float64(finished)
	}
	d.Sections["recent_pipelines"] = len(pipelines)
	d.Sections["success_rate"] = rate
	d.Sections["failed_pipelines"] = failed
	return nil
}

func (s Service) securitySections(ctx context.Context, projectID string, d *Dashboard) error {
	pipelines, err := s.Repo.ListPipelines(ctx, repo.PipelineFilters{ProjectID: projectID, Limit: securityScanWindow})
	if err != nil {
		return err
	}
	var counts domain.VulnerabilityCounts
	for _, p := range pipelines {
		if p.Vulnerabilities == nil {
			continue
		}
		counts.Critical += p.Vulnerabilities.Critical
		counts.High += p.Vulnerabilities.High
		counts.Medium += p.Vulnerabilities.Medium
		counts.Low += p.Vulnerabilities.Low
	}
	d.Sections["vulnerabilities"] = counts
	d.Sections["total_vulnerabilities"] = counts.Critical + counts.High + counts.Medium + counts.Low
	return nil
}

func (s Service) designerSections(ctx context.Context, user domain.User, projectID string, d *Dashboard) error {
	pending, err := s.Repo.CountTasks(ctx, repo.TaskFilters{ProjectID: projectID, CurrentRole: domain.RoleProductDesigner})
	if err != nil {
		return err
	}
	reviews, err := s.Repo.CountTasks(ctx, repo.TaskFilters{AssigneeID: user.ID, Status: domain.TaskInReview})
	if err != nil {
		return err
	}
	d.Sections["design_tasks_pending"] = pending
	d.Sections["reviews_needed"] = reviews
	return nil
}

func (s Service) stakeholderSections(ctx context.Context, projectIDs []string, d *Dashboard) error {
	onTrack := 0
	approvedPRDs := 0
	for _, id := range projectIDs {
		p, err := s.Repo.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == "active" {
			onTrack++
		}
		n, err := s.Repo.CountPRDs(ctx, repo.PRDFilters{ProjectID: id, Status: "approved"})
		if err != nil {
			return err
		}
		approvedPRDs += n
	}
	total, done := 0, 0
	if len(projectIDs) > 0 {
		var err error
		total, err = s.Repo.CountTasks(ctx, repo.TaskFilters{ProjectIDs: projectIDs})
		if err != nil {
			return err
		}
		done, err = s.Repo.CountTasks(ctx, repo.TaskFilters{ProjectIDs: projectIDs, Status: domain.TaskDone})
		if err != nil {
			return err
		}
	}
	rate := 0.0
	if total > 0 {
		rate = 100 * float64(done) / float64(total)
	}
	d.Sections["total_projects"] = len(projectIDs)
	d.Sections["projects_on_track"] = onTrack
	d.Sections["total_tasks"] = total
	d.Sections["completion_rate"] = rate
	d.Sections["approved_prds"] = approvedPRDs
	return nil
}

func (s Service) managerSections(ctx context.Context, user domain.User, projectIDs []string, d *Dashboard) error {
	authored, err := s.Repo.CountPRDs(ctx, repo.PRDFilters{AuthorID: user.ID})
	if err != nil {
		return err
	}
	byStatus := map[string]int{}
	for _, status := range []string{domain.TaskBacklog, domain.TaskInProgress, domain.TaskDone} {
		if len(projectIDs) == 0 {
			byStatus[status] = 0
			continue
		}
		n, err := s.Repo.CountTasks(ctx, repo.TaskFilters{ProjectIDs: projectIDs, Status: status})
		if err != nil {
			return err
		}
		byStatus[status] = n
	}
	d.Sections["total_projects"] = len(projectIDs)
	d.Sections["total_prds"] = authored
	d.Sections["tasks_by_status"] = byStatus
	return nil
}

func intersect(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return []string{id}
		}
	}
	return nil
}

// Velocity summarizes completed story points per sprint in a date range.
type Velocity struct {
	From             string           `json:"from,omitempty"`
	To               string           `json:"to,omitempty"`
	TotalStoryPoints int              `json:"total_story_points"`
	Sprints          []SprintVelocity `json:"sprints"`
	AverageVelocity  float64          `json:"average_velocity"`
}

type SprintVelocity struct {
	Sprint      string `json:"sprint"`
	Tasks       int    `json:"tasks"`
	StoryPoints int    `json:"story_points"`
}

// VelocityMetrics aggregates story points of tasks completed inside the
// range, grouped by sprint. The average divides total points by the number
// of sprints that completed at least one task, so sprints with nothing done
// do not dilute it.
func (s Service) VelocityMetrics(ctx context.Context, projectID, from, to string) (Velocity, error) {
	tasks, err := s.Repo.ListTasks(ctx, repo.TaskFilters{
		ProjectID:     projectID,
		Status:        domain.TaskDone,
		CompletedFrom: from,
		CompletedTo:   to,
	})
	if err != nil {
		return Velocity{}, err
	}
	v := Velocity{From: from, To: to, Sprints: []SprintVelocity{}}
	groups := map[string]*SprintVelocity{}
	for _, t := range tasks {
		points := 0
		if t.StoryPoints != nil {
			points = *t.StoryPoints
		}
		v.TotalStoryPoints += points
		sprint := "unassigned"
		if t.Sprint != nil {
			sprint = *t.Sprint
		}
		g, ok := groups[sprint]
		if !ok {
			g = &SprintVelocity{Sprint: sprint}
			groups[sprint] = g
		}
		g.Tasks++
		g.StoryPoints += points
	}
	for _, g := range groups {
		v.Sprints = append(v.Sprints, *g)
	}
	sort.Slice(v.Sprints, func(i, j int) bool { return v.Sprints[i].Sprint < v.Sprints[j].Sprint })
	if len(v.Sprints) > 0 {
		v.AverageVelocity = float64(v.TotalStoryPoints) / float64(len(v.Sprints))
	}
	return v, nil
}

// Compliance summarizes the latest reports for a project.
type Compliance struct {
	Reports              []domain.ComplianceReport `json:"reports"`
	AverageScore         float64                   `json:"average_score"`
	DeviationsBySeverity map[string]int            `json:"deviations_by_severity"`
}

const complianceWindow = 10

// ComplianceAnalytics covers the latest reports, their mean score and the
// deviation counts across them.
func (s Service) ComplianceAnalytics(ctx context.Context, projectID string) (Compliance, error) {
	reports, err := s.Repo.ListComplianceReports(ctx, projectID, complianceWindow)
	if err != nil {
		return Compliance{}, err
	}
	c := Compliance{
		Reports:              reports,
		DeviationsBySeverity: map[string]int{},
	}
	if c.Reports == nil {
		c.Reports = []domain.ComplianceReport{}
	}
	var total float64
	for _, r := range reports {
		total += r.Score
		for _, d := range r.Deviations {
			c.DeviationsBySeverity[d.Severity]++
		}
	}
	if len(reports) > 0 {
		c.AverageScore = total / float64(len(reports))
	}
	return c, nil
}

// Deployments summarizes pipeline health over a trailing window.
type Deployments struct {
	WindowDays      int                       `json:"window_days"`
	Total           int                       `json:"total"`
	SuccessRate     float64                   `json:"success_rate"`
	AverageDuration float64                   `json:"average_duration_seconds"`
	ByEnvironment   map[string]EnvDeployments `json:"by_environment"`
}

type EnvDeployments struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// DeploymentAnalytics computes success rate and mean duration for pipelines
// started inside the trailing window. Pending and running pipelines count
// toward totals but not durations.
func (s Service) DeploymentAnalytics(ctx context.Context, projectID string, windowDays int) (Deployments, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := s.now().UTC().AddDate(0, 0, -windowDays).Format(time.RFC3339)
	pipelines, err := s.Repo.ListPipelines(ctx, repo.PipelineFilters{ProjectID: projectID, Since: since})
	if err != nil {
		return Deployments{}, err
	}
	d := Deployments{
		WindowDays:    windowDays,
		Total:         len(pipelines),
		ByEnvironment: map[string]EnvDeployments{},
	}
	finished := 0
	succeeded := 0
	var totalDuration float64
	measured := 0
	for _, p := range pipelines {
		env := d.ByEnvironment[p.Environment]
		env.Total++
		switch p.Status {
		case domain.PipelineSuccess:
			env.Success++
			succeeded++
			finished++
		case domain.PipelineFailed:
			env.Failed++
			finished++
		case domain.PipelineCancelled, domain.PipelineSkipped:
			finished++
		}
		d.ByEnvironment[p.Environment] = env
		if p.FinishedAt != nil {
			start, err1 := time.Parse(time.RFC3339, p.StartedAt)
			end, err2 := time.Parse(time.RFC3339, *p.FinishedAt)
			if err1 == nil && err2 == nil && end.After(start) {
				totalDuration += end.Sub(start).Seconds()
				measured++
			}
		}
	}
	if finished > 0 {
		d.SuccessRate = 100 * float64(succeeded) / float64(finished)
	}
	if measured > 0 {
		d.AverageDuration = totalDuration / float64(measured)
	}
	return d, nil
}
