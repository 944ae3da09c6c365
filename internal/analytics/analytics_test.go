package analytics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"teamline/internal/analytics"
	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/migrate"
	"teamline/internal/repo"
)

type testEnv struct {
	Engine    engine.Engine
	Analytics analytics.Service
	Ctx       context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.BcryptCost = 4
	e := engine.New(conn, cfg)
	return testEnv{
		Engine:    e,
		Analytics: analytics.New(e.Repo),
		Ctx:       context.Background(),
	}
}

func mustUser(t *testing.T, env testEnv, email, role string) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Email: email, Name: email, Role: role, Password: "password123",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func mustProject(t *testing.T, env testEnv, key string, owner domain.User) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Key: key, Name: key + " project", ActorID: owner.ID,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func mustTask(t *testing.T, env testEnv, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func setStatus(t *testing.T, env testEnv, task domain.Task, status, actorID string) {
	t.Helper()
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Status: &status, ActorID: actorID,
	}); err != nil {
		t.Fatalf("move %s to %s: %v", task.Key, status, err)
	}
}

func insertPipeline(t *testing.T, env testEnv, p domain.Pipeline) {
	t.Helper()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := env.Engine.Repo.InsertPipeline(env.Ctx, tx, p); err != nil {
		tx.Rollback()
		t.Fatalf("insert pipeline: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit pipeline: %v", err)
	}
}

func TestRoleDashboardValidation(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	mustProject(t, env, "WEB", pm)

	wizard := domain.User{ID: uuid.New().String(), Role: "wizard"}
	if _, err := env.Analytics.RoleDashboard(env.Ctx, wizard, ""); !errors.Is(err, analytics.ErrUnknownRole) {
		t.Fatalf("want ErrUnknownRole, got %v", err)
	}
	if _, err := env.Analytics.RoleDashboard(env.Ctx, pm, "no-such-project"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestQADashboard(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	qa := mustUser(t, env, "qa@example.com", domain.RoleQAEngineer)
	p := mustProject(t, env, "WEB", pm)
	if _, err := env.Engine.AddTeamMember(env.Ctx, p.ID, qa.ID, "", pm); err != nil {
		t.Fatalf("add team member: %v", err)
	}

	verify := mustTask(t, env, engine.TaskCreateOptions{ProjectID: p.ID, Title: "verify checkout", ActorID: pm.ID})
	if _, err := env.Engine.HandoffTask(env.Ctx, verify.ID, domain.RoleQAEngineer, qa.ID, "", pm); err != nil {
		t.Fatalf("handoff: %v", err)
	}
	tc, err := env.Engine.AddTestCase(env.Ctx, verify.ID, "empty cart", "", qa.ID)
	if err != nil {
		t.Fatalf("add test case: %v", err)
	}
	if err := env.Engine.SetTestCaseStatus(env.Ctx, verify.ID, tc.ID, "passed", "", qa.ID); err != nil {
		t.Fatalf("pass test case: %v", err)
	}

	broken := mustTask(t, env, engine.TaskCreateOptions{ProjectID: p.ID, Title: "flaky search", AssigneeID: qa.ID, ActorID: pm.ID})
	tc2, err := env.Engine.AddTestCase(env.Ctx, broken.ID, "fuzzy match", "", qa.ID)
	if err != nil {
		t.Fatalf("add test case: %v", err)
	}
	if err := env.Engine.SetTestCaseStatus(env.Ctx, broken.ID, tc2.ID, "failed", "", qa.ID); err != nil {
		t.Fatalf("fail test case: %v", err)
	}

	d, err := env.Analytics.RoleDashboard(env.Ctx, qa, p.ID)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Role != domain.RoleQAEngineer || d.UserID != qa.ID {
		t.Fatalf("dashboard should describe the caller: %+v", d)
	}
	if d.ActiveProjects != 1 {
		t.Fatalf("qa is on one project, got %d", d.ActiveProjects)
	}
	if d.MyActiveTasks != 2 {
		t.Fatalf("qa holds two open tasks, got %d", d.MyActiveTasks)
	}
	if got, ok := d.Sections["tasks_in_qa"].(int); !ok || got != 1 {
		t.Fatalf("want tasks_in_qa=1, got %#v", d.Sections["tasks_in_qa"])
	}
	if got, ok := d.Sections["tests_passed"].(int); !ok || got != 1 {
		t.Fatalf("want tests_passed=1, got %#v", d.Sections["tests_passed"])
	}
	if got, ok := d.Sections["tests_failed"].(int); !ok || got != 1 {
		t.Fatalf("want tests_failed=1, got %#v", d.Sections["tests_failed"])
	}
}

func TestManagerDashboard(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	p := mustProject(t, env, "WEB", pm)
	mustProject(t, env, "API", pm)

	mustTask(t, env, engine.TaskCreateOptions{ProjectID: p.ID, Title: "backlog item", ActorID: pm.ID})
	done := mustTask(t, env, engine.TaskCreateOptions{ProjectID: p.ID, Title: "shipped", AssigneeID: pm.ID, ActorID: pm.ID})
	setStatus(t, env, done, domain.TaskDone, pm.ID)
	if _, err := env.Engine.CreatePRD(env.Ctx, engine.PRDCreateOptions{ProjectID: p.ID, Title: "Search", ActorID: pm.ID}); err != nil {
		t.Fatalf("create prd: %v", err)
	}

	d, err := env.Analytics.RoleDashboard(env.Ctx, pm, "")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if got, ok := d.Sections["total_projects"].(int); !ok || got != 2 {
		t.Fatalf("want total_projects=2, got %#v", d.Sections["total_projects"])
	}
	if got, ok := d.Sections["total_prds"].(int); !ok || got != 1 {
		t.Fatalf("want total_prds=1, got %#v", d.Sections["total_prds"])
	}
	byStatus, ok := d.Sections["tasks_by_status"].(map[string]int)
	if !ok || byStatus[domain.TaskBacklog] != 1 || byStatus[domain.TaskDone] != 1 {
		t.Fatalf("unexpected status breakdown: %#v", d.Sections["tasks_by_status"])
	}

	// Narrowing to one project drops the other from the counts.
	d, err = env.Analytics.RoleDashboard(env.Ctx, pm, p.ID)
	if err != nil {
		t.Fatalf("scoped dashboard: %v", err)
	}
	if got, ok := d.Sections["total_projects"].(int); !ok || got != 1 {
		t.Fatalf("want total_projects=1 when scoped, got %#v", d.Sections["total_projects"])
	}
}

func TestVelocityMetrics(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	p := mustProject(t, env, "WEB", pm)

	five, three, eight := 5, 3, 8
	s1a := mustTask(t, env, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "s1 done", Sprint: "2026-S1", StoryPoints: &five, AssigneeID: pm.ID, ActorID: pm.ID,
	})
	setStatus(t, env, s1a, domain.TaskDone, pm.ID)
	mustTask(t, env, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "s2 open", Sprint: "2026-S2", StoryPoints: &three, ActorID: pm.ID,
	})

	// A sprint with nothing completed forms no group and does not dilute
	// the average.
	v, err := env.Analytics.VelocityMetrics(env.Ctx, p.ID, "", "")
	if err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if len(v.Sprints) != 1 || v.Sprints[0].Sprint != "2026-S1" {
		t.Fatalf("want only the sprint with completed work, got %#v", v.Sprints)
	}
	if v.TotalStoryPoints != 5 || v.AverageVelocity != 5 {
		t.Fatalf("average should divide by sprints with completed work: %#v", v)
	}

	s2 := mustTask(t, env, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "s2 done", Sprint: "2026-S2", StoryPoints: &eight, AssigneeID: pm.ID, ActorID: pm.ID,
	})
	setStatus(t, env, s2, domain.TaskDone, pm.ID)

	v, err = env.Analytics.VelocityMetrics(env.Ctx, p.ID, "", "")
	if err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if len(v.Sprints) != 2 {
		t.Fatalf("want 2 sprints, got %d", len(v.Sprints))
	}
	if v.Sprints[0].Sprint != "2026-S1" || v.Sprints[0].StoryPoints != 5 || v.Sprints[0].Tasks != 1 {
		t.Fatalf("unexpected S1 totals: %#v", v.Sprints[0])
	}
	if v.Sprints[1].Sprint != "2026-S2" || v.Sprints[1].StoryPoints != 8 {
		t.Fatalf("unexpected S2 totals: %#v", v.Sprints[1])
	}
	if v.TotalStoryPoints != 13 || v.AverageVelocity != 6.5 {
		t.Fatalf("unexpected totals: %#v", v)
	}
}

func TestVelocityDateRange(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	p := mustProject(t, env, "WEB", pm)

	five := 5
	task := mustTask(t, env, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "done", Sprint: "2026-S1", StoryPoints: &five, AssigneeID: pm.ID, ActorID: pm.ID,
	})
	setStatus(t, env, task, domain.TaskDone, pm.ID)

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	v, err := env.Analytics.VelocityMetrics(env.Ctx, p.ID, past, future)
	if err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if v.TotalStoryPoints != 5 || len(v.Sprints) != 1 {
		t.Fatalf("completion inside the range should count: %#v", v)
	}

	v, err = env.Analytics.VelocityMetrics(env.Ctx, p.ID, future, "")
	if err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if len(v.Sprints) != 0 || v.TotalStoryPoints != 0 || v.AverageVelocity != 0 {
		t.Fatalf("completion before the range should not count: %#v", v)
	}
}

func TestDeploymentAnalyticsWindowAndRates(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	p := mustProject(t, env, "WEB", pm)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	env.Analytics.Now = func() time.Time { return now }
	stamp := func(t time.Time) string { return t.Format(time.RFC3339) }
	ptr := func(s string) *string { return &s }

	start1 := now.Add(-2 * time.Hour)
	insertPipeline(t, env, domain.Pipeline{
		ProjectID: p.ID, Provider: "github", Environment: "production", Status: "success",
		StartedAt: stamp(start1), FinishedAt: ptr(stamp(start1.Add(120 * time.Second))),
	})
	start2 := now.Add(-24 * time.Hour)
	insertPipeline(t, env, domain.Pipeline{
		ProjectID: p.ID, Provider: "github", Environment: "staging", Status: "failed",
		StartedAt: stamp(start2), FinishedAt: ptr(stamp(start2.Add(60 * time.Second))),
	})
	insertPipeline(t, env, domain.Pipeline{
		ProjectID: p.ID, Provider: "gitlab", Environment: "production", Status: "running",
		StartedAt: stamp(now.Add(-10 * time.Minute)),
	})
	stale := now.AddDate(0, 0, -45)
	insertPipeline(t, env, domain.Pipeline{
		ProjectID: p.ID, Provider: "github", Environment: "production", Status: "success",
		StartedAt: stamp(stale), FinishedAt: ptr(stamp(stale.Add(30 * time.Second))),
	})

	d, err := env.Analytics.DeploymentAnalytics(env.Ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("deployments: %v", err)
	}
	if d.WindowDays != 30 {
		t.Fatalf("window default: want 30, got %d", d.WindowDays)
	}
	if d.Total != 3 {
		t.Fatalf("total: want 3 inside the window, got %d", d.Total)
	}
	if d.SuccessRate != 50 {
		t.Fatalf("success rate over finished runs: want 50, got %v", d.SuccessRate)
	}
	if d.AverageDuration != 90 {
		t.Fatalf("average duration: want 90s, got %v", d.AverageDuration)
	}
	prod := d.ByEnvironment["production"]
	if prod.Total != 2 || prod.Success != 1 || prod.Failed != 0 {
		t.Fatalf("unexpected production breakdown: %#v", prod)
	}
	staging := d.ByEnvironment["staging"]
	if staging.Total != 1 || staging.Failed != 1 {
		t.Fatalf("unexpected staging breakdown: %#v", staging)
	}
}

func TestDeploymentAnalyticsEmpty(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	p := mustProject(t, env, "WEB", pm)

	d, err := env.Analytics.DeploymentAnalytics(env.Ctx, p.ID, 7)
	if err != nil {
		t.Fatalf("deployments: %v", err)
	}
	if d.WindowDays != 7 || d.Total != 0 || d.SuccessRate != 0 || d.AverageDuration != 0 {
		t.Fatalf("want zeroed metrics, got %#v", d)
	}
}

func TestComplianceAnalytics(t *testing.T) {
	env := newTestEnv(t)
	sec := mustUser(t, env, "sec@example.com", domain.RoleCybersecurityEngineer)
	p := mustProject(t, env, "WEB", sec)

	c, err := env.Analytics.ComplianceAnalytics(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("compliance: %v", err)
	}
	if c.Reports == nil || len(c.Reports) != 0 || c.AverageScore != 0 {
		t.Fatalf("want empty report set with zero average, got %#v", c)
	}

	if _, err := env.Engine.SubmitComplianceReport(env.Ctx, engine.ComplianceReportOptions{
		ProjectID: p.ID, Framework: "SOC2", Score: 90, Status: "compliant",
		Deviations: []domain.Deviation{{Severity: "low", Description: "stale access review"}},
		ActorID:    sec.ID,
	}); err != nil {
		t.Fatalf("submit report: %v", err)
	}
	if _, err := env.Engine.SubmitComplianceReport(env.Ctx, engine.ComplianceReportOptions{
		ProjectID: p.ID, Framework: "SOC2", Score: 70, Status: "partial",
		Deviations: []domain.Deviation{
			{Severity: "high", Description: "unencrypted backups"},
			{Severity: "low", Description: "missing runbook"},
		},
		ActorID: sec.ID,
	}); err != nil {
		t.Fatalf("submit report: %v", err)
	}

	c, err = env.Analytics.ComplianceAnalytics(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("compliance: %v", err)
	}
	if len(c.Reports) != 2 {
		t.Fatalf("want 2 reports, got %d", len(c.Reports))
	}
	if c.AverageScore != 80 {
		t.Fatalf("average score: want 80, got %v", c.AverageScore)
	}
	if c.DeviationsBySeverity["low"] != 2 || c.DeviationsBySeverity["high"] != 1 {
		t.Fatalf("unexpected deviation counts: %#v", c.DeviationsBySeverity)
	}
}
