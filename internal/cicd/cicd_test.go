package cicd_test

import (
	"context"
	"testing"

	"teamline/internal/cicd"
	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/migrate"
	"teamline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	CICD   cicd.Service
	Ctx    context.Context
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
	return testEnv{
		Engine: engine.New(conn, cfg),
		CICD:   cicd.New(conn),
		Ctx:    context.Background(),
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

func mustProject(t *testing.T, env testEnv, key, repoURL string, owner domain.User) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Key:           key,
		Name:          key + " project",
		RepositoryURL: repoURL,
		ActorID:       owner.ID,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func notificationTypes(t *testing.T, env testEnv, userID string) map[string]int {
	t.Helper()
	items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: userID})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	counts := map[string]int{}
	for _, n := range items {
		counts[n.Type]++
	}
	return counts
}

func TestIngestPushLinksCommitsByTaskKey(t *testing.T) {
	env := newTestEnv(t)
	dev := mustUser(t, env, "dev@example.com", domain.RoleBackendDeveloper)
	p := mustProject(t, env, "WEB", "https://github.com/acme/web", dev)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "Fix checkout", ActorID: dev.ID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	err = env.CICD.IngestPush(env.Ctx, "github", "https://github.com/acme/web", "main", []cicd.PushCommit{
		{SHA: "abc123", Message: "[WEB-1] fix empty cart", Author: "dev"},
		{SHA: "def456", Message: "chore: bump deps"},
		{SHA: "ffff00", Message: "[WEB-99] refers to nothing"},
	})
	if err != nil {
		t.Fatalf("ingest push: %v", err)
	}

	commits, err := env.Engine.Repo.ListCommits(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list commits: %v", err)
	}
	if len(commits) != 1 || commits[0].SHA != "abc123" {
		t.Fatalf("expected the one tokenized commit linked, got %+v", commits)
	}
}

func TestIngestPushUnknownRepoDropped(t *testing.T) {
	env := newTestEnv(t)
	if err := env.CICD.IngestPush(env.Ctx, "github", "https://github.com/acme/nothing", "main", []cicd.PushCommit{
		{SHA: "abc", Message: "[X-1] whatever"},
	}); err != nil {
		t.Fatalf("unknown repo should drop silently, got %v", err)
	}
}

func TestDeploymentNotificationFanout(t *testing.T) {
	env := newTestEnv(t)
	owner := mustUser(t, env, "owner@example.com", domain.RoleProductManager)
	ops := mustUser(t, env, "ops@example.com", domain.RoleDevopsEngineer)
	qa := mustUser(t, env, "qa@example.com", domain.RoleQAEngineer)
	p := mustProject(t, env, "WEB", "", owner)
	for _, u := range []domain.User{ops, qa} {
		if _, err := env.Engine.AddTeamMember(env.Ctx, p.ID, u.ID, "", owner); err != nil {
			t.Fatalf("add team member: %v", err)
		}
	}

	run, err := env.CICD.TriggerDeployment(env.Ctx, cicd.DeployOptions{
		ProjectID:   p.ID,
		Environment: "staging",
		Branch:      "main",
		ActorID:     owner.ID,
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if run.Status != domain.PipelinePending {
		t.Fatalf("new pipeline should be pending, got %s", run.Status)
	}
	if run.Trigger != domain.TriggerManual {
		t.Fatalf("in-app deployments default to the manual trigger, got %s", run.Trigger)
	}
	if notificationTypes(t, env, ops.ID)[domain.NotifyDeploymentStarted] != 1 {
		t.Fatalf("devops engineer should hear about the start")
	}
	if len(notificationTypes(t, env, qa.ID)) != 0 {
		t.Fatalf("qa is not a deployment-facing role and should not hear about the start")
	}

	started, err := env.CICD.MarkPipelineRunning(env.Ctx, run.ID)
	if err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if started.Status != domain.PipelineRunning {
		t.Fatalf("pending pipeline should move to running, got %s", started.Status)
	}

	done, err := env.CICD.CompletePipeline(env.Ctx, run.ID, "success", owner.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != "success" || done.FinishedAt == nil {
		t.Fatalf("pipeline not finalized: %+v", done)
	}
	// Completion reaches every team member, not just the deploy-facing roles.
	if notificationTypes(t, env, ops.ID)[domain.NotifyDeploymentSuccess] != 1 {
		t.Fatalf("devops engineer should hear about the result")
	}
	if notificationTypes(t, env, qa.ID)[domain.NotifyDeploymentSuccess] != 1 {
		t.Fatalf("the whole team should hear about the result")
	}

	// Completing again is a no-op.
	again, err := env.CICD.CompletePipeline(env.Ctx, run.ID, "failed", owner.ID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if again.Status != "success" {
		t.Fatalf("finished pipeline must not change status, got %s", again.Status)
	}
	if notificationTypes(t, env, ops.ID)[domain.NotifyDeploymentSuccess] != 1 {
		t.Fatalf("no duplicate completion notification expected")
	}
}

func TestTriggerDeploymentRejectsBadEnvironment(t *testing.T) {
	env := newTestEnv(t)
	owner := mustUser(t, env, "owner@example.com", domain.RoleDevopsEngineer)
	p := mustProject(t, env, "WEB", "", owner)
	if _, err := env.CICD.TriggerDeployment(env.Ctx, cicd.DeployOptions{
		ProjectID: p.ID, Environment: "qa-lab", ActorID: owner.ID,
	}); err == nil {
		t.Fatalf("unknown environment accepted")
	}
	if _, err := env.CICD.TriggerDeployment(env.Ctx, cicd.DeployOptions{
		ProjectID: p.ID, Environment: "staging", Trigger: "cron", ActorID: owner.ID,
	}); err == nil {
		t.Fatalf("unknown trigger accepted")
	}
}

func TestFailedPipelineEscalatesLinkedTasks(t *testing.T) {
	env := newTestEnv(t)
	owner := mustUser(t, env, "owner@example.com", domain.RoleProductManager)
	dev := mustUser(t, env, "dev@example.com", domain.RoleBackendDeveloper)
	p := mustProject(t, env, "WEB", "", owner)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "Ship payments", AssigneeID: dev.ID, ActorID: owner.ID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.LinkCommit(env.Ctx, task.ID, domain.CommitRef{SHA: "deadbeef", Message: "payments"}, owner.ID); err != nil {
		t.Fatalf("link commit: %v", err)
	}

	run, err := env.CICD.TriggerDeployment(env.Ctx, cicd.DeployOptions{
		ProjectID:   p.ID,
		Environment: "production",
		CommitSHA:   "deadbeef",
		ActorID:     owner.ID,
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := env.CICD.CompletePipeline(env.Ctx, run.ID, "failed", owner.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Priority != domain.PriorityUrgent {
		t.Fatalf("failed deployment should escalate linked tasks, got %s", got.Priority)
	}
	items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: dev.ID})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	var failures []domain.Notification
	for _, n := range items {
		if n.Type == domain.NotifyDeploymentFailed {
			failures = append(failures, n)
		}
	}
	if len(failures) != 1 {
		t.Fatalf("assignee should be told their commit failed to deploy, got %d notices", len(failures))
	}
	if failures[0].Priority != domain.PriorityUrgent {
		t.Fatalf("failed deployment notices are urgent, got %s", failures[0].Priority)
	}
}

func TestIngestPipelineEventUpsertsByExternalID(t *testing.T) {
	env := newTestEnv(t)
	owner := mustUser(t, env, "owner@example.com", domain.RoleDevopsEngineer)
	p := mustProject(t, env, "WEB", "https://gitlab.com/acme/web", owner)

	if err := env.CICD.IngestPipelineEvent(env.Ctx, cicd.PipelineEvent{
		Provider:   "gitlab",
		RepoURL:    "https://gitlab.com/acme/web",
		ExternalID: "42",
		Status:     "running",
		Branch:     "main",
	}); err != nil {
		t.Fatalf("first event: %v", err)
	}
	runs, err := env.Engine.Repo.ListPipelines(env.Ctx, repo.PipelineFilters{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("list pipelines: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "running" {
		t.Fatalf("expected one running pipeline, got %+v", runs)
	}
	if runs[0].Trigger != domain.TriggerWebhook {
		t.Fatalf("provider callbacks open webhook-triggered runs, got %s", runs[0].Trigger)
	}

	if err := env.CICD.IngestPipelineEvent(env.Ctx, cicd.PipelineEvent{
		Provider:   "gitlab",
		RepoURL:    "https://gitlab.com/acme/web",
		ExternalID: "42",
		Status:     "success",
	}); err != nil {
		t.Fatalf("second event: %v", err)
	}
	runs, err = env.Engine.Repo.ListPipelines(env.Ctx, repo.PipelineFilters{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("list pipelines: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "success" {
		t.Fatalf("terminal event must close the same run, got %+v", runs)
	}

	// Unknown repository events are acknowledged and dropped.
	if err := env.CICD.IngestPipelineEvent(env.Ctx, cicd.PipelineEvent{
		Provider:   "gitlab",
		RepoURL:    "https://gitlab.com/acme/else",
		ExternalID: "7",
		Status:     "running",
	}); err != nil {
		t.Fatalf("unknown repo should drop silently, got %v", err)
	}
}
