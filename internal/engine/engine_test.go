package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/engine/auth"
	"teamline/internal/migrate"
	"teamline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
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
	eng := engine.New(conn, cfg)
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustUser(t *testing.T, env testEnv, email, role string) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Email:    email,
		Name:     email,
		Role:     role,
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func mustProject(t *testing.T, env testEnv, key string, owner domain.User) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Key:     key,
		Name:    key + " project",
		ActorID: owner.ID,
	})
	if err != nil {
		t.Fatalf("create project %s: %v", key, err)
	}
	return p
}

func mustTask(t *testing.T, env testEnv, p domain.Project, actor domain.User, assigneeID string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  p.ID,
		Title:      "A task",
		AssigneeID: assigneeID,
		ActorID:    actor.ID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func notifications(t *testing.T, env testEnv, userID string) []domain.Notification {
	t.Helper()
	items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: userID})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return items
}

func TestCreateUserValidation(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Email: "no-at-sign", Name: "x", Role: domain.RoleAdmin, Password: "password123",
	}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("invalid email accepted: %v", err)
	}
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Email: "a@b.co", Name: "x", Role: "wizard", Password: "password123",
	}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("invalid role accepted: %v", err)
	}
	mustUser(t, env, "dup@example.com", domain.RoleBackendDeveloper)
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Email: "DUP@example.com", Name: "x", Role: domain.RoleBackendDeveloper, Password: "password123",
	}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("duplicate email accepted: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u := mustUser(t, env, "login@example.com", domain.RoleProductManager)

	got, err := env.Engine.Authenticate(env.Ctx, "Login@Example.com", "password123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("wrong user: %s", got.ID)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "login@example.com", "wrong-password"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bad password should look like not found, got %v", err)
	}

	u.Active = false
	u.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.UpdateUser(env.Ctx, u); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.Authenticate(env.Ctx, "login@example.com", "password123"); !errors.As(err, &forbidden) {
		t.Fatalf("deactivated login should be forbidden, got %v", err)
	}
}

func TestHandoffMovesStatusAndNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	qa := mustUser(t, env, "qa@example.com", domain.RoleQAEngineer)
	p := mustProject(t, env, "WEB", pm)
	task := mustTask(t, env, p, pm, pm.ID)

	out, err := env.Engine.HandoffTask(env.Ctx, task.ID, domain.RoleQAEngineer, qa.ID, "check edge cases", pm)
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if out.Status != domain.TaskInQA {
		t.Fatalf("expected in_qa after handing to qa, got %s", out.Status)
	}
	if out.AssigneeID == nil || *out.AssigneeID != qa.ID {
		t.Fatalf("assignee not moved: %+v", out)
	}
	if out.CurrentRole == nil || *out.CurrentRole != domain.RoleQAEngineer {
		t.Fatalf("current role not moved: %+v", out)
	}

	var handoffs []domain.Notification
	for _, n := range notifications(t, env, qa.ID) {
		if n.Type == domain.NotifyTaskHandoff {
			handoffs = append(handoffs, n)
		}
	}
	if len(handoffs) != 1 {
		t.Fatalf("expected exactly one handoff notification, got %d", len(handoffs))
	}
	got := handoffs[0]
	if got.Priority != domain.PriorityHigh {
		t.Fatalf("handoff notification should be high priority, got %s", got.Priority)
	}
	if !got.Channels.InApp || !got.Channels.Email || !got.Channels.Slack {
		t.Fatalf("handoff notification should go out on every channel: %+v", got.Channels)
	}
	if got.SenderID == nil || *got.SenderID != pm.ID {
		t.Fatalf("handoff sender should be the acting user: %+v", got.SenderID)
	}

	history, err := env.Engine.Repo.ListHandoffs(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list handoffs: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one handoff record, got %d", len(history))
	}
	h := history[0]
	if h.FromRole != nil {
		t.Fatalf("first handoff has no source role, got %v", *h.FromRole)
	}
	if h.ToRole != domain.RoleQAEngineer || h.HandedOffBy != pm.ID {
		t.Fatalf("unexpected handoff record: %+v", h)
	}
	if h.ToID == nil || *h.ToID != qa.ID {
		t.Fatalf("handoff should record the receiving user: %+v", h)
	}
}

func TestHandoffSecondHopRecordsSourceRole(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	qa := mustUser(t, env, "qa@example.com", domain.RoleQAEngineer)
	p := mustProject(t, env, "WEB", pm)
	task := mustTask(t, env, p, pm, pm.ID)

	if _, err := env.Engine.HandoffTask(env.Ctx, task.ID, domain.RoleBackendDeveloper, "", "", pm); err != nil {
		t.Fatalf("first handoff: %v", err)
	}
	if _, err := env.Engine.HandoffTask(env.Ctx, task.ID, domain.RoleQAEngineer, qa.ID, "", pm); err != nil {
		t.Fatalf("second handoff: %v", err)
	}
	history, err := env.Engine.Repo.ListHandoffs(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list handoffs: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two handoff records, got %d", len(history))
	}
	second := history[1]
	if second.FromRole == nil || *second.FromRole != domain.RoleBackendDeveloper {
		t.Fatalf("second handoff should carry the previous role: %+v", second)
	}
}

func TestHandoffRoleOnly(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	dev := mustUser(t, env, "dev@example.com", domain.RoleBackendDeveloper)
	p := mustProject(t, env, "WEB", pm)
	task := mustTask(t, env, p, pm, dev.ID)

	out, err := env.Engine.HandoffTask(env.Ctx, task.ID, domain.RoleQAEngineer, "", "ready for testing", pm)
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if out.CurrentRole == nil || *out.CurrentRole != domain.RoleQAEngineer {
		t.Fatalf("current role not moved: %+v", out)
	}
	if out.Status != domain.TaskInQA {
		t.Fatalf("handing to qa should move status, got %s", out.Status)
	}
	if out.AssigneeID == nil || *out.AssigneeID != dev.ID {
		t.Fatalf("assignee should stay put without a target user: %+v", out.AssigneeID)
	}
	for _, n := range notifications(t, env, dev.ID) {
		if n.Type == domain.NotifyTaskHandoff {
			t.Fatalf("role-only handoff should not notify anyone")
		}
	}
}

func TestHandoffToUnmappedRoleKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	ml := mustUser(t, env, "ml@example.com", domain.RoleAIMLEngineer)
	p := mustProject(t, env, "ML", pm)
	task := mustTask(t, env, p, pm, pm.ID)

	out, err := env.Engine.HandoffTask(env.Ctx, task.ID, domain.RoleAIMLEngineer, ml.ID, "", pm)
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if out.Status != task.Status {
		t.Fatalf("status should not change for a role without a mapping, got %s", out.Status)
	}
	if out.CurrentRole == nil || *out.CurrentRole != domain.RoleAIMLEngineer {
		t.Fatalf("current role not updated: %+v", out)
	}
}

func TestHandoffValidation(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	qa := mustUser(t, env, "qa@example.com", domain.RoleQAEngineer)
	p := mustProject(t, env, "WEB", pm)
	task := mustTask(t, env, p, pm, pm.ID)

	if _, err := env.Engine.HandoffTask(env.Ctx, task.ID, "wizard", "", "", pm); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("unknown role accepted: %v", err)
	}

	qa.Active = false
	qa.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.UpdateUser(env.Ctx, qa); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.Engine.HandoffTask(env.Ctx, task.ID, domain.RoleQAEngineer, qa.ID, "", pm); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("handoff to deactivated user accepted: %v", err)
	}
}

func TestCompletedAtLifecycle(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	p := mustProject(t, env, "WEB", pm)
	task := mustTask(t, env, p, pm, pm.ID)

	done := domain.TaskDone
	out, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: &done, ActorID: pm.ID})
	if err != nil {
		t.Fatalf("update to done: %v", err)
	}
	if out.CompletedAt == nil {
		t.Fatalf("completed_at not set on done")
	}

	reopen := domain.TaskInProgress
	out, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: out.ID, Status: &reopen, ActorID: pm.ID})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if out.CompletedAt != nil {
		t.Fatalf("completed_at should clear when leaving done")
	}
}

func TestCommentMentionDedup(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	dev := mustUser(t, env, "dev@example.com", domain.RoleBackendDeveloper)
	p := mustProject(t, env, "WEB", pm)
	task := mustTask(t, env, p, pm, dev.ID)

	c, err := env.Engine.AddComment(env.Ctx, task.ID, pm.ID, "ping", []string{dev.ID, dev.ID, pm.ID})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if len(c.Mentions) != 1 || c.Mentions[0] != dev.ID {
		t.Fatalf("mentions should dedup and drop the author, got %v", c.Mentions)
	}

	// The mentioned assignee gets a mention, not also the generic comment ping.
	var mention, comment int
	for _, n := range notifications(t, env, dev.ID) {
		switch n.Type {
		case domain.NotifyMention:
			mention++
		case domain.NotifyCommentAdded:
			comment++
		}
	}
	if mention != 1 || comment != 0 {
		t.Fatalf("expected one mention and no comment notification, got %d/%d", mention, comment)
	}
}

func TestPRDApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	po := mustUser(t, env, "po@example.com", domain.RoleProductOwner)
	design := mustUser(t, env, "design@example.com", domain.RoleProductDesigner)
	p := mustProject(t, env, "WEB", pm)

	prd, err := env.Engine.CreatePRD(env.Ctx, engine.PRDCreateOptions{
		ProjectID:   p.ID,
		Title:       "Checkout revamp",
		Content:     "v1",
		ApproverIDs: []string{po.ID, design.ID},
		ActorID:     pm.ID,
	})
	if err != nil {
		t.Fatalf("create prd: %v", err)
	}
	if prd.Status != "draft" {
		t.Fatalf("new PRD should be draft, got %s", prd.Status)
	}

	inReview := "in_review"
	prd, err = env.Engine.UpdatePRD(env.Ctx, engine.PRDUpdateOptions{ID: prd.ID, Status: &inReview, Actor: pm})
	if err != nil {
		t.Fatalf("move to review: %v", err)
	}

	// An outsider cannot decide.
	outsider := mustUser(t, env, "dev@example.com", domain.RoleBackendDeveloper)
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.DecidePRD(env.Ctx, prd.ID, "approved", "", outsider); !errors.As(err, &forbidden) {
		t.Fatalf("non-approver decision accepted: %v", err)
	}

	prd, err = env.Engine.DecidePRD(env.Ctx, prd.ID, "approved", "lgtm", po)
	if err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if prd.Status != "in_review" {
		t.Fatalf("PRD approved before all approvers decided: %s", prd.Status)
	}

	prd, err = env.Engine.DecidePRD(env.Ctx, prd.ID, "approved", "", design)
	if err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if prd.Status != "approved" || prd.ApprovedAt == nil {
		t.Fatalf("PRD should be approved after all approvals: %+v", prd)
	}

	// Revising approved content reopens review and resets decisions.
	content := "v2"
	prd, err = env.Engine.UpdatePRD(env.Ctx, engine.PRDUpdateOptions{ID: prd.ID, Content: &content, Summary: "rework flows", Actor: pm})
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if prd.Status != "in_review" || prd.Version != 2 || prd.ApprovedAt != nil {
		t.Fatalf("revision should reset approval state: %+v", prd)
	}
	approvers, err := env.Engine.Repo.ListPRDApprovers(env.Ctx, prd.ID)
	if err != nil {
		t.Fatalf("list approvers: %v", err)
	}
	for _, a := range approvers {
		if a.Decision != "pending" {
			t.Fatalf("approver %s not reset: %s", a.UserID, a.Decision)
		}
	}
}

func TestPRDRejectionKeepsReview(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	po := mustUser(t, env, "po@example.com", domain.RoleProductOwner)
	p := mustProject(t, env, "WEB", pm)

	prd, err := env.Engine.CreatePRD(env.Ctx, engine.PRDCreateOptions{
		ProjectID:   p.ID,
		Title:       "Search",
		ApproverIDs: []string{po.ID},
		ActorID:     pm.ID,
	})
	if err != nil {
		t.Fatalf("create prd: %v", err)
	}
	inReview := "in_review"
	if _, err := env.Engine.UpdatePRD(env.Ctx, engine.PRDUpdateOptions{ID: prd.ID, Status: &inReview, Actor: pm}); err != nil {
		t.Fatalf("move to review: %v", err)
	}

	out, err := env.Engine.DecidePRD(env.Ctx, prd.ID, "rejected", "needs scoping", po)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if out.Status != "in_review" {
		t.Fatalf("rejection should not flip the PRD status, got %s", out.Status)
	}
}

func TestDirectApprovedStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	p := mustProject(t, env, "WEB", pm)
	prd, err := env.Engine.CreatePRD(env.Ctx, engine.PRDCreateOptions{ProjectID: p.ID, Title: "X", ActorID: pm.ID})
	if err != nil {
		t.Fatalf("create prd: %v", err)
	}
	approved := "approved"
	if _, err := env.Engine.UpdatePRD(env.Ctx, engine.PRDUpdateOptions{ID: prd.ID, Status: &approved, Actor: pm}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("direct approved status accepted: %v", err)
	}
}

func TestNotificationOwnership(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	qa := mustUser(t, env, "qa@example.com", domain.RoleQAEngineer)
	other := mustUser(t, env, "other@example.com", domain.RoleBackendDeveloper)
	p := mustProject(t, env, "WEB", pm)
	task := mustTask(t, env, p, pm, pm.ID)
	if _, err := env.Engine.HandoffTask(env.Ctx, task.ID, domain.RoleQAEngineer, qa.ID, "", pm); err != nil {
		t.Fatalf("handoff: %v", err)
	}

	items := notifications(t, env, qa.ID)
	if len(items) == 0 {
		t.Fatalf("expected a notification for the receiver")
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.MarkNotificationRead(env.Ctx, items[0].ID, other); !errors.As(err, &forbidden) {
		t.Fatalf("foreign notification read accepted: %v", err)
	}
	read, err := env.Engine.MarkNotificationRead(env.Ctx, items[0].ID, qa)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !read.Read || read.ReadAt == nil {
		t.Fatalf("notification not marked read: %+v", read)
	}
}

func TestDeleteProjectPermission(t *testing.T) {
	env := newTestEnv(t)
	owner := mustUser(t, env, "owner@example.com", domain.RoleBackendDeveloper)
	stranger := mustUser(t, env, "stranger@example.com", domain.RoleFrontendDeveloper)
	admin := mustUser(t, env, "admin@example.com", domain.RoleAdmin)
	p := mustProject(t, env, "WEB", owner)

	var forbidden auth.ForbiddenError
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, stranger); !errors.As(err, &forbidden) {
		t.Fatalf("stranger delete accepted: %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, admin); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetProject(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("project still present: %v", err)
	}
}

func TestTaskKeySequencePerProject(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	web := mustProject(t, env, "WEB", pm)
	api := mustProject(t, env, "API", pm)

	first := mustTask(t, env, web, pm, "")
	second := mustTask(t, env, web, pm, "")
	other := mustTask(t, env, api, pm, "")
	if first.Key != "WEB-1" || second.Key != "WEB-2" {
		t.Fatalf("unexpected keys %s %s", first.Key, second.Key)
	}
	if other.Key != "API-1" {
		t.Fatalf("sequences must be per project, got %s", other.Key)
	}
	if first.Status != domain.TaskBacklog {
		t.Fatalf("unassigned task should start in backlog, got %s", first.Status)
	}
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	dev := mustUser(t, env, "dev@example.com", domain.RoleBackendDeveloper)
	p := mustProject(t, env, "WEB", pm)

	task := mustTask(t, env, p, pm, dev.ID)
	if task.Status != domain.TaskBacklog {
		t.Fatalf("assigned task should still start in backlog, got %s", task.Status)
	}
	if task.CurrentRole != nil {
		t.Fatalf("current_role should stay unset until a handoff, got %v", *task.CurrentRole)
	}
	if task.Type != domain.TaskTypeFeature {
		t.Fatalf("default type should be feature, got %s", task.Type)
	}

	bug, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID,
		Title:     "Broken login",
		Type:      domain.TaskTypeBug,
		Status:    domain.TaskInProgress,
		ActorID:   pm.ID,
	})
	if err != nil {
		t.Fatalf("create bug: %v", err)
	}
	if bug.Type != domain.TaskTypeBug || bug.Status != domain.TaskInProgress {
		t.Fatalf("caller overrides ignored: %+v", bug)
	}

	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, Title: "x", Type: "epic", ActorID: pm.ID,
	}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("unknown type accepted: %v", err)
	}
}

func TestDeletePRDPermission(t *testing.T) {
	env := newTestEnv(t)
	pm := mustUser(t, env, "pm@example.com", domain.RoleProductManager)
	outsider := mustUser(t, env, "dev@example.com", domain.RoleBackendDeveloper)
	admin := mustUser(t, env, "admin@example.com", domain.RoleAdmin)
	p := mustProject(t, env, "WEB", pm)

	prd, err := env.Engine.CreatePRD(env.Ctx, engine.PRDCreateOptions{ProjectID: p.ID, Title: "Search", ActorID: pm.ID})
	if err != nil {
		t.Fatalf("create prd: %v", err)
	}
	var forbidden auth.ForbiddenError
	if err := env.Engine.DeletePRD(env.Ctx, prd.ID, outsider); !errors.As(err, &forbidden) {
		t.Fatalf("outsider delete accepted: %v", err)
	}
	if err := env.Engine.DeletePRD(env.Ctx, prd.ID, pm); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetPRD(env.Ctx, prd.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("prd still present: %v", err)
	}

	second, err := env.Engine.CreatePRD(env.Ctx, engine.PRDCreateOptions{ProjectID: p.ID, Title: "Checkout", ActorID: pm.ID})
	if err != nil {
		t.Fatalf("create prd: %v", err)
	}
	if err := env.Engine.DeletePRD(env.Ctx, second.ID, admin); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}
