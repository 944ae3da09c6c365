package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"teamline/internal/domain"
	"teamline/internal/engine/auth"
	"teamline/internal/events"
	"teamline/internal/notify"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Type        string
	Status      string
	Priority    string
	AssigneeID  string
	Sprint      string
	StoryPoints *int
	Labels      []string
	DueDate     string
	ActorID     string
}

// CreateTask files a new task. It lands in the backlog unless the caller
// picks a status, and current_role stays unset until the first handoff even
// when an assignee is named.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, invalidf("title is required")
	}
	if opts.Type == "" {
		opts.Type = domain.TaskTypeFeature
	}
	if !domain.ValidTaskType(opts.Type) {
		return domain.Task{}, invalidf("unknown task type %s", opts.Type)
	}
	if opts.Status == "" {
		opts.Status = domain.TaskBacklog
	}
	if !domain.ValidTaskStatus(opts.Status) {
		return domain.Task{}, invalidf("unknown task status %s", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, invalidf("unknown priority %s", opts.Priority)
	}
	if opts.StoryPoints != nil && *opts.StoryPoints < 0 {
		return domain.Task{}, invalidf("story points must not be negative")
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	var assignee *domain.User
	if opts.AssigneeID != "" {
		u, err := e.Repo.GetUser(ctx, opts.AssigneeID)
		if err != nil {
			return domain.Task{}, err
		}
		assignee = &u
	}
	now := e.nowStr()
	t := domain.Task{
		ID:          uuid.New().String(),
		ProjectID:   p.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Type:        opts.Type,
		Status:      opts.Status,
		Priority:    opts.Priority,
		ReporterID:  opts.ActorID,
		Sprint:      optionalString(opts.Sprint),
		StoryPoints: opts.StoryPoints,
		Labels:      opts.Labels,
		DueDate:     optionalString(opts.DueDate),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if assignee != nil {
		t.AssigneeID = &assignee.ID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	seq, err := e.Repo.NextTaskSeq(ctx, tx, p.ID)
	if err != nil {
		return t, err
	}
	t.Key = fmt.Sprintf("%s-%d", p.Key, seq)
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return t, err
	}
	batch := e.Notify.Batch()
	if assignee != nil && assignee.ID != opts.ActorID {
		if _, err := batch.Send(ctx, tx, notify.TaskAssigned(assignee.ID, t)); err != nil {
			return t, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"key": t.Key, "status": t.Status}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	batch.Deliver()
	return t, nil
}

// TaskUpdateOptions encapsulates allowed updates. Nil pointers leave a field
// alone; an empty string through a pointer clears it.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Type        *string
	Status      *string
	Priority    *string
	AssigneeID  *string
	Sprint      *string
	StoryPoints *int
	Labels      []string
	DueDate     *string
	ActorID     string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	var out domain.Task
	err := e.withConflictRetry(func() error {
		t, err := e.Repo.GetTask(ctx, opts.ID)
		if err != nil {
			return err
		}
		fromVersion := t.Version
		original := t
		if opts.Title != nil {
			if strings.TrimSpace(*opts.Title) == "" {
				return invalidf("title must not be empty")
			}
			t.Title = *opts.Title
		}
		if opts.Description != nil {
			t.Description = *opts.Description
		}
		if opts.Type != nil {
			if !domain.ValidTaskType(*opts.Type) {
				return invalidf("unknown task type %s", *opts.Type)
			}
			t.Type = *opts.Type
		}
		if opts.Priority != nil {
			if !domain.ValidPriority(*opts.Priority) {
				return invalidf("unknown priority %s", *opts.Priority)
			}
			t.Priority = *opts.Priority
		}
		if opts.Sprint != nil {
			t.Sprint = optionalString(*opts.Sprint)
		}
		if opts.StoryPoints != nil {
			if *opts.StoryPoints < 0 {
				return invalidf("story points must not be negative")
			}
			t.StoryPoints = opts.StoryPoints
		}
		if opts.Labels != nil {
			t.Labels = opts.Labels
		}
		if opts.DueDate != nil {
			t.DueDate = optionalString(*opts.DueDate)
		}
		// current_role is owned by the handoff flow and never moves here.
		var newAssignee *domain.User
		if opts.AssigneeID != nil {
			if *opts.AssigneeID == "" {
				t.AssigneeID = nil
			} else if t.AssigneeID == nil || *t.AssigneeID != *opts.AssigneeID {
				u, err := e.Repo.GetUser(ctx, *opts.AssigneeID)
				if err != nil {
					return err
				}
				newAssignee = &u
				t.AssigneeID = &u.ID
			}
		}
		if opts.Status != nil && *opts.Status != t.Status {
			if !domain.ValidTaskStatus(*opts.Status) {
				return invalidf("unknown task status %s", *opts.Status)
			}
			t.Status = *opts.Status
		}
		now := e.nowStr()
		// completed_at tracks the transition into done and only that.
		if t.Status == domain.TaskDone && original.Status != domain.TaskDone {
			t.CompletedAt = &now
		} else if t.Status != domain.TaskDone {
			t.CompletedAt = nil
		}
		t.UpdatedAt = now

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.UpdateTaskVersioned(ctx, tx, t, fromVersion); err != nil {
			return err
		}
		batch := e.Notify.Batch()
		if newAssignee != nil && newAssignee.ID != opts.ActorID {
			if _, err := batch.Send(ctx, tx, notify.TaskAssigned(newAssignee.ID, t)); err != nil {
				return err
			}
		}
		if t.Status != original.Status {
			if err := e.notifyStatusChange(ctx, tx, batch, t, opts.ActorID); err != nil {
				return err
			}
		}
		if err := e.Events.Append(ctx, tx, "task.updated", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
			"from_status": original.Status,
			"to_status":   t.Status,
		}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		batch.Deliver()
		t.Version = fromVersion + 1
		out = t
		return nil
	})
	return out, err
}

// notifyStatusChange tells the reporter when their task completes or stalls.
func (e Engine) notifyStatusChange(ctx context.Context, tx *sql.Tx, batch *notify.Batch, t domain.Task, actorID string) error {
	if t.ReporterID == actorID {
		return nil
	}
	switch t.Status {
	case domain.TaskDone:
		_, err := batch.Send(ctx, tx, notify.TaskCompleted(t.ReporterID, t))
		return err
	case domain.TaskBlocked:
		_, err := batch.Send(ctx, tx, notify.TaskBlocked(t.ReporterID, t))
		return err
	}
	return nil
}

// HandoffTask passes a task to the next role in the workflow, recording who
// handed it off and where it came from. The receiving user is optional; the
// task's current_role moves to toRole either way, and status shifts when the
// receiving role has a mapped stage.
func (e Engine) HandoffTask(ctx context.Context, taskID, toRole, toUserID, notes string, actor domain.User) (domain.Task, error) {
	if !domain.ValidRole(toRole) {
		return domain.Task{}, invalidf("unknown role %s", toRole)
	}
	var out domain.Task
	err := e.withConflictRetry(func() error {
		t, err := e.Repo.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		fromVersion := t.Version
		var to *domain.User
		if toUserID != "" {
			u, err := e.Repo.GetUser(ctx, toUserID)
			if err != nil {
				return err
			}
			if !u.Active {
				return invalidf("user %s is deactivated", u.Email)
			}
			to = &u
		}
		now := e.nowStr()
		h := domain.Handoff{
			ID:          uuid.New().String(),
			TaskID:      t.ID,
			FromRole:    t.CurrentRole,
			ToRole:      toRole,
			HandedOffBy: actor.ID,
			Notes:       notes,
			At:          now,
		}
		if to != nil {
			h.ToID = &to.ID
			t.AssigneeID = &to.ID
		}
		t.CurrentRole = &h.ToRole
		if status, ok := domain.HandoffStatus[toRole]; ok {
			t.Status = status
		}
		t.UpdatedAt = now

		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertHandoff(ctx, tx, h); err != nil {
			return err
		}
		if err := e.Repo.UpdateTaskVersioned(ctx, tx, t, fromVersion); err != nil {
			return err
		}
		batch := e.Notify.Batch()
		if to != nil {
			if _, err := batch.Send(ctx, tx, notify.TaskHandoff(to.ID, t, h)); err != nil {
				return err
			}
		}
		payload := events.EventPayload{
			"to_role":       h.ToRole,
			"handed_off_by": h.HandedOffBy,
			"status":        t.Status,
		}
		if h.FromRole != nil {
			payload["from_role"] = *h.FromRole
		}
		if h.ToID != nil {
			payload["to_user"] = *h.ToID
		}
		if err := e.Events.Append(ctx, tx, "task.handoff", t.ProjectID, "task", t.ID, actor.ID, payload); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		batch.Deliver()
		t.Version = fromVersion + 1
		out = t
		return nil
	})
	return out, err
}

func (e Engine) DeleteTask(ctx context.Context, taskID string, actor domain.User) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !auth.CanDeleteTask(actor, t) {
		return auth.ForbiddenError{Action: "delete this task"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, t.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.ProjectID, "task", t.ID, actor.ID, events.EventPayload{"key": t.Key}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddComment stores a comment and notifies the task's participants. Mentioned
// users get a mention instead of the generic comment notification.
func (e Engine) AddComment(ctx context.Context, taskID, authorID, body string, mentions []string) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, invalidf("comment body is required")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:        uuid.New().String(),
		TaskID:    t.ID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: e.nowStr(),
	}
	mentioned := map[string]bool{}
	for _, id := range mentions {
		u, err := e.Repo.GetUser(ctx, id)
		if err != nil {
			return c, fmt.Errorf("mentioned user %s: %w", id, err)
		}
		if u.ID != authorID && !mentioned[u.ID] {
			mentioned[u.ID] = true
			c.Mentions = append(c.Mentions, u.ID)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return c, err
	}
	batch := e.Notify.Batch()
	for _, id := range c.Mentions {
		if _, err := batch.Send(ctx, tx, notify.Mention(id, t, c)); err != nil {
			return c, err
		}
	}
	participants := map[string]bool{t.ReporterID: true}
	if t.AssigneeID != nil {
		participants[*t.AssigneeID] = true
	}
	for id := range participants {
		if id == authorID || mentioned[id] {
			continue
		}
		if _, err := batch.Send(ctx, tx, notify.CommentAdded(id, t, c)); err != nil {
			return c, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.commented", t.ProjectID, "task", t.ID, authorID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	batch.Deliver()
	return c, nil
}

// LinkCommit attaches a VCS commit to a task. Duplicate SHAs are ignored.
func (e Engine) LinkCommit(ctx context.Context, taskID string, c domain.CommitRef, actorID string) (domain.CommitRef, error) {
	if c.SHA == "" {
		return c, invalidf("commit sha is required")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return c, err
	}
	c.ID = uuid.New().String()
	c.TaskID = t.ID
	c.LinkedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCommit(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "task.commit.linked", t.ProjectID, "task", t.ID, actorID, events.EventPayload{"sha": c.SHA}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

func validTestStatus(s string) bool {
	switch s {
	case "pending", "passed", "failed", "skipped":
		return true
	}
	return false
}

func (e Engine) AddTestCase(ctx context.Context, taskID, name, notes, actorID string) (domain.TestCase, error) {
	if strings.TrimSpace(name) == "" {
		return domain.TestCase{}, invalidf("test case name is required")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TestCase{}, err
	}
	now := e.nowStr()
	tc := domain.TestCase{
		ID:        uuid.New().String(),
		TaskID:    t.ID,
		Name:      name,
		Status:    "pending",
		Notes:     notes,
		AddedBy:   actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return tc, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTestCase(ctx, tx, tc); err != nil {
		return tc, err
	}
	if err := e.Events.Append(ctx, tx, "task.testcase.added", t.ProjectID, "task", t.ID, actorID, events.EventPayload{"test_case_id": tc.ID}); err != nil {
		return tc, err
	}
	if err := tx.Commit(); err != nil {
		return tc, err
	}
	return tc, nil
}

func (e Engine) SetTestCaseStatus(ctx context.Context, taskID, testCaseID, status, notes, actorID string) error {
	if !validTestStatus(status) {
		return invalidf("unknown test status %s", status)
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTestCaseStatus(ctx, tx, testCaseID, status, notes, e.nowStr()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.testcase.updated", t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"test_case_id": testCaseID,
		"status":       status,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
