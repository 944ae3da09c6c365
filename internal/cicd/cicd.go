// Package cicd ingests deployment activity, both triggered in-app and pushed
// from external CI providers, and turns it into pipelines, commit links and
// notifications.
package cicd

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"regexp"
	"time"

	"github.com/google/uuid"

	"teamline/internal/domain"
	"teamline/internal/events"
	"teamline/internal/notify"
	"teamline/internal/repo"
)

// taskKeyPattern matches task references in commit messages, e.g. [PROJ-12].
var taskKeyPattern = regexp.MustCompile(`\[([A-Z]+-\d+)\]`)

// deployRoles receive deployment start and completion notifications.
var deployRoles = []string{
	domain.RoleDevopsEngineer,
	domain.RoleBackendDeveloper,
	domain.RoleFrontendDeveloper,
}

const conflictRetries = 3

type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify *notify.Dispatcher
	Now    func() time.Time
}

func New(db *sql.DB) Service {
	r := repo.Repo{DB: db}
	return Service{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Notify: &notify.Dispatcher{Repo: r},
		Now:    time.Now,
	}
}

func (s Service) nowStr() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func validEnvironment(env string) bool {
	switch env {
	case "development", "staging", "production":
		return true
	}
	return false
}

type DeployOptions struct {
	ProjectID   string
	Environment string
	Branch      string
	CommitSHA   string
	Provider    string
	Trigger     string
	ExternalID  string
	ActorID     string
}

// TriggerDeployment opens a pipeline in pending and fans the start notice out
// to the deployment-facing roles on the project team.
func (s Service) TriggerDeployment(ctx context.Context, opts DeployOptions) (domain.Pipeline, error) {
	if !validEnvironment(opts.Environment) {
		return domain.Pipeline{}, errors.New("environment must be development, staging or production")
	}
	if opts.Provider == "" {
		opts.Provider = "manual"
	}
	if opts.Trigger == "" {
		opts.Trigger = domain.TriggerManual
	}
	if !domain.ValidPipelineTrigger(opts.Trigger) {
		return domain.Pipeline{}, errors.New("trigger must be manual, webhook, scheduled or automatic")
	}
	project, err := s.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Pipeline{}, err
	}
	p := domain.Pipeline{
		ID:          uuid.New().String(),
		ProjectID:   project.ID,
		Provider:    opts.Provider,
		Environment: opts.Environment,
		Status:      domain.PipelinePending,
		Trigger:     opts.Trigger,
		Branch:      opts.Branch,
		CommitSHA:   opts.CommitSHA,
		ExternalID:  opts.ExternalID,
		Version:     1,
		StartedAt:   s.nowStr(),
	}
	if opts.ActorID != "" {
		p.TriggeredBy = &opts.ActorID
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertPipeline(ctx, tx, p); err != nil {
		return p, err
	}
	ids, err := s.Repo.TeamUserIDsByRole(ctx, project.ID, deployRoles...)
	if err != nil {
		return p, err
	}
	batch := s.Notify.Batch()
	recipients := exclude(ids, opts.ActorID)
	if err := batch.SendBulk(ctx, tx, recipients, notify.DeploymentStarted("", project.Name, p)); err != nil {
		return p, err
	}
	if err := s.Events.Append(ctx, tx, "pipeline.started", p.ProjectID, "pipeline", p.ID, opts.ActorID, events.EventPayload{
		"environment": p.Environment,
		"branch":      p.Branch,
		"trigger":     p.Trigger,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	batch.Deliver()
	return p, nil
}

// MarkPipelineRunning moves a pending run into running. Already started or
// finished runs are left alone.
func (s Service) MarkPipelineRunning(ctx context.Context, pipelineID string) (domain.Pipeline, error) {
	var out domain.Pipeline
	err := s.withConflictRetry(func() error {
		p, err := s.Repo.GetPipeline(ctx, pipelineID)
		if err != nil {
			return err
		}
		if p.Status != domain.PipelinePending {
			out = p
			return nil
		}
		fromVersion := p.Version
		p.Status = domain.PipelineRunning
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := s.Repo.UpdatePipelineVersioned(ctx, tx, p, fromVersion); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		p.Version = fromVersion + 1
		out = p
		return nil
	})
	return out, err
}

// CompletePipeline finalizes a run. Success and failure go out to the whole
// project team, and failed runs bump the priority of every task linked to
// the deployed commit.
func (s Service) CompletePipeline(ctx context.Context, pipelineID, status, actorID string) (domain.Pipeline, error) {
	switch status {
	case domain.PipelineSuccess, domain.PipelineFailed, domain.PipelineCancelled, domain.PipelineSkipped:
	default:
		return domain.Pipeline{}, errors.New("status must be success, failed, cancelled or skipped")
	}
	var out domain.Pipeline
	err := s.withConflictRetry(func() error {
		p, err := s.Repo.GetPipeline(ctx, pipelineID)
		if err != nil {
			return err
		}
		if p.FinishedAt != nil {
			out = p
			return nil
		}
		fromVersion := p.Version
		project, err := s.Repo.GetProject(ctx, p.ProjectID)
		if err != nil {
			return err
		}
		now := s.nowStr()
		p.Status = status
		p.FinishedAt = &now

		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := s.Repo.UpdatePipelineVersioned(ctx, tx, p, fromVersion); err != nil {
			return err
		}
		batch := s.Notify.Batch()
		if status == domain.PipelineSuccess || status == domain.PipelineFailed {
			team, err := s.Repo.ListTeam(ctx, project.ID)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(team))
			for _, m := range team {
				ids = append(ids, m.UserID)
			}
			if err := batch.SendBulk(ctx, tx, exclude(ids, actorID), notify.DeploymentFinished("", project.Name, p)); err != nil {
				return err
			}
		}
		if status == domain.PipelineFailed && p.CommitSHA != "" {
			if err := s.escalateLinkedTasks(ctx, tx, batch, p, actorID); err != nil {
				return err
			}
		}
		if err := s.Events.Append(ctx, tx, "pipeline.finished", p.ProjectID, "pipeline", p.ID, actorID, events.EventPayload{
			"status":      p.Status,
			"environment": p.Environment,
		}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		batch.Deliver()
		p.Version = fromVersion + 1
		out = p
		return nil
	})
	return out, err
}

func (s Service) escalateLinkedTasks(ctx context.Context, tx *sql.Tx, batch *notify.Batch, p domain.Pipeline, actorID string) error {
	tasks, err := s.Repo.TasksByCommitSHA(ctx, p.ProjectID, p.CommitSHA)
	if err != nil {
		return err
	}
	now := s.nowStr()
	for _, t := range tasks {
		if t.Priority == domain.PriorityUrgent {
			continue
		}
		fromVersion := t.Version
		t.Priority = domain.PriorityUrgent
		t.UpdatedAt = now
		if err := s.Repo.UpdateTaskVersioned(ctx, tx, t, fromVersion); err != nil {
			return err
		}
		if t.AssigneeID != nil && *t.AssigneeID != actorID {
			n := domain.Notification{
				UserID:     *t.AssigneeID,
				Type:       domain.NotifyDeploymentFailed,
				Title:      "Deployment failed for " + t.Key,
				Body:       t.Title,
				EntityKind: "task",
				EntityID:   t.ID,
				MetadataJSON: notify.Metadata(map[string]any{
					"pipeline_id": p.ID,
					"environment": p.Environment,
				}),
			}
			n.Priority = domain.PriorityUrgent
			if _, err := batch.Send(ctx, tx, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// PushCommit is one commit in an incoming push payload.
type PushCommit struct {
	SHA     string
	Message string
	Author  string
	URL     string
}

// IngestPush links pushed commits to the tasks their messages reference.
// Pushes for unknown repositories or commits without a task token are
// dropped without error.
func (s Service) IngestPush(ctx context.Context, provider, repoURL, branch string, commits []PushCommit) error {
	project, err := s.Repo.GetProjectByRepoURL(ctx, repoURL)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Printf("cicd: push for unknown repository %s dropped", repoURL)
			return nil
		}
		return err
	}
	for _, c := range commits {
		for _, m := range taskKeyPattern.FindAllStringSubmatch(c.Message, -1) {
			t, err := s.Repo.GetTaskByKey(ctx, m[1])
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					continue
				}
				return err
			}
			if t.ProjectID != project.ID {
				continue
			}
			tx, err := s.DB.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			ref := domain.CommitRef{
				ID:       uuid.New().String(),
				TaskID:   t.ID,
				SHA:      c.SHA,
				Message:  c.Message,
				Author:   c.Author,
				URL:      c.URL,
				LinkedAt: s.nowStr(),
			}
			if err := s.Repo.InsertCommit(ctx, tx, ref); err != nil {
				tx.Rollback()
				return err
			}
			if err := s.Events.Append(ctx, tx, "task.commit.linked", t.ProjectID, "task", t.ID, "ci:"+provider, events.EventPayload{
				"sha":    c.SHA,
				"branch": branch,
			}); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
		}
	}
	return nil
}

// PipelineEvent is a provider's deployment status callback.
type PipelineEvent struct {
	Provider    string
	RepoURL     string
	ExternalID  string
	Status      string
	Environment string
	Branch      string
	CommitSHA   string
}

// IngestPipelineEvent upserts a pipeline run from a provider callback. The
// first event for an unknown external ID opens a run; terminal statuses
// close it with the usual completion side effects.
func (s Service) IngestPipelineEvent(ctx context.Context, evt PipelineEvent) error {
	project, err := s.Repo.GetProjectByRepoURL(ctx, evt.RepoURL)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Printf("cicd: pipeline event for unknown repository %s dropped", evt.RepoURL)
			return nil
		}
		return err
	}
	if evt.Environment == "" {
		evt.Environment = "development"
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	existing, err := s.Repo.GetPipelineByExternalID(ctx, tx, evt.Provider, evt.ExternalID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		tx.Rollback()
		return err
	}
	tx.Rollback()

	if errors.Is(err, repo.ErrNotFound) {
		p, err := s.TriggerDeployment(ctx, DeployOptions{
			ProjectID:   project.ID,
			Environment: evt.Environment,
			Branch:      evt.Branch,
			CommitSHA:   evt.CommitSHA,
			Provider:    evt.Provider,
			Trigger:     domain.TriggerWebhook,
			ExternalID:  evt.ExternalID,
		})
		if err != nil {
			return err
		}
		existing = p
	}
	switch evt.Status {
	case domain.PipelineRunning:
		_, err := s.MarkPipelineRunning(ctx, existing.ID)
		return err
	case domain.PipelineSuccess, domain.PipelineFailed, domain.PipelineCancelled, domain.PipelineSkipped:
		_, err := s.CompletePipeline(ctx, existing.ID, evt.Status, "ci:"+evt.Provider)
		return err
	}
	return nil
}

func (s Service) withConflictRetry(fn func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = fn()
		if !errors.Is(err, repo.ErrConflict) {
			return err
		}
	}
	return err
}

func exclude(ids []string, skip string) []string {
	if skip == "" {
		return ids
	}
	out := ids[:0]
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
