package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"teamline/internal/domain"
	"teamline/internal/engine/auth"
	"teamline/internal/events"
	"teamline/internal/notify"
)

type PRDCreateOptions struct {
	ProjectID   string
	Title       string
	Content     string
	ApproverIDs []string
	ActorID     string
}

func (e Engine) CreatePRD(ctx context.Context, opts PRDCreateOptions) (domain.PRD, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.PRD{}, invalidf("title is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.PRD{}, err
	}
	for _, id := range opts.ApproverIDs {
		if _, err := e.Repo.GetUser(ctx, id); err != nil {
			return domain.PRD{}, err
		}
	}
	now := e.nowStr()
	p := domain.PRD{
		ID:        uuid.New().String(),
		ProjectID: opts.ProjectID,
		Title:     opts.Title,
		Content:   opts.Content,
		Status:    "draft",
		AuthorID:  opts.ActorID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPRD(ctx, tx, p); err != nil {
		return p, err
	}
	for _, id := range opts.ApproverIDs {
		if err := e.Repo.UpsertPRDApprover(ctx, tx, domain.PRDApprover{PRDID: p.ID, UserID: id, Decision: "pending"}); err != nil {
			return p, err
		}
	}
	if err := e.Events.Append(ctx, tx, "prd.created", p.ProjectID, "prd", p.ID, opts.ActorID, events.EventPayload{"title": p.Title}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

type PRDUpdateOptions struct {
	ID      string
	Title   *string
	Content *string
	Status  *string
	Summary string
	Actor   domain.User
}

func validPRDStatus(s string) bool {
	switch s {
	case "draft", "in_review", "approved", "rejected", "archived":
		return true
	}
	return false
}

// UpdatePRD revises a PRD. Content or title edits bump the version, append a
// changelog entry and reset approvals back to pending.
func (e Engine) UpdatePRD(ctx context.Context, opts PRDUpdateOptions) (domain.PRD, error) {
	p, err := e.Repo.GetPRD(ctx, opts.ID)
	if err != nil {
		return p, err
	}
	if !auth.CanEditPRD(opts.Actor, p) {
		return p, auth.ForbiddenError{Action: "edit this PRD"}
	}
	revised := false
	if opts.Title != nil && *opts.Title != p.Title {
		if strings.TrimSpace(*opts.Title) == "" {
			return p, invalidf("title must not be empty")
		}
		p.Title = *opts.Title
		revised = true
	}
	if opts.Content != nil && *opts.Content != p.Content {
		p.Content = *opts.Content
		revised = true
	}
	if opts.Status != nil {
		if !validPRDStatus(*opts.Status) {
			return p, invalidf("unknown PRD status %s", *opts.Status)
		}
		if *opts.Status == "approved" {
			return p, invalidf("approved status is reached through approvals")
		}
		p.Status = *opts.Status
	}
	now := e.nowStr()
	if revised {
		p.Version++
		p.ApprovedAt = nil
		if p.Status == "approved" {
			p.Status = "in_review"
		}
	}
	p.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePRD(ctx, tx, p); err != nil {
		return p, err
	}
	batch := e.Notify.Batch()
	if revised {
		summary := opts.Summary
		if summary == "" {
			summary = "Revised content"
		}
		change := domain.PRDChange{
			ID:        uuid.New().String(),
			PRDID:     p.ID,
			AuthorID:  opts.Actor.ID,
			Summary:   summary,
			Version:   p.Version,
			CreatedAt: now,
		}
		if err := e.Repo.InsertPRDChange(ctx, tx, change); err != nil {
			return p, err
		}
		approvers, err := e.Repo.ListPRDApproversTx(ctx, tx, p.ID)
		if err != nil {
			return p, err
		}
		for _, a := range approvers {
			a.Decision = "pending"
			a.Comment = ""
			a.DecidedAt = nil
			if err := e.Repo.UpsertPRDApprover(ctx, tx, a); err != nil {
				return p, err
			}
			if a.UserID != opts.Actor.ID {
				if _, err := batch.Send(ctx, tx, notify.PRDUpdated(a.UserID, p)); err != nil {
					return p, err
				}
			}
		}
	}
	if err := e.Events.Append(ctx, tx, "prd.updated", p.ProjectID, "prd", p.ID, opts.Actor.ID, events.EventPayload{
		"version": p.Version,
		"status":  p.Status,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	batch.Deliver()
	return p, nil
}

// DeletePRD removes a PRD. Only the author or an elevated role may do it.
func (e Engine) DeletePRD(ctx context.Context, prdID string, actor domain.User) error {
	p, err := e.Repo.GetPRD(ctx, prdID)
	if err != nil {
		return err
	}
	if actor.ID != p.AuthorID && !auth.Elevated(actor.Role) {
		return auth.ForbiddenError{Action: "delete this PRD"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeletePRD(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "prd.deleted", p.ProjectID, "prd", p.ID, actor.ID, events.EventPayload{"title": p.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// DecidePRD records one approver's decision. The PRD becomes approved only
// when every listed approver has approved; a rejection is recorded against
// the approver without changing the PRD status.
func (e Engine) DecidePRD(ctx context.Context, prdID, decision, comment string, actor domain.User) (domain.PRD, error) {
	if decision != "approved" && decision != "rejected" {
		return domain.PRD{}, invalidf("decision must be approved or rejected")
	}
	p, err := e.Repo.GetPRD(ctx, prdID)
	if err != nil {
		return p, err
	}
	if p.Status != "in_review" {
		return p, invalidf("PRD is not in review")
	}
	approvers, err := e.Repo.ListPRDApprovers(ctx, prdID)
	if err != nil {
		return p, err
	}
	listed := false
	for _, a := range approvers {
		if a.UserID == actor.ID {
			listed = true
		}
	}
	if !listed {
		return p, auth.ForbiddenError{Action: "decide on this PRD"}
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	batch := e.Notify.Batch()
	if err := e.Repo.UpsertPRDApprover(ctx, tx, domain.PRDApprover{
		PRDID:     p.ID,
		UserID:    actor.ID,
		Decision:  decision,
		Comment:   comment,
		DecidedAt: &now,
	}); err != nil {
		return p, err
	}
	if decision == "approved" {
		all := true
		for _, a := range approvers {
			if a.UserID == actor.ID {
				continue
			}
			if a.Decision != "approved" {
				all = false
				break
			}
		}
		if all {
			p.Status = "approved"
			p.ApprovedAt = &now
			p.UpdatedAt = now
			if err := e.Repo.UpdatePRD(ctx, tx, p); err != nil {
				return p, err
			}
			if p.AuthorID != actor.ID {
				if _, err := batch.Send(ctx, tx, notify.PRDApproved(p.AuthorID, p)); err != nil {
					return p, err
				}
			}
		}
	}
	if err := e.Events.Append(ctx, tx, "prd.decision", p.ProjectID, "prd", p.ID, actor.ID, events.EventPayload{
		"decision": decision,
		"status":   p.Status,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	batch.Deliver()
	return p, nil
}
