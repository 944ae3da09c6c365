package notify

import (
	"fmt"

	"teamline/internal/domain"
)

// Intent constructors. Each builds the stored shape of one notification type
// so wording stays consistent across engine, CI and server call sites.

func TaskAssigned(userID string, t domain.Task) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		SenderID:   stringPtr(t.ReporterID),
		Type:       domain.NotifyTaskAssigned,
		Title:      fmt.Sprintf("You were assigned %s", t.Key),
		Body:       t.Title,
		EntityKind: "task",
		EntityID:   t.ID,
	}
}

// TaskHandoff goes out on every channel at high priority so the receiving
// role sees it promptly.
func TaskHandoff(userID string, t domain.Task, h domain.Handoff) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		SenderID:   stringPtr(h.HandedOffBy),
		Type:       domain.NotifyTaskHandoff,
		Priority:   domain.PriorityHigh,
		Channels:   domain.NotificationChannels{InApp: true, Email: true, Slack: true},
		Title:      fmt.Sprintf("%s was handed off to you", t.Key),
		Body:       t.Title,
		EntityKind: "task",
		EntityID:   t.ID,
		MetadataJSON: Metadata(map[string]any{
			"from_role": h.FromRole,
			"to_role":   h.ToRole,
			"notes":     h.Notes,
		}),
	}
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func TaskCompleted(userID string, t domain.Task) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		Type:       domain.NotifyTaskCompleted,
		Title:      fmt.Sprintf("%s was completed", t.Key),
		Body:       t.Title,
		EntityKind: "task",
		EntityID:   t.ID,
	}
}

func TaskBlocked(userID string, t domain.Task) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		Type:       domain.NotifyTaskBlocked,
		Title:      fmt.Sprintf("%s is blocked", t.Key),
		Body:       t.Title,
		EntityKind: "task",
		EntityID:   t.ID,
	}
}

func CommentAdded(userID string, t domain.Task, c domain.Comment) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		Type:       domain.NotifyCommentAdded,
		Title:      fmt.Sprintf("New comment on %s", t.Key),
		Body:       c.Body,
		EntityKind: "task",
		EntityID:   t.ID,
		MetadataJSON: Metadata(map[string]any{
			"comment_id": c.ID,
			"author_id":  c.AuthorID,
		}),
	}
}

func Mention(userID string, t domain.Task, c domain.Comment) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		Type:       domain.NotifyMention,
		Title:      fmt.Sprintf("You were mentioned on %s", t.Key),
		Body:       c.Body,
		EntityKind: "task",
		EntityID:   t.ID,
		MetadataJSON: Metadata(map[string]any{
			"comment_id": c.ID,
			"author_id":  c.AuthorID,
		}),
	}
}

func PRDApproved(userID string, p domain.PRD) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		Type:       domain.NotifyPRDApproved,
		Title:      fmt.Sprintf("PRD %q was approved", p.Title),
		EntityKind: "prd",
		EntityID:   p.ID,
	}
}

func PRDUpdated(userID string, p domain.PRD) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		Type:       domain.NotifyPRDUpdated,
		Title:      fmt.Sprintf("PRD %q was updated to v%d", p.Title, p.Version),
		EntityKind: "prd",
		EntityID:   p.ID,
	}
}

func DeploymentStarted(userID, projectName string, p domain.Pipeline) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		Type:       domain.NotifyDeploymentStarted,
		Title:      fmt.Sprintf("Deployment to %s started for %s", p.Environment, projectName),
		EntityKind: "pipeline",
		EntityID:   p.ID,
		MetadataJSON: Metadata(map[string]any{
			"environment": p.Environment,
			"branch":      p.Branch,
		}),
	}
}

// DeploymentFinished escalates a failed run to urgent.
func DeploymentFinished(userID, projectName string, p domain.Pipeline) domain.Notification {
	typ := domain.NotifyDeploymentSuccess
	title := fmt.Sprintf("Deployment to %s succeeded for %s", p.Environment, projectName)
	priority := ""
	if p.Status == domain.PipelineFailed {
		typ = domain.NotifyDeploymentFailed
		title = fmt.Sprintf("Deployment to %s failed for %s", p.Environment, projectName)
		priority = domain.PriorityUrgent
	}
	return domain.Notification{
		UserID:     userID,
		Type:       typ,
		Priority:   priority,
		Title:      title,
		EntityKind: "pipeline",
		EntityID:   p.ID,
		MetadataJSON: Metadata(map[string]any{
			"environment": p.Environment,
			"status":      p.Status,
		}),
	}
}

func ComplianceAlert(userID string, r domain.ComplianceReport) domain.Notification {
	return domain.Notification{
		UserID:     userID,
		Type:       domain.NotifyComplianceAlert,
		Title:      fmt.Sprintf("Compliance report for %s scored %.0f", r.Framework, r.Score),
		EntityKind: "compliance_report",
		EntityID:   r.ID,
		MetadataJSON: Metadata(map[string]any{
			"framework": r.Framework,
			"score":     r.Score,
			"status":    r.Status,
		}),
	}
}
