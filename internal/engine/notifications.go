package engine

import (
	"context"

	"teamline/internal/domain"
	"teamline/internal/engine/auth"
)

// MarkNotificationRead marks one notification read. Only the recipient may
// do so.
func (e Engine) MarkNotificationRead(ctx context.Context, id string, actor domain.User) (domain.Notification, error) {
	n, err := e.Repo.GetNotification(ctx, id)
	if err != nil {
		return n, err
	}
	if n.UserID != actor.ID {
		return n, auth.ForbiddenError{Action: "read another user's notification"}
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return n, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkNotificationRead(ctx, tx, id, now); err != nil {
		return n, err
	}
	if err := tx.Commit(); err != nil {
		return n, err
	}
	n.Read = true
	if n.ReadAt == nil {
		n.ReadAt = &now
	}
	return n, nil
}

// MarkAllNotificationsRead marks every unread notification for the actor.
func (e Engine) MarkAllNotificationsRead(ctx context.Context, actor domain.User) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.MarkAllNotificationsRead(ctx, tx, actor.ID, e.nowStr())
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// ClearReadNotifications deletes the actor's read notifications.
func (e Engine) ClearReadNotifications(ctx context.Context, actor domain.User) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.DeleteReadNotifications(ctx, tx, actor.ID)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
