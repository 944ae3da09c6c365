package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"teamline/internal/domain"
)

const notificationCols = `id,user_id,sender_id,type,title,body,priority,entity_kind,entity_id,channels_json,metadata_json,read,read_at,created_at`

func scanNotification(scan func(...any) error) (domain.Notification, error) {
	var n domain.Notification
	var senderID, body, entityKind, entityID, channels, metadata, readAt sql.NullString
	var read int
	err := scan(&n.ID, &n.UserID, &senderID, &n.Type, &n.Title, &body, &n.Priority, &entityKind, &entityID, &channels, &metadata, &read, &readAt, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if senderID.Valid {
		n.SenderID = &senderID.String
	}
	if body.Valid {
		n.Body = body.String
	}
	if entityKind.Valid {
		n.EntityKind = entityKind.String
	}
	if entityID.Valid {
		n.EntityID = entityID.String
	}
	n.Channels = domain.NotificationChannels{InApp: true}
	if channels.Valid && channels.String != "" {
		_ = json.Unmarshal([]byte(channels.String), &n.Channels)
	}
	if metadata.Valid {
		n.MetadataJSON = metadata.String
	}
	n.Read = read != 0
	if readAt.Valid {
		n.ReadAt = &readAt.String
	}
	return n, nil
}

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	channels, _ := json.Marshal(n.Channels)
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(`+notificationCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, nullableStringPtr(n.SenderID), n.Type, n.Title, nullable(n.Body), n.Priority,
		nullable(n.EntityKind), nullable(n.EntityID), string(channels),
		nullable(n.MetadataJSON), boolInt(n.Read), nullableStringPtr(n.ReadAt), n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id=?`, id)
	return scanNotification(row.Scan)
}

type NotificationFilters struct {
	UserID          string
	Type            string
	Unread          bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Unread {
		clauses = append(clauses, "read=0")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + notificationCols + ` FROM notifications ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, nil
}

func (r Repo) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE user_id=? AND read=0`, userID).Scan(&n)
	return n, err
}

func (r Repo) MarkNotificationRead(ctx context.Context, tx *sql.Tx, id, readAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE notifications SET read=1, read_at=COALESCE(read_at,?) WHERE id=?`, readAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, tx *sql.Tx, userID, readAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE notifications SET read=1, read_at=? WHERE user_id=? AND read=0`, readAt, userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r Repo) DeleteReadNotifications(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE user_id=? AND read=1`, userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
