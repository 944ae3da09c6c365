package repo

import (
	"context"
	"database/sql"
	"strings"

	"teamline/internal/domain"
)

const taskCols = `id,key,project_id,title,description,type,status,priority,reporter_id,assignee_id,current_role,sprint,story_points,labels_json,due_date,version,created_at,updated_at,completed_at`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var desc, assignee, currentRole, sprint, labels, dueDate, completedAt sql.NullString
	var points sql.NullInt64
	err := scan(&t.ID, &t.Key, &t.ProjectID, &t.Title, &desc, &t.Type, &t.Status, &t.Priority, &t.ReporterID,
		&assignee, &currentRole, &sprint, &points, &labels, &dueDate, &t.Version, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	if currentRole.Valid {
		t.CurrentRole = &currentRole.String
	}
	if sprint.Valid {
		t.Sprint = &sprint.String
	}
	if points.Valid {
		p := int(points.Int64)
		t.StoryPoints = &p
	}
	t.Labels = unmarshalStrings(labels)
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Key, t.ProjectID, t.Title, nullable(t.Description), t.Type, t.Status, t.Priority, t.ReporterID,
		nullableStringPtr(t.AssigneeID), nullableStringPtr(t.CurrentRole), nullableStringPtr(t.Sprint),
		nullableIntPtr(t.StoryPoints), marshalStrings(t.Labels), nullableStringPtr(t.DueDate),
		t.Version, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

// UpdateTaskVersioned writes the task only if the stored version still matches
// fromVersion, bumping version by one. Returns ErrConflict on a stale read.
func (r Repo) UpdateTaskVersioned(ctx context.Context, tx *sql.Tx, t domain.Task, fromVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, type=?, status=?, priority=?, assignee_id=?, current_role=?, sprint=?, story_points=?, labels_json=?, due_date=?, version=version+1, updated_at=?, completed_at=? WHERE id=? AND version=?`,
		t.Title, nullable(t.Description), t.Type, t.Status, t.Priority,
		nullableStringPtr(t.AssigneeID), nullableStringPtr(t.CurrentRole), nullableStringPtr(t.Sprint),
		nullableIntPtr(t.StoryPoints), marshalStrings(t.Labels), nullableStringPtr(t.DueDate),
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID, fromVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskByKey(ctx context.Context, key string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE key=?`, key)
	return scanTask(row.Scan)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	ProjectID       string
	ProjectIDs      []string
	Status          string
	NotStatus       string
	Type            string
	Priority        string
	AssigneeID      string
	ReporterID      string
	Sprint          string
	CurrentRole     string
	CompletedFrom   string
	CompletedTo     string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (f TaskFilters) where() (string, []any) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if len(f.ProjectIDs) > 0 {
		placeholders := strings.Repeat("?,", len(f.ProjectIDs))
		clauses = append(clauses, "project_id IN ("+placeholders[:len(placeholders)-1]+")")
		for _, id := range f.ProjectIDs {
			args = append(args, id)
		}
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.NotStatus != "" {
		clauses = append(clauses, "status != ?")
		args = append(args, f.NotStatus)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.ReporterID != "" {
		clauses = append(clauses, "reporter_id=?")
		args = append(args, f.ReporterID)
	}
	if f.Sprint != "" {
		clauses = append(clauses, "sprint=?")
		args = append(args, f.Sprint)
	}
	if f.CurrentRole != "" {
		clauses = append(clauses, "current_role=?")
		args = append(args, f.CurrentRole)
	}
	if f.CompletedFrom != "" {
		clauses = append(clauses, "completed_at >= ?")
		args = append(args, f.CompletedFrom)
	}
	if f.CompletedTo != "" {
		clauses = append(clauses, "completed_at <= ?")
		args = append(args, f.CompletedTo)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	where, args := f.where()
	query := `SELECT ` + taskCols + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) CountTasks(ctx context.Context, f TaskFilters) (int, error) {
	where, args := f.where()
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks `+where, args...).Scan(&n)
	return n, err
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

func (r Repo) CountTasksByPriority(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT priority, count(*) FROM tasks WHERE project_id=? GROUP BY priority`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var priority string
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		res[priority] = count
	}
	return res, nil
}

func (r Repo) InsertHandoff(ctx context.Context, tx *sql.Tx, h domain.Handoff) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_handoffs(id,task_id,from_role,to_role,to_id,handed_off_by,notes,at) VALUES (?,?,?,?,?,?,?,?)`,
		h.ID, h.TaskID, nullableStringPtr(h.FromRole), h.ToRole, nullableStringPtr(h.ToID), h.HandedOffBy, nullable(h.Notes), h.At)
	return err
}

func (r Repo) ListHandoffs(ctx context.Context, taskID string) ([]domain.Handoff, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,from_role,to_role,to_id,handed_off_by,notes,at FROM task_handoffs WHERE task_id=? ORDER BY at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Handoff
	for rows.Next() {
		var h domain.Handoff
		var fromRole, toID, notes sql.NullString
		if err := rows.Scan(&h.ID, &h.TaskID, &fromRole, &h.ToRole, &toID, &h.HandedOffBy, &notes, &h.At); err != nil {
			return nil, err
		}
		if fromRole.Valid {
			h.FromRole = &fromRole.String
		}
		if toID.Valid {
			h.ToID = &toID.String
		}
		if notes.Valid {
			h.Notes = notes.String
		}
		res = append(res, h)
	}
	return res, nil
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_comments(id,task_id,author_id,body,mentions_json,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorID, c.Body, marshalStrings(c.Mentions), c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author_id,body,mentions_json,created_at FROM task_comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var mentions sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &mentions, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Mentions = unmarshalStrings(mentions)
		res = append(res, c)
	}
	return res, nil
}

// InsertCommit ignores duplicate (task, sha) pairs so webhook redelivery is safe.
func (r Repo) InsertCommit(ctx context.Context, tx *sql.Tx, c domain.CommitRef) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_commits(id,task_id,sha,message,author,url,linked_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.SHA, c.Message, nullable(c.Author), nullable(c.URL), c.LinkedAt)
	return err
}

func (r Repo) ListCommits(ctx context.Context, taskID string) ([]domain.CommitRef, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,sha,message,author,url,linked_at FROM task_commits WHERE task_id=? ORDER BY linked_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CommitRef
	for rows.Next() {
		var c domain.CommitRef
		var author, url sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.SHA, &c.Message, &author, &url, &c.LinkedAt); err != nil {
			return nil, err
		}
		if author.Valid {
			c.Author = author.String
		}
		if url.Valid {
			c.URL = url.String
		}
		res = append(res, c)
	}
	return res, nil
}

// TasksByCommitSHA finds tasks in a project linked to the given commit.
func (r Repo) TasksByCommitSHA(ctx context.Context, projectID, sha string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks
		WHERE project_id=? AND id IN (SELECT task_id FROM task_commits WHERE sha=?)`, projectID, sha)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) InsertTestCase(ctx context.Context, tx *sql.Tx, tc domain.TestCase) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_test_cases(id,task_id,name,status,notes,added_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		tc.ID, tc.TaskID, tc.Name, tc.Status, nullable(tc.Notes), tc.AddedBy, tc.CreatedAt, tc.UpdatedAt)
	return err
}

func (r Repo) UpdateTestCaseStatus(ctx context.Context, tx *sql.Tx, id, status, notes, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_test_cases SET status=?, notes=COALESCE(?,notes), updated_at=? WHERE id=?`,
		status, nullable(notes), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTestCases(ctx context.Context, taskID string) ([]domain.TestCase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,name,status,notes,added_by,created_at,updated_at FROM task_test_cases WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TestCase
	for rows.Next() {
		var tc domain.TestCase
		var notes sql.NullString
		if err := rows.Scan(&tc.ID, &tc.TaskID, &tc.Name, &tc.Status, &notes, &tc.AddedBy, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
			return nil, err
		}
		if notes.Valid {
			tc.Notes = notes.String
		}
		res = append(res, tc)
	}
	return res, nil
}

// TestCaseRollup counts the assignee's tasks whose test cases all passed
// (at least one case required) and those with any failed case.
func (r Repo) TestCaseRollup(ctx context.Context, assigneeID string) (passed, failed int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN EXISTS (SELECT 1 FROM task_test_cases tc WHERE tc.task_id=t.id)
			AND NOT EXISTS (SELECT 1 FROM task_test_cases tc WHERE tc.task_id=t.id AND tc.status != 'passed')
			THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN EXISTS (SELECT 1 FROM task_test_cases tc WHERE tc.task_id=t.id AND tc.status='failed')
			THEN 1 ELSE 0 END),0)
		FROM tasks t WHERE t.assignee_id=?`, assigneeID).Scan(&passed, &failed)
	return passed, failed, err
}

// NextTaskSeq reserves the next per-project key number, e.g. PROJ-42.
// Derived from the highest existing suffix so deletes never recycle keys.
func (r Repo) NextTaskSeq(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(CAST(substr(key, instr(key,'-')+1) AS INTEGER)),0) FROM tasks WHERE project_id=?`, projectID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}
