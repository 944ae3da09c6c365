package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"teamline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic version check keeps failing.
	ErrConflict = errors.New("conflict")
)

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func marshalStrings(v []string) any {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(v.String), &out)
	return out
}

const projectCols = `id,key,name,description,status,owner_id,repository_url,start_date,target_date,created_at,updated_at`

func scanProject(scan func(...any) error) (domain.Project, error) {
	var p domain.Project
	var desc, repoURL, startDate, targetDate sql.NullString
	err := scan(&p.ID, &p.Key, &p.Name, &desc, &p.Status, &p.OwnerID, &repoURL, &startDate, &targetDate, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if repoURL.Valid {
		p.RepositoryURL = &repoURL.String
	}
	if startDate.Valid {
		p.StartDate = &startDate.String
	}
	if targetDate.Valid {
		p.TargetDate = &targetDate.String
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Key, p.Name, nullable(p.Description), p.Status, p.OwnerID,
		nullableStringPtr(p.RepositoryURL), nullableStringPtr(p.StartDate), nullableStringPtr(p.TargetDate),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectByKey(ctx context.Context, key string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE key=?`, key)
	return scanProject(row.Scan)
}

// GetProjectByRepoURL matches a project to the repository that emitted a CI event.
func (r Repo) GetProjectByRepoURL(ctx context.Context, url string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE repository_url=?`, url)
	return scanProject(row.Scan)
}

type ProjectFilters struct {
	Status          string
	OwnerID         string
	MemberID        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.MemberID != "" {
		clauses = append(clauses, "id IN (SELECT project_id FROM project_team WHERE user_id=?)")
		args = append(args, f.MemberID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectCols + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, status=?, repository_url=?, start_date=?, target_date=?, updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), p.Status, nullableStringPtr(p.RepositoryURL),
		nullableStringPtr(p.StartDate), nullableStringPtr(p.TargetDate), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertTeamMember(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_team(project_id,user_id,role,added_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`, m.ProjectID, m.UserID, m.Role, m.AddedAt)
	return err
}

func (r Repo) RemoveTeamMember(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM project_team WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTeam(ctx context.Context, projectID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,user_id,role,added_at FROM project_team WHERE project_id=? ORDER BY added_at ASC, user_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, nil
}

// ProjectIDsForUser lists projects the user owns or sits on the team of.
func (r Repo) ProjectIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM projects
		WHERE owner_id=? OR id IN (SELECT project_id FROM project_team WHERE user_id=?)
		ORDER BY created_at DESC, id DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// TeamUserIDsByRole returns user IDs on the project team holding any of the
// given roles. The team role overrides the user's global role when set.
func (r Repo) TeamUserIDsByRole(ctx context.Context, projectID string, roles ...string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(roles))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{projectID}
	for _, role := range roles {
		args = append(args, role)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM project_team WHERE project_id=? AND role IN (`+placeholders+`) ORDER BY user_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
