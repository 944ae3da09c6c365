package repo

import (
	"context"
	"database/sql"
	"strings"

	"teamline/internal/domain"
)

const userCols = `id,email,name,role,password_hash,avatar_url,active,created_at,updated_at`

func scanUser(scan func(...any) error) (domain.User, error) {
	var u domain.User
	var avatar sql.NullString
	var active int
	err := scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &avatar, &active, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if avatar.Valid {
		u.AvatarURL = avatar.String
	}
	u.Active = active != 0
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	active := 0
	if u.Active {
		active = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO users(`+userCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.Name, u.Role, u.PasswordHash, nullable(u.AvatarURL), active, u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email=?`, email)
	return scanUser(row.Scan)
}

type UserFilters struct {
	Role   string
	Active *bool
	Limit  int
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	var clauses []string
	var args []any
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	if f.Active != nil {
		clauses = append(clauses, "active=?")
		if *f.Active {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + userCols + ` FROM users ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, nil
}

func (r Repo) UpdateUser(ctx context.Context, u domain.User) error {
	active := 0
	if u.Active {
		active = 1
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET name=?, role=?, avatar_url=?, active=?, updated_at=? WHERE id=?`,
		u.Name, u.Role, nullable(u.AvatarURL), active, u.UpdatedAt, u.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserIDsByRole returns active users holding any of the given roles.
func (r Repo) UserIDsByRole(ctx context.Context, roles ...string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(roles))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(roles))
	for _, role := range roles {
		args = append(args, role)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM users WHERE active=1 AND role IN (`+placeholders+`) ORDER BY id`, args...)
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
