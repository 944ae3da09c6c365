package repo

import (
	"context"
	"database/sql"
	"strings"

	"teamline/internal/domain"
)

const prdCols = `id,project_id,title,content,status,author_id,version,created_at,updated_at,approved_at`

func scanPRD(scan func(...any) error) (domain.PRD, error) {
	var p domain.PRD
	var content, approvedAt sql.NullString
	err := scan(&p.ID, &p.ProjectID, &p.Title, &content, &p.Status, &p.AuthorID, &p.Version, &p.CreatedAt, &p.UpdatedAt, &approvedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if content.Valid {
		p.Content = content.String
	}
	if approvedAt.Valid {
		p.ApprovedAt = &approvedAt.String
	}
	return p, nil
}

func (r Repo) InsertPRD(ctx context.Context, tx *sql.Tx, p domain.PRD) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO prds(`+prdCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.Title, nullable(p.Content), p.Status, p.AuthorID, p.Version,
		p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.ApprovedAt))
	return err
}

func (r Repo) GetPRD(ctx context.Context, id string) (domain.PRD, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+prdCols+` FROM prds WHERE id=?`, id)
	return scanPRD(row.Scan)
}

func (r Repo) GetPRDTx(ctx context.Context, tx *sql.Tx, id string) (domain.PRD, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+prdCols+` FROM prds WHERE id=?`, id)
	return scanPRD(row.Scan)
}

type PRDFilters struct {
	ProjectID string
	Status    string
	AuthorID  string
	Limit     int
}

func (r Repo) ListPRDs(ctx context.Context, f PRDFilters) ([]domain.PRD, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + prdCols + ` FROM prds ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PRD
	for rows.Next() {
		p, err := scanPRD(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) CountPRDs(ctx context.Context, f PRDFilters) (int, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM prds `+where, args...).Scan(&n)
	return n, err
}

func (r Repo) DeletePRD(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM prds WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdatePRD(ctx context.Context, tx *sql.Tx, p domain.PRD) error {
	res, err := tx.ExecContext(ctx, `UPDATE prds SET title=?, content=?, status=?, version=?, updated_at=?, approved_at=? WHERE id=?`,
		p.Title, nullable(p.Content), p.Status, p.Version, p.UpdatedAt, nullableStringPtr(p.ApprovedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertPRDApprover(ctx context.Context, tx *sql.Tx, a domain.PRDApprover) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO prd_approvers(prd_id,user_id,decision,comment,decided_at) VALUES (?,?,?,?,?)
ON CONFLICT(prd_id,user_id) DO UPDATE SET decision=excluded.decision, comment=excluded.comment, decided_at=excluded.decided_at`,
		a.PRDID, a.UserID, a.Decision, nullable(a.Comment), nullableStringPtr(a.DecidedAt))
	return err
}

func (r Repo) ListPRDApprovers(ctx context.Context, prdID string) ([]domain.PRDApprover, error) {
	return listPRDApprovers(ctx, r.DB.QueryContext, prdID)
}

func (r Repo) ListPRDApproversTx(ctx context.Context, tx *sql.Tx, prdID string) ([]domain.PRDApprover, error) {
	return listPRDApprovers(ctx, tx.QueryContext, prdID)
}

func listPRDApprovers(ctx context.Context, query func(context.Context, string, ...any) (*sql.Rows, error), prdID string) ([]domain.PRDApprover, error) {
	rows, err := query(ctx, `SELECT prd_id,user_id,decision,comment,decided_at FROM prd_approvers WHERE prd_id=? ORDER BY user_id`, prdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PRDApprover
	for rows.Next() {
		var a domain.PRDApprover
		var comment, decidedAt sql.NullString
		if err := rows.Scan(&a.PRDID, &a.UserID, &a.Decision, &comment, &decidedAt); err != nil {
			return nil, err
		}
		if comment.Valid {
			a.Comment = comment.String
		}
		if decidedAt.Valid {
			a.DecidedAt = &decidedAt.String
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) InsertPRDChange(ctx context.Context, tx *sql.Tx, c domain.PRDChange) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO prd_changes(id,prd_id,author_id,summary,version,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.PRDID, c.AuthorID, c.Summary, c.Version, c.CreatedAt)
	return err
}

func (r Repo) ListPRDChanges(ctx context.Context, prdID string) ([]domain.PRDChange, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,prd_id,author_id,summary,version,created_at FROM prd_changes WHERE prd_id=? ORDER BY version DESC, id DESC`, prdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PRDChange
	for rows.Next() {
		var c domain.PRDChange
		if err := rows.Scan(&c.ID, &c.PRDID, &c.AuthorID, &c.Summary, &c.Version, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}
