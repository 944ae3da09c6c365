package repo

import (
	"context"
	"database/sql"
	"strings"

	"teamline/internal/domain"
)

const documentCols = `id,project_id,title,content,kind,author_id,tags_json,created_at,updated_at`

func scanDocument(scan func(...any) error) (domain.Document, error) {
	var d domain.Document
	var content, tags sql.NullString
	err := scan(&d.ID, &d.ProjectID, &d.Title, &content, &d.Kind, &d.AuthorID, &tags, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if content.Valid {
		d.Content = content.String
	}
	d.Tags = unmarshalStrings(tags)
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(`+documentCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Title, nullable(d.Content), d.Kind, d.AuthorID, marshalStrings(d.Tags), d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

type DocumentFilters struct {
	ProjectID string
	Kind      string
	Tag       string
	Limit     int
}

func (r Repo) ListDocuments(ctx context.Context, f DocumentFilters) ([]domain.Document, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Tag != "" {
		clauses = append(clauses, "tags_json LIKE ?")
		args = append(args, `%"`+f.Tag+`"%`)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + documentCols + ` FROM documents ` + where + ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

func (r Repo) UpdateDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET title=?, content=?, kind=?, tags_json=?, updated_at=? WHERE id=?`,
		d.Title, nullable(d.Content), d.Kind, marshalStrings(d.Tags), d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDocument(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertComplianceReport(ctx context.Context, tx *sql.Tx, c domain.ComplianceReport) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO compliance_reports(id,project_id,framework,score,status,reported_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Framework, c.Score, c.Status, c.ReportedBy, c.CreatedAt)
	if err != nil {
		return err
	}
	for _, d := range c.Deviations {
		if _, err := tx.ExecContext(ctx, `INSERT INTO compliance_deviations(id,report_id,severity,description,remediation) VALUES (?,?,?,?,?)`,
			d.ID, c.ID, d.Severity, d.Description, nullable(d.Remediation)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListComplianceReports(ctx context.Context, projectID string, limit int) ([]domain.ComplianceReport, error) {
	query := `SELECT id,project_id,framework,score,status,reported_by,created_at FROM compliance_reports WHERE project_id=? ORDER BY created_at DESC, id DESC`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceReport
	for rows.Next() {
		var c domain.ComplianceReport
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Framework, &c.Score, &c.Status, &c.ReportedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range res {
		devs, err := r.listDeviations(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Deviations = devs
	}
	return res, nil
}

func (r Repo) listDeviations(ctx context.Context, reportID string) ([]domain.Deviation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,report_id,severity,description,remediation FROM compliance_deviations WHERE report_id=? ORDER BY id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deviation
	for rows.Next() {
		var d domain.Deviation
		var remediation sql.NullString
		if err := rows.Scan(&d.ID, &d.ReportID, &d.Severity, &d.Description, &remediation); err != nil {
			return nil, err
		}
		if remediation.Valid {
			d.Remediation = remediation.String
		}
		res = append(res, d)
	}
	return res, nil
}
