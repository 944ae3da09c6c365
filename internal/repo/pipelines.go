package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"teamline/internal/domain"
)

const pipelineCols = `id,project_id,provider,environment,status,trigger_kind,branch,commit_sha,security_json,triggered_by,external_id,version,started_at,finished_at`

func scanPipeline(scan func(...any) error) (domain.Pipeline, error) {
	var p domain.Pipeline
	var branch, sha, security, triggeredBy, externalID, finishedAt sql.NullString
	err := scan(&p.ID, &p.ProjectID, &p.Provider, &p.Environment, &p.Status, &p.Trigger, &branch, &sha, &security, &triggeredBy, &externalID, &p.Version, &p.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if branch.Valid {
		p.Branch = branch.String
	}
	if sha.Valid {
		p.CommitSHA = sha.String
	}
	if security.Valid && security.String != "" {
		var v domain.VulnerabilityCounts
		if json.Unmarshal([]byte(security.String), &v) == nil {
			p.Vulnerabilities = &v
		}
	}
	if triggeredBy.Valid {
		p.TriggeredBy = &triggeredBy.String
	}
	if externalID.Valid {
		p.ExternalID = externalID.String
	}
	if finishedAt.Valid {
		p.FinishedAt = &finishedAt.String
	}
	return p, nil
}

func marshalVulnerabilities(v *domain.VulnerabilityCounts) any {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func (r Repo) InsertPipeline(ctx context.Context, tx *sql.Tx, p domain.Pipeline) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pipelines(`+pipelineCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.Provider, p.Environment, p.Status, p.Trigger, nullable(p.Branch), nullable(p.CommitSHA),
		marshalVulnerabilities(p.Vulnerabilities),
		nullableStringPtr(p.TriggeredBy), nullable(p.ExternalID), p.Version, p.StartedAt, nullableStringPtr(p.FinishedAt))
	return err
}

// UpdatePipelineVersioned transitions pipeline status with an optimistic
// version check. Returns ErrConflict on a stale read.
func (r Repo) UpdatePipelineVersioned(ctx context.Context, tx *sql.Tx, p domain.Pipeline, fromVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE pipelines SET status=?, security_json=?, version=version+1, finished_at=? WHERE id=? AND version=?`,
		p.Status, marshalVulnerabilities(p.Vulnerabilities), nullableStringPtr(p.FinishedAt), p.ID, fromVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) GetPipeline(ctx context.Context, id string) (domain.Pipeline, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+pipelineCols+` FROM pipelines WHERE id=?`, id)
	return scanPipeline(row.Scan)
}

func (r Repo) GetPipelineTx(ctx context.Context, tx *sql.Tx, id string) (domain.Pipeline, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+pipelineCols+` FROM pipelines WHERE id=?`, id)
	return scanPipeline(row.Scan)
}

// GetPipelineByExternalID correlates provider webhook callbacks to a run.
func (r Repo) GetPipelineByExternalID(ctx context.Context, tx *sql.Tx, provider, externalID string) (domain.Pipeline, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+pipelineCols+` FROM pipelines WHERE provider=? AND external_id=? ORDER BY started_at DESC LIMIT 1`, provider, externalID)
	return scanPipeline(row.Scan)
}

type PipelineFilters struct {
	ProjectID   string
	Environment string
	Status      string
	Since       string
	Limit       int
}

func (r Repo) ListPipelines(ctx context.Context, f PipelineFilters) ([]domain.Pipeline, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Environment != "" {
		clauses = append(clauses, "environment=?")
		args = append(args, f.Environment)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Since != "" {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, f.Since)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + pipelineCols + ` FROM pipelines ` + where + ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}
