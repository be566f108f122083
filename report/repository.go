package report

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"realtyclaims/db"
)

var (
	ErrNotFound  = eris.New("report: not found")
	ErrForbidden = eris.New("report: forbidden")
	ErrBadStatus = eris.New("report: invalid status transition")
)

// foreign_key_violation
const pgForeignKeyViolation = "23503"

const reportColumns = `id, company_id, reporter_id, reason, status, resolved_by, created_at, updated_at, resolved_at`

type Repository struct {
	pool db.Pool
}

func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns reports newest first, optionally narrowed to one status.
func (r *Repository) List(ctx context.Context, status Status) ([]Report, error) {
	query := `SELECT ` + reportColumns + ` FROM content_reports`
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "report: list")
	}
	defer rows.Close()

	out := make([]Report, 0, 8)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "report: scan")
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "report: iterate")
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, reporterID *string, companyID, reason string) (Report, error) {
	const query = `
		INSERT INTO content_reports (company_id, reporter_id, reason, status)
		VALUES ($1, $2, $3, 'under_review')
		RETURNING ` + reportColumns

	rep, err := scanReport(r.pool.QueryRow(ctx, query, companyID, reporterID, reason))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return Report{}, ErrNotFound
		}
		return Report{}, eris.Wrap(err, "report: create")
	}
	return rep, nil
}

func (r *Repository) Resolve(ctx context.Context, id, adminID string) (Report, error) {
	const query = `
		UPDATE content_reports
		SET status = 'resolved', resolved_by = $2, resolved_at = now(), updated_at = now()
		WHERE id = $1 AND status <> 'resolved'
		RETURNING ` + reportColumns

	rep, err := scanReport(r.pool.QueryRow(ctx, query, id, adminID))
	if err == nil {
		return rep, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Report{}, eris.Wrap(err, "report: resolve")
	}

	const check = `SELECT status FROM content_reports WHERE id = $1`
	var status Status
	if err := r.pool.QueryRow(ctx, check, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, eris.Wrap(err, "report: resolve fetch")
	}
	if status == StatusResolved {
		return Report{}, ErrBadStatus
	}
	return Report{}, ErrNotFound
}

func scanReport(row pgx.Row) (Report, error) {
	var rep Report
	err := row.Scan(&rep.ID, &rep.CompanyID, &rep.ReporterID, &rep.Reason, &rep.Status,
		&rep.ResolvedBy, &rep.CreatedAt, &rep.UpdatedAt, &rep.ResolvedAt)
	return rep, err
}
