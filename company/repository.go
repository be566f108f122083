package company

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"realtyclaims/db"
)

// ErrNotFound signals the requested company does not exist.
var ErrNotFound = eris.New("company: not found")

// Repository provides access to company rows.
type Repository struct {
	pool db.Pool
}

// NewRepository wires a pool-backed repository implementation.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

const companyColumns = `id, name, website, email, phone, claimed, claimed_by_request, created_at, updated_at`

// GetByID fetches a company by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`

	c, err := scanCompany(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrNotFound
		}
		return Company{}, eris.Wrap(err, "company: query by id")
	}
	return c, nil
}

// GetForUpdate locks the company row for the rest of tx.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1 FOR UPDATE`

	c, err := scanCompany(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrNotFound
		}
		return Company{}, eris.Wrap(err, "company: lock by id")
	}
	return c, nil
}

// MarkClaimed flips claimed to true and copies the claim contact details.
// It reports false when the company was already claimed.
func (r *Repository) MarkClaimed(ctx context.Context, tx pgx.Tx, params ClaimParams) (bool, error) {
	const updateSQL = `
		UPDATE companies
		SET claimed = true,
		    claimed_by_request = $2,
		    email = $3,
		    phone = COALESCE($4, phone),
		    updated_at = now()
		WHERE id = $1 AND NOT claimed
	`
	tag, err := tx.Exec(ctx, updateSQL, params.CompanyID, params.ClaimID, params.Email, params.Phone)
	if err != nil {
		return false, eris.Wrap(err, "company: mark claimed")
	}
	return tag.RowsAffected() == 1, nil
}

// List fetches companies ordered by name.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Company, error) {
	if filters.Limit <= 0 || filters.Limit > 100 {
		filters.Limit = 100
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.Claimed != nil {
		args = append(args, *filters.Claimed)
		where = append(where, fmt.Sprintf("claimed = $%d", len(args)))
	}
	args = append(args, filters.Limit, filters.Offset)

	query := fmt.Sprintf(`SELECT %s FROM companies WHERE %s ORDER BY name ASC LIMIT $%d OFFSET $%d`,
		companyColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "company: list")
	}
	defer rows.Close()

	out := make([]Company, 0, filters.Limit)
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "company: scan")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "company: iterate")
	}
	return out, nil
}

func scanCompany(row pgx.Row) (Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.Website, &c.Email, &c.Phone, &c.Claimed, &c.ClaimedByRequest, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
