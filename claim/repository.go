package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"realtyclaims/db"
)

const (
	pgUniqueViolation            = "23505"
	trackingNumberConstraint     = "claim_requests_tracking_number_key"
	approvedPerCompanyConstraint = "claim_requests_one_approved_per_company"
)

// Timeline event types written to claim_events.
const (
	EventTypeSubmitted = "CLAIM_SUBMITTED"
	EventTypeVerified  = "EMAIL_VERIFIED"
	EventTypeApproved  = "CLAIM_APPROVED"
	EventTypeRejected  = "CLAIM_REJECTED"
)

// Repository is the persistence surface of the workflow. Methods taking a
// tx run inside the caller's transaction.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	GetByTrackingNumber(ctx context.Context, number string) (Request, error)
	FindByEmail(ctx context.Context, tx pgx.Tx, party Party, email string) (Request, error)
	MarkVerified(ctx context.Context, tx pgx.Tx, id string, party Party, at time.Time) (Request, error)
	CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, notes *string, at time.Time) (Request, bool, error)
	LinkAccounts(ctx context.Context, tx pgx.Tx, id string, userID, supervisorID *string) error
	List(ctx context.Context, filters Filters) ([]Request, int, error)
	Delete(ctx context.Context, tx pgx.Tx, id string) (Request, error)

	SaveCredentials(ctx context.Context, tx pgx.Tx, creds Credentials) error
	GetCredentials(ctx context.Context, tx pgx.Tx, claimID string) (Credentials, error)
	DeleteCredentials(ctx context.Context, tx pgx.Tx, claimID string) error

	AppendEvent(ctx context.Context, tx pgx.Tx, claimID, eventType string, actorID *string, payload map[string]any) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool db.Pool
}

func NewRepository(pool db.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, company_id, company_name, tracking_number, business_email, supervisor_email,
	business_email_verified, supervisor_email_verified, domain_verified,
	user_id, supervisor_id, requester_id, status, contact_phone, notes, created_at, updated_at`

// Insert writes req under a savepoint so a tracking number collision leaves
// the outer transaction usable for a retry.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	const insertSQL = `
		INSERT INTO claim_requests (
			id, company_id, company_name, tracking_number, business_email, supervisor_email,
			business_email_verified, supervisor_email_verified, domain_verified,
			user_id, supervisor_id, requester_id, status, contact_phone, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING ` + requestColumns

	sp, err := tx.Begin(ctx)
	if err != nil {
		return Request{}, eris.Wrap(err, "claim: savepoint")
	}
	defer sp.Rollback(ctx)

	created, err := scanRequest(sp.QueryRow(ctx, insertSQL,
		req.ID, req.CompanyID, req.CompanyName, req.TrackingNumber, req.BusinessEmail, req.SupervisorEmail,
		req.BusinessEmailVerified, req.SupervisorEmailVerified, req.DomainVerified,
		req.UserID, req.SupervisorID, req.RequesterID, string(req.Status), req.ContactPhone, req.Notes,
		req.CreatedAt, req.UpdatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == trackingNumberConstraint {
			return Request{}, ErrTrackingNumberTaken
		}
		return Request{}, eris.Wrap(err, "claim: insert request")
	}
	if err := sp.Commit(ctx); err != nil {
		return Request{}, eris.Wrap(err, "claim: release savepoint")
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM claim_requests WHERE id = $1`
	return r.one(r.pool.QueryRow(ctx, query, id), "get")
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM claim_requests WHERE id = $1 FOR UPDATE`
	return r.one(tx.QueryRow(ctx, query, id), "lock")
}

func (r *PGRepository) GetByTrackingNumber(ctx context.Context, number string) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM claim_requests WHERE tracking_number = $1`
	return r.one(r.pool.QueryRow(ctx, query, number), "get by tracking number")
}

// FindByEmail locks the newest pending claim whose business or supervisor
// address is email. Decided claims never match.
func (r *PGRepository) FindByEmail(ctx context.Context, tx pgx.Tx, party Party, email string) (Request, error) {
	column := "business_email"
	if party == PartySupervisor {
		column = "supervisor_email"
	}
	query := `SELECT ` + requestColumns + ` FROM claim_requests
		WHERE ` + column + ` = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`
	return r.one(tx.QueryRow(ctx, query, email), "find by "+column)
}

// MarkVerified sets the flag of party and returns the row as written.
func (r *PGRepository) MarkVerified(ctx context.Context, tx pgx.Tx, id string, party Party, at time.Time) (Request, error) {
	column := "business_email_verified"
	if party == PartySupervisor {
		column = "supervisor_email_verified"
	}
	query := fmt.Sprintf(`
		UPDATE claim_requests
		SET %[1]s = true,
		    updated_at = CASE WHEN %[1]s THEN updated_at ELSE $2 END
		WHERE id = $1
		RETURNING %[2]s`, column, requestColumns)
	return r.one(tx.QueryRow(ctx, query, id, at), "mark verified")
}

// CompareAndSetStatus moves the request from one status to another. ok is
// false when the request was not in status from.
func (r *PGRepository) CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, notes *string, at time.Time) (Request, bool, error) {
	const updateSQL = `
		UPDATE claim_requests
		SET status = $3,
		    notes = COALESCE($4, notes),
		    updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRow(ctx, updateSQL, id, string(from), string(to), notes, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, false, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == approvedPerCompanyConstraint {
			return Request{}, false, ErrCompanyAlreadyClaimed
		}
		return Request{}, false, eris.Wrap(err, "claim: compare and set status")
	}
	return req, true, nil
}

// LinkAccounts records the accounts created or promoted for the request.
// Nil ids leave the column unchanged.
func (r *PGRepository) LinkAccounts(ctx context.Context, tx pgx.Tx, id string, userID, supervisorID *string) error {
	const updateSQL = `
		UPDATE claim_requests
		SET user_id = COALESCE($2, user_id),
		    supervisor_id = COALESCE($3, supervisor_id)
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateSQL, id, userID, supervisorID); err != nil {
		return eris.Wrap(err, "claim: link accounts")
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	filters = filters.normalized()

	where := []string{"1=1"}
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.CompanyID != "" {
		args = append(args, filters.CompanyID)
		where = append(where, fmt.Sprintf("company_id = $%d", len(args)))
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize
	query := fmt.Sprintf(`SELECT %s FROM claim_requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		requestColumns, whereClause, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "claim: query list")
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "claim: scan list")
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "claim: iterate list")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM claim_requests"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "claim: count list")
	}
	return list, total, nil
}

// Delete removes the request. Credentials and timeline rows go with it.
func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	query := `DELETE FROM claim_requests WHERE id = $1 RETURNING ` + requestColumns
	return r.one(tx.QueryRow(ctx, query, id), "delete")
}

func (r *PGRepository) SaveCredentials(ctx context.Context, tx pgx.Tx, creds Credentials) error {
	const insertSQL = `
		INSERT INTO claim_credentials (claim_id, business_password_hash, supervisor_password_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (claim_id) DO UPDATE
		SET business_password_hash = EXCLUDED.business_password_hash,
		    supervisor_password_hash = EXCLUDED.supervisor_password_hash,
		    expires_at = EXCLUDED.expires_at
	`
	if _, err := tx.Exec(ctx, insertSQL, creds.ClaimID, creds.BusinessPasswordHash, creds.SupervisorPasswordHash, creds.ExpiresAt); err != nil {
		return eris.Wrap(err, "claim: save credentials")
	}
	return nil
}

func (r *PGRepository) GetCredentials(ctx context.Context, tx pgx.Tx, claimID string) (Credentials, error) {
	const query = `
		SELECT claim_id, business_password_hash, supervisor_password_hash, expires_at
		FROM claim_credentials
		WHERE claim_id = $1
	`
	var c Credentials
	err := tx.QueryRow(ctx, query, claimID).Scan(&c.ClaimID, &c.BusinessPasswordHash, &c.SupervisorPasswordHash, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, eris.Wrap(err, "claim: get credentials")
	}
	return c, nil
}

func (r *PGRepository) DeleteCredentials(ctx context.Context, tx pgx.Tx, claimID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM claim_credentials WHERE claim_id = $1`, claimID); err != nil {
		return eris.Wrap(err, "claim: delete credentials")
	}
	return nil
}

func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, claimID, eventType string, actorID *string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "claim: marshal event payload")
	}
	const insertSQL = `
		INSERT INTO claim_events (claim_id, type, actor_id, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, claimID, eventType, actorID, string(body)); err != nil {
		return eris.Wrap(err, "claim: append event")
	}
	return nil
}

func (r *PGRepository) one(row pgx.Row, op string) (Request, error) {
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, eris.Wrapf(err, "claim: %s", op)
	}
	return req, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.CompanyID,
		&req.CompanyName,
		&req.TrackingNumber,
		&req.BusinessEmail,
		&req.SupervisorEmail,
		&req.BusinessEmailVerified,
		&req.SupervisorEmailVerified,
		&req.DomainVerified,
		&req.UserID,
		&req.SupervisorID,
		&req.RequesterID,
		&req.Status,
		&req.ContactPhone,
		&req.Notes,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	return req, err
}

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

func (f Filters) normalized() Filters {
	if f.Page <= 0 {
		f.Page = defaultPage
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}
