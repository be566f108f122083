package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"realtyclaims/db"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = eris.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = eris.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	ListByCompanyRole(ctx context.Context, companyID string, role Role) ([]User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          Role
	CompanyID     *string
	EmailVerified bool
}

// PGRepository implements Repository backed by PostgreSQL. The *Tx methods
// run inside a caller-owned transaction.
type PGRepository struct {
	pool db.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool db.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, display_name, password_hash, role, company_id, email_verified, created_at, updated_at`

// CreateUser inserts a new user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	return insertUser(ctx, r.pool, params)
}

// InsertUserTx is CreateUser inside tx.
func (r *PGRepository) InsertUserTx(ctx context.Context, tx pgx.Tx, params CreateUserParams) (User, error) {
	return insertUser(ctx, tx, params)
}

// GetUserByEmail retrieves a user by email address, ignoring case.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return getUserByEmail(ctx, r.pool, email, false)
}

// FindByEmailTx locks and returns the user with email.
func (r *PGRepository) FindByEmailTx(ctx context.Context, tx pgx.Tx, email string) (User, error) {
	return getUserByEmail(ctx, tx, email, true)
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	selectSQL := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, eris.Wrap(err, "auth: get user by id")
	}

	return user, nil
}

// ListByCompanyRole lists the accounts holding role for companyID.
func (r *PGRepository) ListByCompanyRole(ctx context.Context, companyID string, role Role) ([]User, error) {
	selectSQL := `SELECT ` + userColumns + ` FROM users WHERE company_id = $1 AND role = $2 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, selectSQL, companyID, string(role))
	if err != nil {
		return nil, eris.Wrap(err, "auth: list by company role")
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, eris.Wrap(err, "auth: scan user")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "auth: iterate users")
	}
	return users, nil
}

// PromoteTx grants the company role for companyID. Admin accounts keep
// their role but are linked to the company.
func (r *PGRepository) PromoteTx(ctx context.Context, tx pgx.Tx, userID, companyID string) error {
	const updateSQL = `
		UPDATE users
		SET role = CASE WHEN role = 'admin' THEN role ELSE 'company' END,
		    company_id = $2,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, updateSQL, userID, companyID)
	if err != nil {
		return eris.Wrap(err, "auth: promote user")
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkEmailVerifiedTx flags the account with email as verified and reports
// whether such an account exists.
func (r *PGRepository) MarkEmailVerifiedTx(ctx context.Context, tx pgx.Tx, email string) (bool, error) {
	const updateSQL = `
		UPDATE users
		SET email_verified = true,
		    updated_at = CASE WHEN email_verified THEN updated_at ELSE now() END
		WHERE lower(email) = lower($1)
	`
	tag, err := tx.Exec(ctx, updateSQL, email)
	if err != nil {
		return false, eris.Wrap(err, "auth: mark email verified")
	}
	return tag.RowsAffected() > 0, nil
}

func insertUser(ctx context.Context, q db.Querier, params CreateUserParams) (User, error) {
	role := params.Role
	if role == "" {
		role = RoleUser
	}
	insertSQL := `
		INSERT INTO users (email, display_name, password_hash, role, company_id, email_verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, insertSQL,
		params.Email, params.DisplayName, params.PasswordHash, string(role), params.CompanyID, params.EmailVerified))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, eris.Wrap(err, "auth: create user")
	}
	return user, nil
}

func getUserByEmail(ctx context.Context, q db.Querier, email string, lock bool) (User, error) {
	selectSQL := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	if lock {
		selectSQL += ` FOR UPDATE`
	}

	user, err := scanUser(q.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, eris.Wrap(err, "auth: get user by email")
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&user.CompanyID,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
