package verification

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidCode signals the code was never issued.
	ErrInvalidCode = eris.New("verification: invalid code")
	// ErrCodeExpired signals the code outlived its TTL before redemption.
	ErrCodeExpired = eris.New("verification: code expired")
	// ErrCodeUsed signals the code was already redeemed.
	ErrCodeUsed = eris.New("verification: code already used")
)

// Repository persists action codes inside caller-owned transactions.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, code Code) error
	Consume(ctx context.Context, tx pgx.Tx, hash string, now time.Time) (Code, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, code Code) error {
	const insertSQL = `
		INSERT INTO verification_codes (code_hash, email, purpose, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, insertSQL, code.Hash, code.Email, string(code.Purpose), code.ExpiresAt); err != nil {
		return eris.Wrap(err, "verification: insert code")
	}
	return nil
}

// Consume marks the code used if it is unused and unexpired. When nothing
// matches, a second read classifies the failure.
func (r *PGRepository) Consume(ctx context.Context, tx pgx.Tx, hash string, now time.Time) (Code, error) {
	const updateSQL = `
		UPDATE verification_codes
		SET used_at = $2
		WHERE code_hash = $1
		  AND used_at IS NULL
		  AND expires_at > $2
		RETURNING code_hash, email, purpose, expires_at, used_at, created_at
	`

	var code Code
	err := tx.QueryRow(ctx, updateSQL, hash, now).
		Scan(&code.Hash, &code.Email, &code.Purpose, &code.ExpiresAt, &code.UsedAt, &code.CreatedAt)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Code{}, eris.Wrap(err, "verification: consume code")
	}

	const check = `SELECT used_at FROM verification_codes WHERE code_hash = $1`
	var usedAt *time.Time
	if err := tx.QueryRow(ctx, check, hash).Scan(&usedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrInvalidCode
		}
		return Code{}, eris.Wrap(err, "verification: classify code")
	}
	if usedAt != nil {
		return Code{}, ErrCodeUsed
	}
	return Code{}, ErrCodeExpired
}
