package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"realtyclaims/db"
	"realtyclaims/migrations"
)

// Harness owns the lifecycle of the test database and its pgx pool.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
}

// NewHarness connects to dsn (or boots a container when dsn is empty and
// DATABASE_URL is unset) and applies the embedded migrations.
func NewHarness(ctx context.Context, dsn string, maxConns int32) (*Harness, error) {
	container, dsn, err := StartPostgres16(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	pool, err := db.NewPool(ctx, dsn, maxConns)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("create pool: %w", err)
	}

	h := &Harness{container: container, pool: pool, dsn: dsn}
	if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if err := h.Reset(ctx); err != nil {
		h.Close(ctx)
		return nil, err
	}
	return h, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates every mutable table. A reused database starts clean.
func (h *Harness) Reset(ctx context.Context) error {
	_, err := h.pool.Exec(ctx, `TRUNCATE content_reports, outbox, verification_codes, claim_events,
		claim_credentials, claim_requests, users, companies RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// SeedCompanies inserts n unclaimed companies whose websites live on
// distinct domains and returns their ids and domains.
func (h *Harness) SeedCompanies(ctx context.Context, n int) (ids, domains []string, err error) {
	for i := 0; i < n; i++ {
		domain := fmt.Sprintf("realty-%d.example", i)
		var id string
		err := h.pool.QueryRow(ctx,
			`INSERT INTO companies (name, website) VALUES ($1, $2) RETURNING id`,
			fmt.Sprintf("Realty %d", i), "https://www."+domain,
		).Scan(&id)
		if err != nil {
			return nil, nil, fmt.Errorf("seed company %d: %w", i, err)
		}
		ids = append(ids, id)
		domains = append(domains, domain)
	}
	return ids, domains, nil
}

// SeedAdmin inserts an admin account and returns its id.
func (h *Harness) SeedAdmin(ctx context.Context) (string, error) {
	var id string
	err := h.pool.QueryRow(ctx,
		`INSERT INTO users (email, display_name, role, email_verified) VALUES ('admin@realtyclaims.local', 'Admin', 'admin', true) RETURNING id`,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("seed admin: %w", err)
	}
	return id, nil
}
