package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"realtyclaims/auth"
	"realtyclaims/claim"
	"realtyclaims/company"
	"realtyclaims/outbox"
	"realtyclaims/test/actors"
	"realtyclaims/test/chaos"
	"realtyclaims/test/infra"
	"realtyclaims/test/oracles"
	"realtyclaims/verification"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent verifiers")
	flCompanies   = flag.Int("companies", 6, "number of seeded companies")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "kill random backends while running")
)

func TestClaimWorkflowConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in short mode")
	}
	zap.ReplaceGlobals(zap.NewNop())
	seed := *flSeed

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	dsn := *flDSN
	if dsn == "" && os.Getenv("DATABASE_URL") == "" && !dockerAvailable(ctx) {
		t.Skip("no DATABASE_URL and no docker; skipping stress test")
	}

	h, err := infra.NewHarness(ctx, dsn, 32)
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	defer h.Close(context.Background())
	pool := h.Pool()

	companyIDs, domains, err := h.SeedCompanies(ctx, *flCompanies)
	if err != nil {
		t.Fatalf("%v", err)
	}
	adminID, err := h.SeedAdmin(ctx)
	if err != nil {
		t.Fatalf("%v", err)
	}

	inbox := &actors.Inbox{}
	users := auth.NewRepository(pool)
	issuer := verification.NewIssuer(nil, inbox, verification.Options{LinkBaseURL: "https://claims.example/verify"})
	svc := claim.NewService(pool, claim.NewRepository(pool), users, company.NewRepository(pool), issuer, outbox.NewWriter(), claim.Options{})
	relay := outbox.NewRelay(pool, outbox.NewMailNotifier(inbox), outbox.RelayOptions{PollInterval: 200 * time.Millisecond})

	stats := &actors.Stats{}
	stop := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < 2; i++ {
		s := seed + int64(i)
		g.Go(func() error { return actors.Submitter(gctx, svc, companyIDs, domains, s, stats, stop) })
	}
	for i := 0; i < *flConcurrency; i++ {
		s := seed + 100 + int64(i)
		g.Go(func() error { return actors.Verifier(gctx, svc, inbox, s, stats, stop) })
	}
	g.Go(func() error { return actors.Moderator(gctx, svc, pool, adminID, seed+1000, stats, stop) })
	relayCtx, stopRelay := context.WithCancel(gctx)
	defer stopRelay()
	g.Go(func() error { return relay.Run(relayCtx) })
	if *flChaos {
		go chaos.TerminateRandomBackend(gctx, pool, 2*time.Second, 5, seed, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if checkOracles(t, ctx, pool, seed) {
				break loop
			}
		}
	}

	close(stop)
	stopRelay()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("actors errored: %v", err)
	}
	checkOracles(t, context.Background(), pool, seed)

	t.Logf("submitted=%d redeemed=%d promoted=%d moderated=%d mails=%d tolerated=%d unexpected=%d",
		stats.Submitted.Load(), stats.Redeemed.Load(), stats.Promoted.Load(), stats.Moderated.Load(),
		inbox.Sent(), stats.Tolerated.Load(), stats.Unexpected.Load())
	if n := stats.Unexpected.Load(); n > 0 {
		t.Fatalf("%d unexpected errors, last: %v (seed=%d)", n, stats.LastError(), seed)
	}
	if stats.Submitted.Load() == 0 {
		t.Fatalf("no claim was submitted (seed=%d)", seed)
	}
}

// checkOracles fails the test on the first broken invariant and reports
// whether it did.
func checkOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool, seed int64) bool {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		// A chaos kill can hit the oracle connection too.
		t.Logf("oracle error: %v", err)
		return false
	}
	if name != "" {
		dumpRecent(t, ctx, pool)
		t.Errorf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
		return true
	}
	return false
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"claim_requests", `SELECT id, company_id, status, business_email_verified, supervisor_email_verified, updated_at FROM claim_requests ORDER BY updated_at DESC LIMIT 30`},
		{"claim_events", `SELECT id, claim_id, type, created_at FROM claim_events ORDER BY id DESC LIMIT 50`},
		{"companies", `SELECT id, claimed, claimed_by_request FROM companies`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 20`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
