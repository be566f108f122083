// Package actors drives the claim workflow concurrently against a real
// database for the stress test.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"realtyclaims/auth"
	"realtyclaims/claim"
	"realtyclaims/mail"
	"realtyclaims/verification"
)

// Inbox is a mailer that keeps every emailed action code.
type Inbox struct {
	mu    sync.Mutex
	codes []string
	sent  atomic.Int64
}

func (in *Inbox) Send(_ context.Context, msg mail.Message) error {
	in.sent.Add(1)
	for _, line := range strings.Split(msg.Body, "\n") {
		u, err := url.Parse(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		if code := u.Query().Get("code"); code != "" {
			in.mu.Lock()
			in.codes = append(in.codes, code)
			in.mu.Unlock()
		}
	}
	return nil
}

// Pick returns a random code seen so far. Codes stay in the inbox so that
// several actors redeem the same code concurrently.
func (in *Inbox) Pick(r *rand.Rand) (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.codes) == 0 {
		return "", false
	}
	return in.codes[r.Intn(len(in.codes))], true
}

// Sent reports how many messages were delivered.
func (in *Inbox) Sent() int64 { return in.sent.Load() }

// Stats counts what the actors did. Unexpected holds errors that are
// neither workflow outcomes nor infrastructure hiccups.
type Stats struct {
	Submitted  atomic.Int64
	Redeemed   atomic.Int64
	Promoted   atomic.Int64
	Moderated  atomic.Int64
	Tolerated  atomic.Int64
	Unexpected atomic.Int64

	mu      sync.Mutex
	lastErr error
}

func (s *Stats) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Stats) record(err error, expected ...error) {
	if err == nil {
		return
	}
	for _, target := range expected {
		if errors.Is(err, target) {
			return
		}
	}
	if transient(err) {
		s.Tolerated.Add(1)
		return
	}
	s.Unexpected.Add(1)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// transient reports errors caused by the database connection rather than
// the workflow: cancelled contexts, killed backends, lock timeouts.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "40", "57", "08":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) || strings.Contains(err.Error(), "conn closed") ||
		strings.Contains(err.Error(), "unexpected EOF")
}

// Submitter files domain-mode claims against random companies.
func Submitter(ctx context.Context, svc *claim.Service, companyIDs, domains []string, seed int64, stats *Stats, stop <-chan struct{}) error {
	r := rand.New(rand.NewSource(seed))
	for n := 0; ; n++ {
		if done(ctx, stop) {
			return nil
		}
		i := r.Intn(len(companyIDs))
		tag := fmt.Sprintf("%d-%d", seed, n)
		_, err := svc.Submit(ctx, claim.RequestContext{Locale: "en"}, claim.SubmitParams{
			CompanyID:          companyIDs[i],
			BusinessEmail:      "owner-" + tag + "@" + domains[i],
			SupervisorEmail:    "lead-" + tag + "@mailbox.example",
			Password:           "stress-password",
			SupervisorPassword: "stress-password",
		})
		if err == nil {
			stats.Submitted.Add(1)
		}
		stats.record(err, claim.ErrCompanyAlreadyClaimed, claim.ErrEmailInUse)
		pause(r, 20, 40)
	}
}

// Verifier redeems random emailed codes, many of them more than once.
func Verifier(ctx context.Context, svc *claim.Service, inbox *Inbox, seed int64, stats *Stats, stop <-chan struct{}) error {
	r := rand.New(rand.NewSource(seed))
	for {
		if done(ctx, stop) {
			return nil
		}
		code, ok := inbox.Pick(r)
		if !ok {
			pause(r, 5, 10)
			continue
		}
		res, err := svc.RedeemVerification(ctx, claim.RequestContext{}, code)
		if err == nil {
			stats.Redeemed.Add(1)
			if res.Promoted {
				stats.Promoted.Add(1)
			}
		}
		stats.record(err, verification.ErrCodeUsed, verification.ErrCodeExpired, verification.ErrInvalidCode)
		pause(r, 1, 5)
	}
}

// Moderator approves, rejects, reconciles or deletes random claims as an
// admin, racing the verifiers.
func Moderator(ctx context.Context, svc *claim.Service, pool *pgxpool.Pool, adminID string, seed int64, stats *Stats, stop <-chan struct{}) error {
	r := rand.New(rand.NewSource(seed))
	rc := claim.RequestContext{ActorID: adminID, Role: auth.RoleAdmin, Locale: "en"}
	for {
		if done(ctx, stop) {
			return nil
		}
		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM claim_requests ORDER BY random() LIMIT 1`).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			pause(r, 20, 40)
			continue
		}
		if err != nil {
			stats.record(err)
			continue
		}

		switch p := r.Intn(10); {
		case p < 3:
			_, err = svc.Approve(ctx, rc, id, claim.ApproveParams{Notes: "stress approve"})
		case p < 5:
			_, err = svc.Reject(ctx, rc, id, "stress reject")
		case p < 6:
			_, err = svc.Delete(ctx, rc, id)
		case p < 8:
			_, err = svc.ForceVerify(ctx, rc, id, claim.PartySupervisor)
		default:
			_, err = svc.Reconcile(ctx, rc, id)
		}
		if err == nil {
			stats.Moderated.Add(1)
		}
		stats.record(err,
			claim.ErrNotFound,
			claim.ErrInvalidTransition,
			claim.ErrAlreadyApproved,
			claim.ErrAlreadyRejected,
			claim.ErrCompanyAlreadyClaimed,
			claim.ErrCredentialsRequired,
		)
		pause(r, 30, 60)
	}
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(r *rand.Rand, minMs, maxMs int) {
	time.Sleep(time.Duration(minMs+r.Intn(maxMs-minMs+1)) * time.Millisecond)
}
