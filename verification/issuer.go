package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"realtyclaims/mail"
	"realtyclaims/telemetry"
)

// ErrDispatch signals the code was minted but the email could not be sent.
var ErrDispatch = eris.New("verification: dispatch failed")

const codeBytes = 32

// IsRecoverable reports whether err is a redemption failure the user can fix
// by requesting a new link.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrCodeExpired) || errors.Is(err, ErrCodeUsed)
}

// Options configures an Issuer.
type Options struct {
	LinkBaseURL string
	TTL         time.Duration
}

// Issuer mints codes bound to one email address and emails them as links.
type Issuer struct {
	repo     Repository
	mailer   mail.Mailer
	linkBase string
	ttl      time.Duration
	now      func() time.Time
	random   io.Reader
	metrics  *telemetry.Metrics
}

func NewIssuer(repo Repository, mailer mail.Mailer, opts Options) *Issuer {
	if repo == nil {
		repo = NewRepository()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{
		repo:     repo,
		mailer:   mailer,
		linkBase: opts.LinkBaseURL,
		ttl:      ttl,
		now:      time.Now,
		random:   rand.Reader,
		metrics:  telemetry.Default(),
	}
}

func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) WithRandom(r io.Reader) *Issuer {
	i.random = r
	return i
}

func (i *Issuer) WithMetrics(m *telemetry.Metrics) *Issuer {
	i.metrics = m
	return i
}

// Issue stores a fresh code for req.Email inside tx and emails the link.
// A delivery failure returns ErrDispatch so the caller can roll back.
func (i *Issuer) Issue(ctx context.Context, tx pgx.Tx, req IssueRequest) error {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return eris.New("verification: missing email")
	}

	raw := make([]byte, codeBytes)
	if _, err := io.ReadFull(i.random, raw); err != nil {
		return eris.Wrap(err, "verification: generate code")
	}
	code := base64.RawURLEncoding.EncodeToString(raw)

	rec := Code{
		Hash:      HashCode(code),
		Email:     email,
		Purpose:   req.Purpose,
		ExpiresAt: i.now().Add(i.ttl),
	}
	if err := i.repo.Insert(ctx, tx, rec); err != nil {
		return err
	}

	link, err := i.link(code)
	if err != nil {
		return err
	}
	msg, err := mail.Render(kindFor(req.Purpose), req.Locale, email, mail.TemplateData{
		CompanyName: req.CompanyName,
		Link:        link,
	})
	if err != nil {
		return err
	}
	if err := i.mailer.Send(ctx, msg); err != nil {
		i.metrics.MailDelivered(ctx, "failed")
		return eris.Wrapf(ErrDispatch, "verification: send %s link: %v", req.Purpose, err)
	}
	i.metrics.MailDelivered(ctx, "sent")

	zap.L().Debug("verification: link issued",
		zap.String("email", email),
		zap.String("purpose", string(req.Purpose)),
		zap.Time("expires_at", rec.ExpiresAt),
	)
	return nil
}

// Redeem consumes code inside tx and returns the address it was bound to.
func (i *Issuer) Redeem(ctx context.Context, tx pgx.Tx, code string) (Redemption, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		i.metrics.RedeemFailed(ctx, "invalid")
		return Redemption{}, ErrInvalidCode
	}

	rec, err := i.repo.Consume(ctx, tx, HashCode(code), i.now())
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeExpired):
			i.metrics.RedeemFailed(ctx, "expired")
		case errors.Is(err, ErrCodeUsed):
			i.metrics.RedeemFailed(ctx, "used")
		case errors.Is(err, ErrInvalidCode):
			i.metrics.RedeemFailed(ctx, "invalid")
		}
		return Redemption{}, err
	}
	return Redemption{Email: rec.Email, Purpose: rec.Purpose}, nil
}

func (i *Issuer) link(code string) (string, error) {
	u, err := url.Parse(i.linkBase)
	if err != nil {
		return "", eris.Wrap(err, "verification: parse link base")
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HashCode returns the stored form of an emailed code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func kindFor(p Purpose) mail.Kind {
	switch p {
	case PurposeClaimBusiness:
		return mail.KindVerifyBusiness
	case PurposeClaimSupervisor:
		return mail.KindVerifySupervisor
	default:
		return mail.KindVerifyAccount
	}
}
