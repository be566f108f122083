package claim

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"realtyclaims/auth"
	"realtyclaims/company"
	"realtyclaims/outbox"
	"realtyclaims/telemetry"
	"realtyclaims/verification"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Accounts is the slice of the account store the workflow mutates.
type Accounts interface {
	FindByEmailTx(ctx context.Context, tx pgx.Tx, email string) (auth.User, error)
	InsertUserTx(ctx context.Context, tx pgx.Tx, params auth.CreateUserParams) (auth.User, error)
	PromoteTx(ctx context.Context, tx pgx.Tx, userID, companyID string) error
	MarkEmailVerifiedTx(ctx context.Context, tx pgx.Tx, email string) (bool, error)
}

// Companies is the slice of the company directory the workflow reads and
// claims.
type Companies interface {
	GetByID(ctx context.Context, id string) (company.Company, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (company.Company, error)
	MarkClaimed(ctx context.Context, tx pgx.Tx, params company.ClaimParams) (bool, error)
}

// LinkIssuer mints and redeems single-use verification codes.
type LinkIssuer interface {
	Issue(ctx context.Context, tx pgx.Tx, req verification.IssueRequest) error
	Redeem(ctx context.Context, tx pgx.Tx, code string) (verification.Redemption, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Options tunes a Service.
type Options struct {
	CredentialTTL    time.Duration
	TrackingAttempts int
}

// Service runs the claim workflow. Every mutating operation is one
// transaction.
type Service struct {
	pool      TxBeginner
	repo      Repository
	accounts  Accounts
	companies Companies
	links     LinkIssuer
	outbox    OutboxWriter
	metrics   *telemetry.Metrics

	now              func() time.Time
	random           io.Reader
	idGenerator      func() string
	credentialTTL    time.Duration
	trackingAttempts int
}

func NewService(pool TxBeginner, repo Repository, accounts Accounts, companies Companies, links LinkIssuer, writer OutboxWriter, opts Options) *Service {
	if opts.CredentialTTL <= 0 {
		opts.CredentialTTL = 30 * 24 * time.Hour
	}
	if opts.TrackingAttempts <= 0 {
		opts.TrackingAttempts = 8
	}
	return &Service{
		pool:             pool,
		repo:             repo,
		accounts:         accounts,
		companies:        companies,
		links:            links,
		outbox:           writer,
		metrics:          telemetry.Default(),
		now:              time.Now,
		random:           rand.Reader,
		idGenerator:      func() string { return uuid.NewString() },
		credentialTTL:    opts.CredentialTTL,
		trackingAttempts: opts.TrackingAttempts,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithRandom sets the source tracking numbers are drawn from.
func (s *Service) WithRandom(r io.Reader) *Service {
	s.random = r
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithMetrics(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

// Submit validates the claim form and records a pending claim. In domain
// mode both accounts are created and both verification links are emailed
// before the transaction commits; a failed dispatch rolls everything back.
func (s *Service) Submit(ctx context.Context, rc RequestContext, p SubmitParams) (SubmitResult, error) {
	p.CompanyID = strings.TrimSpace(p.CompanyID)
	if p.CompanyID == "" {
		return SubmitResult{}, ErrMissingCompany
	}
	businessEmail, err := normalizeEmail(p.BusinessEmail)
	if err != nil {
		return SubmitResult{}, err
	}
	supervisorEmail, err := normalizeEmail(p.SupervisorEmail)
	if err != nil {
		return SubmitResult{}, err
	}
	if strings.EqualFold(businessEmail, supervisorEmail) {
		return SubmitResult{}, ErrSameEmails
	}

	comp, err := s.companies.GetByID(ctx, p.CompanyID)
	if err != nil {
		if errors.Is(err, company.ErrNotFound) {
			return SubmitResult{}, ErrCompanyNotFound
		}
		return SubmitResult{}, err
	}
	if comp.Claimed {
		return SubmitResult{}, ErrCompanyAlreadyClaimed
	}

	mode := ModeManual
	if comp.Website != nil {
		if domain, ok := RegisteredDomain(*comp.Website); ok {
			if !MatchesDomain(businessEmail, domain) {
				return SubmitResult{}, ErrDomainMismatch
			}
			mode = ModeDomain
		}
	}
	var phone *string
	if v := strings.TrimSpace(p.ContactPhone); v != "" {
		phone = &v
	}
	if mode == ModeManual && phone == nil {
		return SubmitResult{}, ErrPhoneRequired
	}

	businessHash, err := hashPassword(p.Password)
	if err != nil {
		return SubmitResult{}, err
	}
	supervisorHash, err := hashPassword(p.SupervisorPassword)
	if err != nil {
		return SubmitResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SubmitResult{}, eris.Wrap(err, "claim: begin tx")
	}
	defer tx.Rollback(ctx)

	now := s.now()
	req := Request{
		ID:              s.idGenerator(),
		CompanyID:       comp.ID,
		CompanyName:     comp.Name,
		BusinessEmail:   businessEmail,
		SupervisorEmail: supervisorEmail,
		DomainVerified:  mode == ModeDomain,
		RequesterID:     rc.actor(),
		Status:          StatusPending,
		ContactPhone:    phone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if mode == ModeDomain {
		req.UserID, err = s.ensureAccount(ctx, tx, rc, businessEmail, businessHash, displayName(p.DisplayName, comp.Name))
		if err != nil {
			return SubmitResult{}, err
		}
		req.SupervisorID, err = s.ensureAccount(ctx, tx, rc, supervisorEmail, supervisorHash, displayName(p.SupervisorName, supervisorEmail))
		if err != nil {
			return SubmitResult{}, err
		}
	}

	created, err := s.insertWithTrackingNumber(ctx, tx, req)
	if err != nil {
		return SubmitResult{}, err
	}

	if mode == ModeManual {
		err := s.repo.SaveCredentials(ctx, tx, Credentials{
			ClaimID:                created.ID,
			BusinessPasswordHash:   businessHash,
			SupervisorPasswordHash: supervisorHash,
			ExpiresAt:              now.Add(s.credentialTTL),
		})
		if err != nil {
			return SubmitResult{}, err
		}
	}

	if err := s.repo.AppendEvent(ctx, tx, created.ID, EventTypeSubmitted, rc.actor(), map[string]any{
		"mode":       string(mode),
		"company_id": created.CompanyID,
	}); err != nil {
		return SubmitResult{}, err
	}
	if err := s.notify(ctx, tx, created, outbox.TopicClaimSubmitted, rc.Locale); err != nil {
		return SubmitResult{}, err
	}

	if mode == ModeDomain {
		for _, party := range []Party{PartyBusiness, PartySupervisor} {
			if err := s.issueLink(ctx, tx, created, party, rc.Locale); err != nil {
				return SubmitResult{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SubmitResult{}, eris.Wrap(err, "claim: commit tx")
	}

	s.metrics.ClaimSubmitted(ctx, string(mode))
	zap.L().Info("claim submitted",
		zap.String("claim_id", created.ID),
		zap.String("company_id", created.CompanyID),
		zap.String("mode", string(mode)),
	)
	return SubmitResult{ClaimID: created.ID, TrackingNumber: created.TrackingNumber, Mode: mode}, nil
}

// Track returns the public view of the claim holding number.
func (s *Service) Track(ctx context.Context, number string) (TrackingView, error) {
	normalized, err := NormalizeTrackingNumber(number)
	if err != nil {
		return TrackingView{}, err
	}
	req, err := s.repo.GetByTrackingNumber(ctx, normalized)
	if err != nil {
		return TrackingView{}, err
	}
	return req.View(), nil
}

func (s *Service) Get(ctx context.Context, rc RequestContext, id string) (Request, error) {
	if !rc.IsAdmin() {
		return Request{}, ErrForbidden
	}
	return s.repo.Get(ctx, id)
}

// List pages through claims, newest first.
func (s *Service) List(ctx context.Context, rc RequestContext, filters Filters) (ListResult, error) {
	if !rc.IsAdmin() {
		return ListResult{}, ErrForbidden
	}
	filters = filters.normalized()
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: filters.Page, PageSize: filters.PageSize}, nil
}

// ensureAccount returns the account for email, creating a plain user account
// when none exists. An existing account is only reused when it belongs to
// the caller.
func (s *Service) ensureAccount(ctx context.Context, tx pgx.Tx, rc RequestContext, email, hash, name string) (*string, error) {
	existing, err := s.accounts.FindByEmailTx(ctx, tx, email)
	switch {
	case err == nil:
		if rc.ActorID != "" && existing.ID == rc.ActorID {
			return &existing.ID, nil
		}
		return nil, ErrEmailInUse
	case !errors.Is(err, auth.ErrUserNotFound):
		return nil, err
	}

	user, err := s.accounts.InsertUserTx(ctx, tx, auth.CreateUserParams{
		Email:        email,
		DisplayName:  name,
		PasswordHash: hash,
		Role:         auth.RoleUser,
	})
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	return &user.ID, nil
}

func (s *Service) insertWithTrackingNumber(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	for attempt := 1; attempt <= s.trackingAttempts; attempt++ {
		number, err := GenerateTrackingNumber(s.random)
		if err != nil {
			return Request{}, err
		}
		req.TrackingNumber = number

		created, err := s.repo.Insert(ctx, tx, req)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrTrackingNumberTaken) {
			return Request{}, err
		}
		zap.L().Debug("tracking number collision, drawing again",
			zap.String("claim_id", req.ID),
			zap.Int("attempt", attempt),
		)
	}
	return Request{}, ErrTrackingNumberTaken
}

func (s *Service) issueLink(ctx context.Context, tx pgx.Tx, req Request, party Party, locale string) error {
	purpose := verification.PurposeClaimBusiness
	if party == PartySupervisor {
		purpose = verification.PurposeClaimSupervisor
	}
	return s.dispatch(ctx, tx, verification.IssueRequest{
		Email:       req.Email(party),
		Purpose:     purpose,
		Locale:      locale,
		CompanyName: req.CompanyName,
	})
}

// dispatch issues a link and maps a delivery failure to ErrDispatchFailed.
func (s *Service) dispatch(ctx context.Context, tx pgx.Tx, ir verification.IssueRequest) error {
	err := s.links.Issue(ctx, tx, ir)
	if err == nil {
		return nil
	}
	if errors.Is(err, verification.ErrDispatch) {
		zap.L().Warn("verification link dispatch failed",
			zap.String("email", ir.Email),
			zap.String("purpose", string(ir.Purpose)),
			zap.Error(err),
		)
		return eris.Wrapf(ErrDispatchFailed, "claim: %s link: %v", ir.Purpose, err)
	}
	return err
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func hashPassword(password string) (string, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return "", ErrWeakPassword
		}
		return "", err
	}
	return hash, nil
}

func displayName(name, fallback string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return fallback
}
