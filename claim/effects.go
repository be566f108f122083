package claim

import (
	"context"
	"errors"
	"maps"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"realtyclaims/auth"
	"realtyclaims/company"
	"realtyclaims/outbox"
)

// execute carries out effects for req inside tx and returns req with the
// linked account ids filled in. businessHash, when set, is used instead of
// the stored business password.
func (s *Service) execute(ctx context.Context, tx pgx.Tx, req Request, effects []Effect, businessHash, locale string) (Request, error) {
	creds := &credentialSource{svc: s, tx: tx, claimID: req.ID, override: businessHash}
	var linkedUser, linkedSupervisor *string

	for _, eff := range effects {
		switch eff.Kind {
		case EffectPromoteAccount:
			id, err := s.promoteAccount(ctx, tx, req, eff, creds)
			if err != nil {
				return req, err
			}
			if eff.Party == PartyBusiness {
				linkedUser = id
			} else {
				linkedSupervisor = id
			}

		case EffectClaimCompany:
			ok, err := s.companies.MarkClaimed(ctx, tx, company.ClaimParams{
				CompanyID: eff.CompanyID,
				ClaimID:   req.ID,
				Email:     eff.Email,
				Phone:     eff.Phone,
			})
			if err != nil {
				return req, err
			}
			if !ok {
				return req, ErrCompanyAlreadyClaimed
			}

		case EffectDiscardCredentials:
			if err := s.repo.DeleteCredentials(ctx, tx, req.ID); err != nil {
				return req, err
			}

		case EffectNotify:
			if err := s.notify(ctx, tx, req, eff.Topic, locale); err != nil {
				return req, err
			}
		}
	}

	if linkedUser != nil || linkedSupervisor != nil {
		if err := s.repo.LinkAccounts(ctx, tx, req.ID, linkedUser, linkedSupervisor); err != nil {
			return req, err
		}
		if linkedUser != nil {
			req.UserID = linkedUser
		}
		if linkedSupervisor != nil {
			req.SupervisorID = linkedSupervisor
		}
	}
	return req, nil
}

// promoteAccount moves the account owning eff.Email into the company. An
// existing account is promoted in place; otherwise one is created with the
// company role from the stored or supplied password hash.
func (s *Service) promoteAccount(ctx context.Context, tx pgx.Tx, req Request, eff Effect, creds *credentialSource) (*string, error) {
	user, err := s.accounts.FindByEmailTx(ctx, tx, eff.Email)
	if err == nil {
		if err := s.accounts.PromoteTx(ctx, tx, user.ID, eff.CompanyID); err != nil {
			return nil, err
		}
		return &user.ID, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, err
	}

	hash, err := creds.hash(ctx, eff.Party)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		if eff.Required {
			return nil, ErrCredentialsRequired
		}
		zap.L().Warn("no account and no credentials for claim address, skipping promotion",
			zap.String("claim_id", req.ID),
			zap.String("party", string(eff.Party)),
		)
		return nil, nil
	}

	name := req.CompanyName
	if eff.Party == PartySupervisor {
		name = eff.Email
	}
	companyID := eff.CompanyID
	created, err := s.accounts.InsertUserTx(ctx, tx, auth.CreateUserParams{
		Email:         eff.Email,
		DisplayName:   name,
		PasswordHash:  hash,
		Role:          auth.RoleCompany,
		CompanyID:     &companyID,
		EmailVerified: req.Verified(eff.Party),
	})
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	return &created.ID, nil
}

// notify enqueues the topic event and, for decisions, one mail row per
// claim address.
func (s *Service) notify(ctx context.Context, tx pgx.Tx, req Request, topic, locale string) error {
	payload := map[string]any{
		"claim_id":         req.ID,
		"company_id":       req.CompanyID,
		"company_name":     req.CompanyName,
		"business_email":   req.BusinessEmail,
		"supervisor_email": req.SupervisorEmail,
		"status":           string(req.Status),
	}
	if req.Notes != nil {
		payload["notes"] = *req.Notes
	}
	if locale != "" {
		payload["locale"] = locale
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return err
	}
	if topic != outbox.TopicClaimApproved && topic != outbox.TopicClaimRejected {
		return nil
	}

	for _, to := range []string{req.BusinessEmail, req.SupervisorEmail} {
		if to == "" {
			continue
		}
		row := maps.Clone(payload)
		row["recipient"] = to
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicClaimDecisionMail, row); err != nil {
			return err
		}
	}
	return nil
}

// credentialSource loads the stored hashes at most once. Expired
// credentials count as absent.
type credentialSource struct {
	svc      *Service
	tx       pgx.Tx
	claimID  string
	override string

	loaded bool
	creds  Credentials
}

func (c *credentialSource) hash(ctx context.Context, p Party) (string, error) {
	if p == PartyBusiness && c.override != "" {
		return c.override, nil
	}
	if !c.loaded {
		creds, err := c.svc.repo.GetCredentials(ctx, c.tx, c.claimID)
		switch {
		case err == nil:
			if creds.ExpiresAt.After(c.svc.now()) {
				c.creds = creds
			}
		case !errors.Is(err, ErrNotFound):
			return "", err
		}
		c.loaded = true
	}
	return c.creds.hashFor(p), nil
}
