package claim

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"realtyclaims/auth"
	"realtyclaims/verification"
)

// VerificationResult reports what a redeemed code did. ClaimID is empty when
// the address belonged to no claim.
type VerificationResult struct {
	Email    string
	ClaimID  string
	Party    Party
	Status   Status
	Promoted bool
}

// RedeemVerification consumes an emailed code and applies the proven address
// to the claim it belongs to. Unusable codes come back as the recoverable
// verification errors and change nothing.
func (s *Service) RedeemVerification(ctx context.Context, rc RequestContext, code string) (VerificationResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return VerificationResult{}, eris.Wrap(err, "claim: begin tx")
	}
	defer tx.Rollback(ctx)

	redemption, err := s.links.Redeem(ctx, tx, code)
	if err != nil {
		return VerificationResult{}, err
	}

	res, err := s.applyVerifiedEmail(ctx, tx, rc, redemption.Email)
	if err != nil {
		return VerificationResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return VerificationResult{}, eris.Wrap(err, "claim: commit tx")
	}
	return res, nil
}

func (s *Service) applyVerifiedEmail(ctx context.Context, tx pgx.Tx, rc RequestContext, email string) (VerificationResult, error) {
	res := VerificationResult{Email: email}

	req, party, err := s.findClaimByEmail(ctx, tx, email)
	if errors.Is(err, ErrNotFound) {
		found, err := s.accounts.MarkEmailVerifiedTx(ctx, tx, email)
		if err != nil {
			return res, err
		}
		if !found {
			zap.L().Warn("verified email matches no claim or account", zap.String("email", email))
		}
		return res, nil
	}
	if err != nil {
		return res, err
	}

	now := s.now()
	next, _, err := Apply(req, VerifiedEvent(party, now))
	if err != nil {
		return res, err
	}
	if next.Verified(party) != req.Verified(party) {
		req, err = s.repo.MarkVerified(ctx, tx, req.ID, party, now)
		if err != nil {
			return res, err
		}
		if err := s.repo.AppendEvent(ctx, tx, req.ID, EventTypeVerified, rc.actor(), map[string]any{
			"party": string(party),
		}); err != nil {
			return res, err
		}
		s.metrics.EmailVerified(ctx, string(party))
	} else {
		zap.L().Debug("claim email already verified",
			zap.String("claim_id", req.ID),
			zap.String("party", string(party)),
		)
	}

	if _, err := s.accounts.MarkEmailVerifiedTx(ctx, tx, email); err != nil {
		return res, err
	}

	req, promoted, err := s.converge(ctx, tx, rc, req, "verification")
	if err != nil {
		return res, err
	}

	res.ClaimID = req.ID
	res.Party = party
	res.Status = req.Status
	res.Promoted = promoted
	return res, nil
}

// findClaimByEmail matches email against business addresses first, then
// supervisor addresses. The matched row stays locked for the rest of tx.
func (s *Service) findClaimByEmail(ctx context.Context, tx pgx.Tx, email string) (Request, Party, error) {
	req, err := s.repo.FindByEmail(ctx, tx, PartyBusiness, email)
	if err == nil {
		return req, PartyBusiness, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Request{}, "", err
	}
	req, err = s.repo.FindByEmail(ctx, tx, PartySupervisor, email)
	if err != nil {
		return Request{}, "", err
	}
	return req, PartySupervisor, nil
}

// converge promotes req when both addresses are verified. Only the caller
// that wins the pending to approved compare-and-set runs the effects; a
// loser, or a company already claimed through another request, leaves req
// as it is. promoted reports whether this call ran the effects.
func (s *Service) converge(ctx context.Context, tx pgx.Tx, rc RequestContext, req Request, path string) (Request, bool, error) {
	next, effects := Converge(req, s.now())
	if len(effects) == 0 {
		return req, false, nil
	}

	comp, err := s.companies.GetForUpdate(ctx, tx, req.CompanyID)
	if err != nil {
		return req, false, err
	}
	if comp.Claimed && !comp.ClaimedBy(req.ID) {
		zap.L().Warn("claim converged but company is already claimed",
			zap.String("claim_id", req.ID),
			zap.String("company_id", req.CompanyID),
		)
		s.metrics.PromotionSkipped(ctx, "company_claimed")
		return req, false, nil
	}

	updated, ok, err := s.repo.CompareAndSetStatus(ctx, tx, req.ID, StatusPending, StatusApproved, nil, next.UpdatedAt)
	if err != nil {
		return req, false, err
	}
	if !ok {
		zap.L().Info("claim promotion already done by a concurrent request", zap.String("claim_id", req.ID))
		s.metrics.PromotionSkipped(ctx, "lost_race")
		current, err := s.repo.GetForUpdate(ctx, tx, req.ID)
		return current, false, err
	}

	updated, err = s.execute(ctx, tx, updated, effects, "", rc.Locale)
	if err != nil {
		return req, false, err
	}
	if err := s.repo.AppendEvent(ctx, tx, updated.ID, EventTypeApproved, rc.actor(), map[string]any{
		"path": path,
	}); err != nil {
		return req, false, err
	}

	s.metrics.ClaimPromoted(ctx, path)
	zap.L().Info("claim approved",
		zap.String("claim_id", updated.ID),
		zap.String("company_id", updated.CompanyID),
		zap.String("path", path),
	)
	return updated, true, nil
}

// ResendVerification emails a fresh link to an address that still has
// something to verify: an unverified address of a pending domain-mode claim,
// or an unverified account. Any other address succeeds without sending. A
// failed dispatch is logged and rolled back but still reported as success.
func (s *Service) ResendVerification(ctx context.Context, rc RequestContext, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	err = s.resend(ctx, rc, email)
	if errors.Is(err, ErrDispatchFailed) {
		zap.L().Warn("resend dropped, link could not be sent", zap.String("email", email), zap.Error(err))
		return nil
	}
	return err
}

func (s *Service) resend(ctx context.Context, rc RequestContext, email string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "claim: begin tx")
	}
	defer tx.Rollback(ctx)

	req, party, err := s.findClaimByEmail(ctx, tx, email)
	switch {
	case err == nil:
		if req.Status != StatusPending || !req.DomainVerified || req.Verified(party) {
			zap.L().Debug("resend skipped, nothing to verify", zap.String("claim_id", req.ID))
			return nil
		}
		if err := s.issueLink(ctx, tx, req, party, rc.Locale); err != nil {
			return err
		}
	case errors.Is(err, ErrNotFound):
		user, err := s.accounts.FindByEmailTx(ctx, tx, email)
		if errors.Is(err, auth.ErrUserNotFound) {
			zap.L().Debug("resend requested for unknown email")
			return nil
		}
		if err != nil {
			return err
		}
		if user.EmailVerified {
			return nil
		}
		if err := s.dispatch(ctx, tx, verification.IssueRequest{
			Email:   user.Email,
			Purpose: verification.PurposeRegistration,
			Locale:  rc.Locale,
		}); err != nil {
			return err
		}
	default:
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "claim: commit tx")
	}
	return nil
}
