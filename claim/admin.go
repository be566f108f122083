package claim

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"realtyclaims/outbox"
)

// Approve is the admin override that approves a pending claim. The business
// account is promoted when it exists and created otherwise. Approving an
// approved claim is a no-op; approving a rejected one fails.
func (s *Service) Approve(ctx context.Context, rc RequestContext, id string, p ApproveParams) (Request, error) {
	if !rc.IsAdmin() {
		return Request{}, ErrForbidden
	}
	var override string
	if p.Password != "" {
		hash, err := hashPassword(p.Password)
		if err != nil {
			return Request{}, err
		}
		override = hash
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, eris.Wrap(err, "claim: begin tx")
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}

	next, effects, err := Apply(req, Event{Kind: EventAdminApprove, At: s.now(), ActorID: rc.ActorID, Notes: p.Notes})
	if err != nil {
		if errors.Is(err, ErrAlreadyApproved) {
			zap.L().Warn("approve ignored, claim already approved", zap.String("claim_id", id))
			return req, nil
		}
		zap.L().Warn("approve refused", zap.String("claim_id", id), zap.String("status", string(req.Status)))
		return Request{}, err
	}

	comp, err := s.companies.GetForUpdate(ctx, tx, req.CompanyID)
	if err != nil {
		return Request{}, err
	}
	if comp.Claimed && !comp.ClaimedBy(req.ID) {
		return Request{}, ErrCompanyAlreadyClaimed
	}

	updated, ok, err := s.repo.CompareAndSetStatus(ctx, tx, id, StatusPending, StatusApproved, next.Notes, next.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, ErrInvalidTransition
	}

	updated, err = s.execute(ctx, tx, updated, effects, override, rc.Locale)
	if err != nil {
		return Request{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, id, EventTypeApproved, rc.actor(), map[string]any{
		"path": "admin",
	}); err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, eris.Wrap(err, "claim: commit tx")
	}

	s.metrics.AdminAction(ctx, "approve")
	s.metrics.ClaimPromoted(ctx, "admin")
	zap.L().Info("claim approved by admin", zap.String("claim_id", id), zap.String("admin_id", rc.ActorID))
	return updated, nil
}

// Reject closes a pending claim without touching the company or accounts.
func (s *Service) Reject(ctx context.Context, rc RequestContext, id, notes string) (Request, error) {
	if !rc.IsAdmin() {
		return Request{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, eris.Wrap(err, "claim: begin tx")
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}

	next, effects, err := Apply(req, Event{Kind: EventAdminReject, At: s.now(), ActorID: rc.ActorID, Notes: notes})
	if err != nil {
		if errors.Is(err, ErrAlreadyRejected) {
			zap.L().Warn("reject ignored, claim already rejected", zap.String("claim_id", id))
			return req, nil
		}
		zap.L().Warn("reject refused", zap.String("claim_id", id), zap.String("status", string(req.Status)))
		return Request{}, err
	}

	updated, ok, err := s.repo.CompareAndSetStatus(ctx, tx, id, StatusPending, StatusRejected, next.Notes, next.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, ErrInvalidTransition
	}

	updated, err = s.execute(ctx, tx, updated, effects, "", rc.Locale)
	if err != nil {
		return Request{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, id, EventTypeRejected, rc.actor(), map[string]any{
		"notes": notes,
	}); err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, eris.Wrap(err, "claim: commit tx")
	}

	s.metrics.AdminAction(ctx, "reject")
	zap.L().Info("claim rejected", zap.String("claim_id", id), zap.String("admin_id", rc.ActorID))
	return updated, nil
}

// Delete permanently removes a claim in any status.
func (s *Service) Delete(ctx context.Context, rc RequestContext, id string) (Request, error) {
	if !rc.IsAdmin() {
		return Request{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, eris.Wrap(err, "claim: begin tx")
	}
	defer tx.Rollback(ctx)

	deleted, err := s.repo.Delete(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}
	if err := s.notify(ctx, tx, deleted, outbox.TopicClaimDeleted, rc.Locale); err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, eris.Wrap(err, "claim: commit tx")
	}

	s.metrics.AdminAction(ctx, "delete")
	zap.L().Warn("claim deleted",
		zap.String("claim_id", id),
		zap.String("status", string(deleted.Status)),
		zap.String("admin_id", rc.ActorID),
	)
	return deleted, nil
}

// ForceVerify marks one address verified without a code, then runs the
// normal convergence check. It never moves a decided claim.
func (s *Service) ForceVerify(ctx context.Context, rc RequestContext, id string, party Party) (Request, error) {
	if !rc.IsAdmin() {
		return Request{}, ErrForbidden
	}
	if party != PartyBusiness && party != PartySupervisor {
		return Request{}, eris.Errorf("claim: unknown party %q", party)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, eris.Wrap(err, "claim: begin tx")
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}

	now := s.now()
	next, _, err := Apply(req, VerifiedEvent(party, now))
	if err != nil {
		return Request{}, err
	}
	if next.Verified(party) != req.Verified(party) {
		req, err = s.repo.MarkVerified(ctx, tx, id, party, now)
		if err != nil {
			return Request{}, err
		}
		if err := s.repo.AppendEvent(ctx, tx, id, EventTypeVerified, rc.actor(), map[string]any{
			"party":  string(party),
			"forced": true,
		}); err != nil {
			return Request{}, err
		}
	}

	req, _, err = s.converge(ctx, tx, rc, req, "admin_verify")
	if err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, eris.Wrap(err, "claim: commit tx")
	}
	s.metrics.AdminAction(ctx, "force_verify")
	return req, nil
}

// Reconcile re-runs the convergence check for a claim whose promotion was
// skipped or interrupted.
func (s *Service) Reconcile(ctx context.Context, rc RequestContext, id string) (Request, error) {
	if !rc.IsAdmin() {
		return Request{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, eris.Wrap(err, "claim: begin tx")
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}
	req, _, err = s.converge(ctx, tx, rc, req, "reconcile")
	if err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, eris.Wrap(err, "claim: commit tx")
	}
	s.metrics.AdminAction(ctx, "reconcile")
	return req, nil
}
