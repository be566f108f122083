package claim

import (
	"time"

	"realtyclaims/outbox"
)

// EventKind is something that happened to a claim request.
type EventKind string

const (
	EventBusinessVerified   EventKind = "business_verified"
	EventSupervisorVerified EventKind = "supervisor_verified"
	EventAdminApprove       EventKind = "admin_approve"
	EventAdminReject        EventKind = "admin_reject"
)

// Event is the input to Apply.
type Event struct {
	Kind    EventKind
	At      time.Time
	ActorID string
	Notes   string
}

// VerifiedEvent returns the flag event for party.
func VerifiedEvent(p Party, at time.Time) Event {
	if p == PartyBusiness {
		return Event{Kind: EventBusinessVerified, At: at}
	}
	return Event{Kind: EventSupervisorVerified, At: at}
}

// EffectKind is a side effect the caller must carry out after persisting
// the new request state.
type EffectKind string

const (
	EffectPromoteAccount     EffectKind = "promote_account"
	EffectClaimCompany       EffectKind = "claim_company"
	EffectDiscardCredentials EffectKind = "discard_credentials"
	EffectNotify             EffectKind = "notify"
)

// Effect describes one side effect. Only the fields relevant to Kind are set.
type Effect struct {
	Kind EffectKind

	// promote_account: the account owning Email joins CompanyID. Required
	// effects fail the operation when no account can be found or created.
	Party    Party
	Email    string
	Required bool

	// promote_account, claim_company
	CompanyID string
	// claim_company
	Phone *string

	// notify
	Topic string
}

// Apply computes the next state of req for ev and the effects to execute.
// It never mutates req.
func Apply(req Request, ev Event) (Request, []Effect, error) {
	switch ev.Kind {
	case EventBusinessVerified:
		if !req.BusinessEmailVerified {
			req.BusinessEmailVerified = true
			req.UpdatedAt = ev.At
		}
		return req, nil, nil

	case EventSupervisorVerified:
		if !req.SupervisorEmailVerified {
			req.SupervisorEmailVerified = true
			req.UpdatedAt = ev.At
		}
		return req, nil, nil

	case EventAdminApprove:
		switch req.Status {
		case StatusApproved:
			return req, nil, ErrAlreadyApproved
		case StatusRejected:
			return req, nil, ErrInvalidTransition
		}
		req.Status = StatusApproved
		req.UpdatedAt = ev.At
		if ev.Notes != "" {
			notes := ev.Notes
			req.Notes = &notes
		}
		effects := []Effect{
			promote(req, PartyBusiness, true),
			promote(req, PartySupervisor, false),
		}
		return req, append(effects, decided(req, outbox.TopicClaimApproved, true)...), nil

	case EventAdminReject:
		switch req.Status {
		case StatusRejected:
			return req, nil, ErrAlreadyRejected
		case StatusApproved:
			return req, nil, ErrInvalidTransition
		}
		req.Status = StatusRejected
		req.UpdatedAt = ev.At
		if ev.Notes != "" {
			notes := ev.Notes
			req.Notes = &notes
		}
		return req, decided(req, outbox.TopicClaimRejected, false), nil
	}
	return req, nil, ErrInvalidTransition
}

// Converge approves a pending request whose two addresses are both
// verified. For any other request it returns req unchanged and no effects.
func Converge(req Request, at time.Time) (Request, []Effect) {
	if req.Status != StatusPending || !req.Converged() {
		return req, nil
	}
	req.Status = StatusApproved
	req.UpdatedAt = at
	effects := []Effect{
		promote(req, PartyBusiness, false),
		promote(req, PartySupervisor, false),
	}
	return req, append(effects, decided(req, outbox.TopicClaimApproved, true)...)
}

func promote(req Request, p Party, required bool) Effect {
	return Effect{
		Kind:      EffectPromoteAccount,
		Party:     p,
		Email:     req.Email(p),
		Required:  required,
		CompanyID: req.CompanyID,
	}
}

func decided(req Request, topic string, claimCompany bool) []Effect {
	var effects []Effect
	if claimCompany {
		effects = append(effects, Effect{Kind: EffectClaimCompany, CompanyID: req.CompanyID, Email: req.BusinessEmail, Phone: req.ContactPhone})
	}
	return append(effects,
		Effect{Kind: EffectDiscardCredentials},
		Effect{Kind: EffectNotify, Topic: topic},
	)
}
