// Package claim implements the company claim workflow: submission, dual
// email verification, convergence into an approved claim, tracking lookup
// and admin moderation.
package claim

import "time"

// Status is the lifecycle state of a claim request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Mode is how a claim proves it speaks for the company.
type Mode string

const (
	// ModeDomain claims have a business email on the company's website domain
	// and converge once both addresses are verified.
	ModeDomain Mode = "domain"
	// ModeManual claims have no usable domain and wait for an admin.
	ModeManual Mode = "manual"
)

// Party identifies which of the two claim addresses an action concerns.
type Party string

const (
	PartyBusiness   Party = "business"
	PartySupervisor Party = "supervisor"
)

// Request mirrors the claim_requests table.
type Request struct {
	ID                      string
	CompanyID               string
	CompanyName             string
	TrackingNumber          string
	BusinessEmail           string
	SupervisorEmail         string
	BusinessEmailVerified   bool
	SupervisorEmailVerified bool
	DomainVerified          bool
	UserID                  *string
	SupervisorID            *string
	RequesterID             *string
	Status                  Status
	ContactPhone            *string
	Notes                   *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Mode reports how the request was submitted.
func (r Request) Mode() Mode {
	if r.DomainVerified {
		return ModeDomain
	}
	return ModeManual
}

// Verified reports the flag for party.
func (r Request) Verified(p Party) bool {
	if p == PartyBusiness {
		return r.BusinessEmailVerified
	}
	return r.SupervisorEmailVerified
}

// Email returns the address of party.
func (r Request) Email(p Party) string {
	if p == PartyBusiness {
		return r.BusinessEmail
	}
	return r.SupervisorEmail
}

// Converged reports whether both addresses are verified.
func (r Request) Converged() bool {
	return r.BusinessEmailVerified && r.SupervisorEmailVerified
}

// TrackingView is what an anonymous holder of a tracking number may see.
type TrackingView struct {
	TrackingNumber          string
	CompanyName             string
	Status                  Status
	BusinessEmailVerified   bool
	SupervisorEmailVerified bool
	CreatedAt               time.Time
}

// Filters narrows admin listings.
type Filters struct {
	Status    Status
	CompanyID string
	Page      int
	PageSize  int
}

type ListResult struct {
	Items    []Request
	Total    int
	Page     int
	PageSize int
}

// SubmitParams is the claim form.
type SubmitParams struct {
	CompanyID          string
	BusinessEmail      string
	SupervisorEmail    string
	ContactPhone       string
	Password           string
	SupervisorPassword string
	DisplayName        string
	SupervisorName     string
}

type SubmitResult struct {
	ClaimID        string
	TrackingNumber string
	Mode           Mode
}

// Credentials holds the password hashes chosen at a manual-mode submission
// until an admin decides the claim.
type Credentials struct {
	ClaimID                string
	BusinessPasswordHash   string
	SupervisorPasswordHash string
	ExpiresAt              time.Time
}

func (c Credentials) hashFor(p Party) string {
	if p == PartyBusiness {
		return c.BusinessPasswordHash
	}
	return c.SupervisorPasswordHash
}

// ApproveParams carries the admin's input to a manual approval. Password,
// when set, replaces the business password chosen at submission.
type ApproveParams struct {
	Password string
	Notes    string
}
