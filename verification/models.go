// Package verification issues and redeems single-use email action codes.
package verification

import "time"

// Purpose records why a code was issued.
type Purpose string

const (
	PurposeRegistration    Purpose = "registration"
	PurposeClaimBusiness   Purpose = "claim_business"
	PurposeClaimSupervisor Purpose = "claim_supervisor"
)

// Code mirrors the verification_codes table. Only the hash of the emailed
// code is stored.
type Code struct {
	Hash      string
	Email     string
	Purpose   Purpose
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IssueRequest describes a code to mint and deliver.
type IssueRequest struct {
	Email       string
	Purpose     Purpose
	Locale      string
	CompanyName string
}

// Redemption is the result of consuming a valid code.
type Redemption struct {
	Email   string
	Purpose Purpose
}
