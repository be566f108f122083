package company

import "time"

// Company captures the directory fields the claim workflow reads and writes.
type Company struct {
	ID               string
	Name             string
	Website          *string
	Email            *string
	Phone            *string
	Claimed          bool
	ClaimedByRequest *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ClaimedBy reports whether the company was claimed through claimID.
func (c Company) ClaimedBy(claimID string) bool {
	return c.Claimed && c.ClaimedByRequest != nil && *c.ClaimedByRequest == claimID
}

// ClaimParams carries the contact details copied from an approved claim.
type ClaimParams struct {
	CompanyID string
	ClaimID   string
	Email     string
	Phone     *string
}

// ListFilters narrows directory listings.
type ListFilters struct {
	Claimed *bool
	Limit   int
	Offset  int
}
