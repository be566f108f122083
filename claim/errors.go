package claim

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Validation errors. They are returned before anything is written.
var (
	ErrInvalidEmail          = eris.New("claim: invalid email address")
	ErrSameEmails            = eris.New("claim: business and supervisor emails must differ")
	ErrDomainMismatch        = eris.New("claim: business email does not match the company domain")
	ErrPhoneRequired         = eris.New("claim: contact phone is required when the company has no website")
	ErrWeakPassword          = eris.New("claim: password must be at least 8 characters")
	ErrInvalidTrackingNumber = eris.New("claim: tracking number must be 6 digits")
	ErrCompanyNotFound       = eris.New("claim: company not found")
	ErrMissingCompany        = eris.New("claim: company id is required")
)

var (
	ErrNotFound              = eris.New("claim: not found")
	ErrForbidden             = eris.New("claim: forbidden")
	ErrInvalidTransition     = eris.New("claim: invalid status transition")
	ErrAlreadyApproved       = eris.New("claim: already approved")
	ErrAlreadyRejected       = eris.New("claim: already rejected")
	ErrCompanyAlreadyClaimed = eris.New("claim: company already claimed")
	ErrEmailInUse            = eris.New("claim: email already belongs to another account")
	ErrDispatchFailed        = eris.New("claim: verification email could not be sent, try again")
	ErrTrackingNumberTaken   = eris.New("claim: tracking number already in use")
	ErrCredentialsRequired   = eris.New("claim: a password is required to create the business account")
)

var validationErrors = []error{
	ErrInvalidEmail,
	ErrSameEmails,
	ErrDomainMismatch,
	ErrPhoneRequired,
	ErrWeakPassword,
	ErrInvalidTrackingNumber,
	ErrCompanyNotFound,
	ErrMissingCompany,
}

// IsValidation reports whether err was caused by caller input.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
