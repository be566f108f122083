package claim

import (
	"crypto/rand"
	"io"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

const (
	trackingMin = 100000
	trackingMax = 999999
)

var trackingSpan = big.NewInt(trackingMax - trackingMin + 1)

// GenerateTrackingNumber draws a uniform 6-digit number. A nil r uses
// crypto/rand.
func GenerateTrackingNumber(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, trackingSpan)
	if err != nil {
		return "", eris.Wrap(err, "claim: draw tracking number")
	}
	return strconv.FormatInt(n.Int64()+trackingMin, 10), nil
}

// NormalizeTrackingNumber strips separators such as spaces and dashes and
// checks that exactly 6 digits remain. Letters are rejected.
func NormalizeTrackingNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
		default:
			return "", ErrInvalidTrackingNumber
		}
	}
	out := b.String()
	if len(out) != 6 {
		return "", ErrInvalidTrackingNumber
	}
	return out, nil
}

// View strips a request down to what a tracking number holder may see.
func (r Request) View() TrackingView {
	return TrackingView{
		TrackingNumber:          r.TrackingNumber,
		CompanyName:             r.CompanyName,
		Status:                  r.Status,
		BusinessEmailVerified:   r.BusinessEmailVerified,
		SupervisorEmailVerified: r.SupervisorEmailVerified,
		CreatedAt:               r.CreatedAt,
	}
}
