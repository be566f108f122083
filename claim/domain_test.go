package claim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisteredDomain(t *testing.T) {
	cases := []struct {
		website string
		want    string
		ok      bool
	}{
		{"https://Example.com", "example.com", true},
		{"http://www.acme-homes.sa/about", "acme-homes.sa", true},
		{"www.acme.test", "acme.test", true},
		{"acme.test:8443", "acme.test", true},
		{"", "", false},
		{"   ", "", false},
		{"not a website", "", false},
		{"https://", "", false},
	}
	for _, tc := range cases {
		got, ok := RegisteredDomain(tc.website)
		assert.Equal(t, tc.ok, ok, tc.website)
		assert.Equal(t, tc.want, got, tc.website)
	}
}

func TestMatchesDomain(t *testing.T) {
	domain, ok := RegisteredDomain("https://Example.com")
	assert.True(t, ok)

	assert.True(t, MatchesDomain("user@example.com", domain))
	assert.False(t, MatchesDomain("user@other.com", domain))
	assert.False(t, MatchesDomain("user@sub.example.com", domain))
	assert.False(t, MatchesDomain("user@Example.com", domain), "comparison is case-sensitive")
	assert.False(t, MatchesDomain("user@example.com", ""))
	assert.Equal(t, "", EmailDomain("no-at-sign"))
}
