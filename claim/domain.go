package claim

import (
	"net/url"
	"strings"
)

// RegisteredDomain extracts the host a company website lives on, without a
// leading "www.". ok is false when website does not parse to a host.
func RegisteredDomain(website string) (string, bool) {
	website = strings.TrimSpace(website)
	if website == "" {
		return "", false
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") {
		return "", false
	}
	return host, true
}

// EmailDomain returns everything after the last "@" of email, as written.
func EmailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return email[i+1:]
}

// MatchesDomain reports whether email belongs to domain. The comparison is
// case-sensitive on the email side.
func MatchesDomain(email, domain string) bool {
	return domain != "" && EmailDomain(email) == domain
}
