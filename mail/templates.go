package mail

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
)

// Kind identifies a message template.
type Kind string

const (
	KindVerifyBusiness   Kind = "verify_business"
	KindVerifySupervisor Kind = "verify_supervisor"
	KindVerifyAccount    Kind = "verify_account"
	KindClaimApproved    Kind = "claim_approved"
	KindClaimRejected    Kind = "claim_rejected"
)

// DefaultLocale is used when a caller's locale has no templates.
const DefaultLocale = "en"

// TemplateData is the union of fields referenced by the templates.
type TemplateData struct {
	CompanyName    string
	Link           string
	TrackingNumber string
	Notes          string
}

type pair struct {
	subject *template.Template
	body    *template.Template
}

var catalog = map[string]map[Kind]pair{
	"en": {
		KindVerifyBusiness: mustPair(
			"Confirm your business email for {{.CompanyName}}",
			"We received a request to claim {{.CompanyName}}.\n\nOpen this link to confirm this business address:\n{{.Link}}\n\nIf the link has expired, request a new one from the claim page.\n",
		),
		KindVerifySupervisor: mustPair(
			"Confirm you supervise the claim for {{.CompanyName}}",
			"You were named as supervisor on a claim for {{.CompanyName}}.\n\nOpen this link to confirm:\n{{.Link}}\n\nIf the link has expired, request a new one from the claim page.\n",
		),
		KindVerifyAccount: mustPair(
			"Confirm your email address",
			"Open this link to confirm your email address:\n{{.Link}}\n",
		),
		KindClaimApproved: mustPair(
			"Your claim for {{.CompanyName}} was approved",
			"Your claim for {{.CompanyName}} has been approved. You can now sign in and manage the company profile.\n",
		),
		KindClaimRejected: mustPair(
			"Your claim for {{.CompanyName}} was not approved",
			"Your claim for {{.CompanyName}} was not approved.{{if .Notes}}\n\nReviewer notes: {{.Notes}}{{end}}\n",
		),
	},
	"ar": {
		KindVerifyBusiness: mustPair(
			"تأكيد البريد الإلكتروني للشركة {{.CompanyName}}",
			"تلقينا طلبًا للمطالبة بملكية {{.CompanyName}}.\n\nافتح الرابط التالي لتأكيد بريد الشركة:\n{{.Link}}\n",
		),
		KindVerifySupervisor: mustPair(
			"تأكيد الإشراف على طلب {{.CompanyName}}",
			"تمت إضافتك كمشرف على طلب ملكية {{.CompanyName}}.\n\nافتح الرابط التالي للتأكيد:\n{{.Link}}\n",
		),
		KindVerifyAccount: mustPair(
			"تأكيد البريد الإلكتروني",
			"افتح الرابط التالي لتأكيد بريدك الإلكتروني:\n{{.Link}}\n",
		),
		KindClaimApproved: mustPair(
			"تمت الموافقة على طلب {{.CompanyName}}",
			"تمت الموافقة على طلب ملكية {{.CompanyName}}.\n",
		),
		KindClaimRejected: mustPair(
			"تم رفض طلب {{.CompanyName}}",
			"تم رفض طلب ملكية {{.CompanyName}}.{{if .Notes}}\n\nملاحظات: {{.Notes}}{{end}}\n",
		),
	},
}

func mustPair(subject, body string) pair {
	return pair{
		subject: template.Must(template.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body)),
	}
}

// Render builds a message of the given kind for locale, falling back to
// DefaultLocale for unknown locales or region-qualified tags like "en-GB".
func Render(kind Kind, locale string, to string, data TemplateData) (Message, error) {
	tpl, ok := lookup(kind, locale)
	if !ok {
		return Message{}, eris.Errorf("mail: no template %q", kind)
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return Message{}, eris.Wrapf(err, "mail: render %s subject", kind)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Message{}, eris.Wrapf(err, "mail: render %s body", kind)
	}

	return Message{
		To:      to,
		Subject: subject.String(),
		Body:    body.String(),
		Kind:    kind,
	}, nil
}

func lookup(kind Kind, locale string) (pair, bool) {
	base := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(base, "-_"); i > 0 {
		base = base[:i]
	}
	if set, ok := catalog[base]; ok {
		if tpl, ok := set[kind]; ok {
			return tpl, true
		}
	}
	tpl, ok := catalog[DefaultLocale][kind]
	return tpl, ok
}
