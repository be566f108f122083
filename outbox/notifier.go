package outbox

import (
	"context"

	"go.uber.org/zap"

	"realtyclaims/mail"
)

// ClaimPayload is the shape of claim.* outbox payloads. Recipient is only
// set on decision mail rows.
type ClaimPayload struct {
	ClaimID         string `json:"claim_id"`
	CompanyID       string `json:"company_id"`
	CompanyName     string `json:"company_name"`
	BusinessEmail   string `json:"business_email"`
	SupervisorEmail string `json:"supervisor_email"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	Locale          string `json:"locale,omitempty"`
	Recipient       string `json:"recipient,omitempty"`
}

// MailNotifier turns decision mail rows into emails. Every row names a
// single recipient.
type MailNotifier struct {
	mailer mail.Mailer
}

func NewMailNotifier(mailer mail.Mailer) *MailNotifier {
	return &MailNotifier{mailer: mailer}
}

func (n *MailNotifier) Handle(ctx context.Context, msg Message) error {
	if msg.Topic != TopicClaimDecisionMail {
		return nil
	}

	var p ClaimPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}

	var kind mail.Kind
	switch p.Status {
	case "approved":
		kind = mail.KindClaimApproved
	case "rejected":
		kind = mail.KindClaimRejected
	default:
		zap.L().Warn("outbox: decision mail without a decision",
			zap.String("message_id", msg.ID),
			zap.String("status", p.Status),
		)
		return nil
	}
	if p.Recipient == "" {
		zap.L().Warn("outbox: decision mail without a recipient", zap.String("message_id", msg.ID))
		return nil
	}

	m, err := mail.Render(kind, p.Locale, p.Recipient, mail.TemplateData{CompanyName: p.CompanyName, Notes: p.Notes})
	if err != nil {
		return err
	}
	if err := n.mailer.Send(ctx, m); err != nil {
		return err
	}

	zap.L().Info("outbox: claim decision delivered",
		zap.String("claim_id", p.ClaimID),
		zap.String("status", p.Status),
	)
	return nil
}
