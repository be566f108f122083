// Package mail delivers outbound email through a pluggable Mailer.
package mail

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrDelivery signals the mail collaborator could not accept a message.
var ErrDelivery = eris.New("mail: delivery failed")

// Message is a single rendered email.
type Message struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Kind    Kind   `json:"kind"`
}

// Mailer sends rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the structured log instead of sending them.
type LogMailer struct {
	From string
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = m.From
	}
	zap.L().Info("mail: message logged",
		zap.String("to", msg.To),
		zap.String("from", msg.From),
		zap.String("kind", string(msg.Kind)),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
