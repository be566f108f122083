// Package outbox implements the transactional outbox: messages are enqueued
// in the same transaction as the state change they describe and delivered
// later by a Relay.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

const (
	TopicClaimSubmitted = "claim.submitted"
	TopicClaimApproved  = "claim.approved"
	TopicClaimRejected  = "claim.rejected"
	TopicClaimDeleted   = "claim.deleted"

	// TopicClaimDecisionMail rows carry one decision email each, so a failed
	// delivery is retried for its own recipient only.
	TopicClaimDecisionMail = "claim.decision_mail"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusDead      Status = "dead"
)

// Message represents a transactional outbox entry.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    Status
	Attempts  int
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return eris.Wrapf(err, "outbox: decode %s payload", m.Topic)
	}
	return nil
}

// Writer enqueues messages inside caller-owned transactions.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return eris.New("outbox: empty topic")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "outbox: marshal payload")
	}

	const insertSQL = `
		INSERT INTO outbox (topic, payload)
		VALUES ($1, $2::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, topic, string(body)); err != nil {
		return eris.Wrap(err, "outbox: insert message")
	}
	return nil
}
