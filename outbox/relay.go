package outbox

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"realtyclaims/db"
)

// Handler delivers one message. Returning an error leaves the message pending
// until it exhausts its attempts.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// RelayOptions configures a Relay.
type RelayOptions struct {
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
}

// Relay drains pending outbox rows. Several relays may run concurrently;
// rows are claimed with FOR UPDATE SKIP LOCKED.
type Relay struct {
	pool     db.Pool
	handler  Handler
	batch    int
	attempts int
	interval time.Duration
}

func NewRelay(pool db.Pool, handler Handler, opts RelayOptions) *Relay {
	r := &Relay{
		pool:     pool,
		handler:  handler,
		batch:    opts.BatchSize,
		attempts: opts.MaxAttempts,
		interval: opts.PollInterval,
	}
	if r.batch <= 0 {
		r.batch = 20
	}
	if r.attempts <= 0 {
		r.attempts = 5
	}
	if r.interval <= 0 {
		r.interval = 5 * time.Second
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "outbox.relay"))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("relay batch failed", zap.Error(err))
		} else if n > 0 {
			log.Debug("relay batch delivered", zap.Int("messages", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes at most one batch and returns how many messages were
// delivered successfully.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "outbox: begin tx")
	}
	defer tx.Rollback(ctx)

	const selectSQL = `
		SELECT id, topic, payload, status, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, selectSQL, r.batch)
	if err != nil {
		return 0, eris.Wrap(err, "outbox: select pending")
	}
	msgs := make([]Message, 0, r.batch)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "outbox: scan message")
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "outbox: iterate pending")
	}

	delivered := 0
	for _, m := range msgs {
		herr := r.handler.Handle(ctx, m)
		if herr == nil {
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', attempts = attempts + 1, last_attempt = now(), last_error = NULL WHERE id = $1`, m.ID); err != nil {
				return delivered, eris.Wrap(err, "outbox: mark processed")
			}
			delivered++
			continue
		}

		next := StatusPending
		if m.Attempts+1 >= r.attempts {
			next = StatusDead
		}
		zap.L().Warn("outbox: delivery failed",
			zap.String("id", m.ID),
			zap.String("topic", m.Topic),
			zap.Int("attempt", m.Attempts+1),
			zap.String("next_status", string(next)),
			zap.Error(herr),
		)
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = $2, attempts = attempts + 1, last_attempt = now(), last_error = $3 WHERE id = $1`, m.ID, string(next), herr.Error()); err != nil {
			return delivered, eris.Wrap(err, "outbox: record failure")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "outbox: commit batch")
	}
	return delivered, nil
}
