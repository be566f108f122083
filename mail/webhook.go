package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebhookMailer posts messages as JSON to an HTTP mail relay. Transient
// failures (network errors, 429, 5xx) are retried with exponential backoff;
// other 4xx responses fail immediately.
type WebhookMailer struct {
	url        string
	apiKey     string
	from       string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// WebhookOptions configures NewWebhookMailer.
type WebhookOptions struct {
	URL        string
	APIKey     string
	From       string
	RatePerSec float64
	MaxRetries uint64
	Client     *http.Client
}

// NewWebhookMailer builds a mailer for the relay at opts.URL.
func NewWebhookMailer(opts WebhookOptions) *WebhookMailer {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	return &WebhookMailer{
		url:        opts.URL,
		apiKey:     opts.APIKey,
		from:       opts.From,
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: opts.MaxRetries,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 200 * time.Millisecond
			bo.MaxElapsedTime = 15 * time.Second
			return bo
		},
	}
}

// WithBackOff overrides the retry schedule.
func (m *WebhookMailer) WithBackOff(fn func() backoff.BackOff) *WebhookMailer {
	m.newBackOff = fn
	return m
}

func (m *WebhookMailer) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = m.from
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "mail: marshal message")
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "mail: rate limit wait")
	}

	attempt := 0
	op := func() error {
		attempt++
		return m.post(ctx, payload)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), m.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		zap.L().Warn("mail: retrying delivery",
			zap.String("to", msg.To),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return eris.Wrapf(ErrDelivery, "mail: send %s to %s: %v", msg.Kind, msg.To, err)
	}
	return nil
}

func (m *WebhookMailer) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("relay status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("relay status %d", resp.StatusCode))
	}
}
