package mail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func TestWebhookMailer_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewWebhookMailer(WebhookOptions{URL: srv.URL, APIKey: "key-1", From: "noreply@test", MaxRetries: 3}).
		WithBackOff(fastBackOff)

	err := m.Send(context.Background(), Message{To: "owner@acme.test", Subject: "hi", Body: "body", Kind: KindVerifyBusiness})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "noreply@test", got.From)
	assert.Equal(t, "owner@acme.test", got.To)
	assert.Equal(t, KindVerifyBusiness, got.Kind)
}

func TestWebhookMailer_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	m := NewWebhookMailer(WebhookOptions{URL: srv.URL, MaxRetries: 5}).WithBackOff(fastBackOff)

	err := m.Send(context.Background(), Message{To: "owner@acme.test"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelivery))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookMailer_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewWebhookMailer(WebhookOptions{URL: srv.URL, MaxRetries: 2}).WithBackOff(fastBackOff)

	err := m.Send(context.Background(), Message{To: "owner@acme.test"})
	require.ErrorIs(t, err, ErrDelivery)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRender_LocaleFallback(t *testing.T) {
	data := TemplateData{CompanyName: "Acme Homes", Link: "https://app.test/verify?code=abc"}

	msg, err := Render(KindVerifyBusiness, "en-GB", "owner@acme.test", data)
	require.NoError(t, err)
	assert.Equal(t, "Confirm your business email for Acme Homes", msg.Subject)
	assert.Contains(t, msg.Body, data.Link)
	assert.Equal(t, "owner@acme.test", msg.To)

	fallback, err := Render(KindVerifySupervisor, "fr", "boss@acme.test", data)
	require.NoError(t, err)
	assert.Contains(t, fallback.Subject, "supervise")

	ar, err := Render(KindClaimApproved, "ar", "owner@acme.test", data)
	require.NoError(t, err)
	assert.Contains(t, ar.Subject, "Acme Homes")
	assert.NotEqual(t, "Your claim for Acme Homes was approved", ar.Subject)

	_, err = Render(Kind("unknown"), "en", "x@y.test", data)
	assert.Error(t, err)
}

func TestRender_RejectedNotesOptional(t *testing.T) {
	without, err := Render(KindClaimRejected, "en", "a@b.test", TemplateData{CompanyName: "Acme"})
	require.NoError(t, err)
	assert.NotContains(t, without.Body, "Reviewer notes")

	with, err := Render(KindClaimRejected, "en", "a@b.test", TemplateData{CompanyName: "Acme", Notes: "website mismatch"})
	require.NoError(t, err)
	assert.Contains(t, with.Body, "Reviewer notes: website mismatch")
}

func TestLogMailer_NeverFails(t *testing.T) {
	assert.NoError(t, LogMailer{From: "noreply@test"}.Send(context.Background(), Message{To: "a@b.test"}))
}
