package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/service"
)

const testSecret = "whsec_test_secret"

func eventPayload(t *testing.T, eventType string, object map[string]interface{}) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_test",
		"object":      "event",
		"type":        eventType,
		"api_version": "2024-06-20",
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func rawEvent(t *testing.T, eventType string, object map[string]interface{}) stripe.Event {
	t.Helper()

	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestStripe_VerifyEvent(t *testing.T) {
	s := NewStripe(&config.StripeConfig{WebhookSecret: testSecret})

	payload := eventPayload(t, EventSubscriptionDeleted, map[string]interface{}{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_1",
	})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testSecret,
	})

	event, err := s.VerifyEvent(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionDeleted, string(event.Type))
}

func TestStripe_VerifyEvent_BadSignature(t *testing.T) {
	s := NewStripe(&config.StripeConfig{WebhookSecret: testSecret})

	payload := eventPayload(t, EventSubscriptionDeleted, map[string]interface{}{"id": "sub_1"})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  "whsec_other",
	})

	_, err := s.VerifyEvent(payload, signed.Header)
	assert.Error(t, err)

	_, err = s.VerifyEvent(payload, "")
	assert.Error(t, err)
}

func TestStripe_VerifyEvent_NoSecret(t *testing.T) {
	s := NewStripe(&config.StripeConfig{})

	_, err := s.VerifyEvent([]byte("{}"), "t=1,v1=abc")
	assert.Error(t, err)
}

func TestToBillingEvent_CheckoutCompleted(t *testing.T) {
	event := rawEvent(t, EventCheckoutCompleted, map[string]interface{}{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"client_reference_id": "user-1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"customer_details":    map[string]interface{}{"email": "buyer@example.com"},
	})

	ev, err := ToBillingEvent(event, time.Now())
	require.NoError(t, err)
	assert.Equal(t, service.CheckoutCompleted{
		UserID:         "user-1",
		Email:          "buyer@example.com",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	}, ev)
}

func TestToBillingEvent_SubscriptionUpdated(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	past := rawEvent(t, EventSubscriptionUpdated, map[string]interface{}{
		"id":        "sub_1",
		"object":    "subscription",
		"customer":  "cus_1",
		"cancel_at": now.Add(-2 * time.Hour).Unix(),
	})
	ev, err := ToBillingEvent(past, now)
	require.NoError(t, err)
	canceling, ok := ev.(service.SubscriptionCanceling)
	require.True(t, ok)
	assert.Equal(t, service.SubscriptionRef{SubscriptionID: "sub_1", CustomerID: "cus_1"}, canceling.Ref)

	future := rawEvent(t, EventSubscriptionUpdated, map[string]interface{}{
		"id":        "sub_1",
		"object":    "subscription",
		"cancel_at": now.Add(2 * time.Hour).Unix(),
	})
	ev, err = ToBillingEvent(future, now)
	require.NoError(t, err)
	assert.IsType(t, service.SubscriptionRenewed{}, ev)

	noCancel := rawEvent(t, EventSubscriptionUpdated, map[string]interface{}{
		"id":     "sub_1",
		"object": "subscription",
	})
	ev, err = ToBillingEvent(noCancel, now)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestToBillingEvent_SubscriptionDeleted(t *testing.T) {
	event := rawEvent(t, EventSubscriptionDeleted, map[string]interface{}{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_1",
	})

	ev, err := ToBillingEvent(event, time.Now())
	require.NoError(t, err)
	assert.Equal(t, service.SubscriptionCanceled{
		Ref: service.SubscriptionRef{SubscriptionID: "sub_1", CustomerID: "cus_1"},
	}, ev)
}

func TestToBillingEvent_Unhandled(t *testing.T) {
	event := rawEvent(t, "invoice.paid", map[string]interface{}{"id": "in_1"})

	_, err := ToBillingEvent(event, time.Now())
	assert.ErrorIs(t, err, ErrUnhandledEvent)
}

func TestToBillingEvent_BadPayload(t *testing.T) {
	event := stripe.Event{
		Type: stripe.EventType(EventSubscriptionDeleted),
		Data: &stripe.EventData{Raw: json.RawMessage(`[1, 2]`)},
	}

	_, err := ToBillingEvent(event, time.Now())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnhandledEvent)
}

func TestStripe_CustomerEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customers/cus_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_1","object":"customer","email":"payer@example.com"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	s := &Stripe{customers: &customer.Client{B: backend, Key: "sk_test_123"}}

	email, err := s.CustomerEmail(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "payer@example.com", email)
}

func TestStripe_CustomerEmail_NotConfigured(t *testing.T) {
	s := NewStripe(&config.StripeConfig{})

	_, err := s.CustomerEmail(context.Background(), "cus_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
