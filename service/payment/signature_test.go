package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paystackSign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackVerifySignature(t *testing.T) {
	g := &PaystackGateway{secretKey: "sk_test_secret"}
	body := []byte(`{"event":"charge.success","data":{"reference":"APT-1"}}`)

	t.Run("valid signature", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-Paystack-Signature", paystackSign("sk_test_secret", body))
		assert.NoError(t, g.VerifySignature(body, header))
	})

	t.Run("wrong key", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-Paystack-Signature", paystackSign("sk_other_secret", body))
		assert.ErrorIs(t, g.VerifySignature(body, header), ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, g.VerifySignature(body, http.Header{}), ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-Paystack-Signature", paystackSign("sk_test_secret", body))
		tampered := []byte(`{"event":"charge.success","data":{"reference":"APT-2"}}`)
		assert.ErrorIs(t, g.VerifySignature(tampered, header), ErrInvalidSignature)
	})
}

func TestPaystackParseEvent(t *testing.T) {
	g := &PaystackGateway{secretKey: "sk"}

	t.Run("charge success", func(t *testing.T) {
		ev, err := g.ParseEvent([]byte(`{"event":"charge.success","data":{"id":42,"reference":"APT-1","amount":15000}}`))
		require.NoError(t, err)
		assert.Equal(t, "42", ev.ID)
		assert.Equal(t, "APT-1", ev.Reference)
		assert.Equal(t, models.PaymentCaptured, ev.Status)
		assert.Equal(t, 150.0, ev.Amount)
	})

	t.Run("refund processed", func(t *testing.T) {
		ev, err := g.ParseEvent([]byte(`{"event":"refund.processed","data":{"reference":"APT-1","amount":7500}}`))
		require.NoError(t, err)
		assert.Equal(t, models.PaymentRefunded, ev.Status)
		// Falls back to a synthetic id when the provider sends none.
		assert.Equal(t, "refund.processed:APT-1", ev.ID)
	})

	t.Run("unhandled event type", func(t *testing.T) {
		_, err := g.ParseEvent([]byte(`{"event":"transfer.success","data":{}}`))
		assert.ErrorIs(t, err, ErrIgnoredEvent)
	})
}

func stripeSign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestStripeVerifySignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := &StripeGateway{
		webhookSecret: "whsec_test",
		now:           func() time.Time { return now },
	}
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	header := func(ts int64, sig string) http.Header {
		h := http.Header{}
		h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, sig))
		return h
	}

	t.Run("valid signature", func(t *testing.T) {
		ts := now.Unix()
		assert.NoError(t, g.VerifySignature(body, header(ts, stripeSign("whsec_test", ts, body))))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		ts := now.Add(-10 * time.Minute).Unix()
		err := g.VerifySignature(body, header(ts, stripeSign("whsec_test", ts, body)))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		ts := now.Unix()
		err := g.VerifySignature(body, header(ts, stripeSign("whsec_other", ts, body)))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("garbage header", func(t *testing.T) {
		h := http.Header{}
		h.Set("Stripe-Signature", "not-a-signature")
		assert.ErrorIs(t, g.VerifySignature(body, h), ErrInvalidSignature)
	})

	t.Run("second v1 entry matches", func(t *testing.T) {
		ts := now.Unix()
		h := http.Header{}
		h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s,v1=%s", ts, "bogus", stripeSign("whsec_test", ts, body)))
		assert.NoError(t, g.VerifySignature(body, h))
	})
}

func TestStripeParseEvent(t *testing.T) {
	g := &StripeGateway{}

	t.Run("intent succeeded uses metadata reference", func(t *testing.T) {
		body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":5000,"metadata":{"reference":"APT-9"}}}}`)
		ev, err := g.ParseEvent(body)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, "APT-9", ev.Reference)
		assert.Equal(t, models.PaymentCaptured, ev.Status)
		assert.Equal(t, 50.0, ev.Amount)
	})

	t.Run("charge refunded falls back to payment intent", func(t *testing.T) {
		body := []byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{"id":"ch_1","payment_intent":"pi_1","amount":5000}}}`)
		ev, err := g.ParseEvent(body)
		require.NoError(t, err)
		assert.Equal(t, "pi_1", ev.Reference)
		assert.Equal(t, models.PaymentRefunded, ev.Status)
	})

	t.Run("authorization event", func(t *testing.T) {
		body := []byte(`{"id":"evt_3","type":"payment_intent.amount_capturable_updated","data":{"object":{"id":"pi_2"}}}`)
		ev, err := g.ParseEvent(body)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentAuthorized, ev.Status)
	})

	t.Run("unhandled event type", func(t *testing.T) {
		_, err := g.ParseEvent([]byte(`{"id":"evt_4","type":"customer.created","data":{"object":{}}}`))
		assert.ErrorIs(t, err, ErrIgnoredEvent)
	})
}
