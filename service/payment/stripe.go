package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mentorlink/mentorlink-server/cmd/models"
)

const (
	stripeBaseURL = "https://api.stripe.com/v1"
	// stripeTolerance bounds webhook timestamp skew to limit replay.
	stripeTolerance = 5 * time.Minute
)

// StripeGateway talks to Stripe. Webhooks carry a Stripe-Signature header of
// the form "t=<unix>,v1=<hmac>" where the HMAC-SHA256 is computed over
// "<unix>.<raw body>" with the webhook signing secret.
type StripeGateway struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	now           func() time.Time
}

func NewStripeGateway() *StripeGateway {
	return &StripeGateway{
		secretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		baseURL:       stripeBaseURL,
		client:        &http.Client{},
		now:           time.Now,
	}
}

func (g *StripeGateway) Name() string {
	return "stripe"
}

func (g *StripeGateway) CreateIntent(amount float64, currency, reference string, metadata map[string]string) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(int64(amount*100), 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("metadata[reference]", reference)
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	req, err := http.NewRequest("POST", g.baseURL+"/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var intentResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&intentResp); err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 || intentResp.ID == "" {
		return "", fmt.Errorf("stripe intent creation failed with status %d", resp.StatusCode)
	}
	return intentResp.ID, nil
}

func (g *StripeGateway) Refund(p *models.Payment, amount float64) error {
	form := url.Values{}
	form.Set("payment_intent", p.IntentID)
	form.Set("amount", strconv.FormatInt(int64(amount*100), 10))

	req, err := http.NewRequest("POST", g.baseURL+"/refunds", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("stripe refund failed with status %d", resp.StatusCode)
	}
	return nil
}

func (g *StripeGateway) VerifySignature(body []byte, header http.Header) error {
	sigHeader := header.Get("Stripe-Signature")
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if g.now().Sub(time.Unix(tsInt, 0)) > stripeTolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (g *StripeGateway) ParseEvent(body []byte) (*Event, error) {
	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string `json:"id"`
				PaymentIntent string `json:"payment_intent"`
				Amount        int64  `json:"amount"`
				Metadata      struct {
					Reference string `json:"reference"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return nil, err
	}

	ref := payload.Data.Object.Metadata.Reference
	if ref == "" {
		ref = payload.Data.Object.PaymentIntent
	}
	if ref == "" {
		ref = payload.Data.Object.ID
	}

	ev := &Event{
		ID:        payload.ID,
		Type:      payload.Type,
		Reference: ref,
		Amount:    float64(payload.Data.Object.Amount) / 100,
	}

	switch payload.Type {
	case "payment_intent.amount_capturable_updated":
		ev.Status = models.PaymentAuthorized
	case "payment_intent.succeeded":
		ev.Status = models.PaymentCaptured
	case "payment_intent.payment_failed":
		ev.Status = models.PaymentFailed
	case "charge.refunded":
		ev.Status = models.PaymentRefunded
	default:
		return nil, ErrIgnoredEvent
	}
	return ev, nil
}
