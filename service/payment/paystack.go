package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/mentorlink/mentorlink-server/cmd/models"
)

const paystackBaseURL = "https://api.paystack.co"

// PaystackGateway talks to Paystack. Webhooks are authenticated with an
// HMAC-SHA512 of the raw body keyed by the secret key, delivered in the
// X-Paystack-Signature header.
type PaystackGateway struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewPaystackGateway() *PaystackGateway {
	return &PaystackGateway{
		secretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
		baseURL:   paystackBaseURL,
		client:    &http.Client{},
	}
}

func (g *PaystackGateway) Name() string {
	return "paystack"
}

func (g *PaystackGateway) CreateIntent(amount float64, currency, reference string, metadata map[string]string) (string, error) {
	payload := map[string]interface{}{
		"amount":    int64(amount * 100), // smallest currency unit
		"currency":  currency,
		"reference": reference,
		"metadata":  metadata,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest("POST", g.baseURL+"/transaction/initialize", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var initResp struct {
		Status bool `json:"status"`
		Data   struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&initResp); err != nil {
		return "", err
	}
	if !initResp.Status {
		return "", fmt.Errorf("paystack initialize rejected for reference %s", reference)
	}
	return initResp.Data.AccessCode, nil
}

func (g *PaystackGateway) Refund(p *models.Payment, amount float64) error {
	payload := map[string]interface{}{
		"transaction": p.Reference,
		"amount":      int64(amount * 100),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", g.baseURL+"/refund", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("paystack refund failed with status %d", resp.StatusCode)
	}
	return nil
}

func (g *PaystackGateway) VerifySignature(body []byte, header http.Header) error {
	signature := header.Get("X-Paystack-Signature")
	mac := hmac.New(sha512.New, []byte(g.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

func (g *PaystackGateway) ParseEvent(body []byte) (*Event, error) {
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			ID        int64   `json:"id"`
			Reference string  `json:"reference"`
			Status    string  `json:"status"`
			Amount    float64 `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	ev := &Event{
		Type:      payload.Event,
		Reference: payload.Data.Reference,
		Amount:    payload.Data.Amount / 100,
	}
	if payload.Data.ID != 0 {
		ev.ID = strconv.FormatInt(payload.Data.ID, 10)
	} else {
		ev.ID = payload.Event + ":" + payload.Data.Reference
	}

	switch payload.Event {
	case "charge.success":
		ev.Status = models.PaymentCaptured
	case "charge.failed":
		ev.Status = models.PaymentFailed
	case "refund.processed":
		ev.Status = models.PaymentRefunded
	default:
		return nil, ErrIgnoredEvent
	}
	return ev, nil
}
