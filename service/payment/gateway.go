package payment

import (
	"errors"
	"net/http"

	"github.com/mentorlink/mentorlink-server/cmd/models"
)

var (
	// ErrInvalidSignature rejects an unauthenticated webhook; no state changes.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownReference means no payment matches the event; acknowledged and ignored.
	ErrUnknownReference = errors.New("unknown payment reference")
	// ErrIgnoredEvent means the provider event type carries nothing to reconcile.
	ErrIgnoredEvent = errors.New("ignored event type")
)

// Event is a provider webhook normalized to internal terms.
type Event struct {
	ID        string
	Type      string
	Reference string
	Status    models.PaymentStatus
	Amount    float64
}

// Gateway is the consumed payment-provider contract: intent creation,
// refunds, and webhook authentication/normalization. Two providers with
// different payload shapes implement it.
type Gateway interface {
	Name() string
	CreateIntent(amount float64, currency, reference string, metadata map[string]string) (string, error)
	Refund(p *models.Payment, amount float64) error
	VerifySignature(body []byte, header http.Header) error
	ParseEvent(body []byte) (*Event, error)
}

// Registry resolves gateways by provider id for webhook routing.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway)}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, bool) {
	g, ok := r.gateways[name]
	return g, ok
}
