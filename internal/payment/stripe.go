package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"storefront/internal/domain"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// Timeout bounds every call to the Stripe API. Calls are never retried.
	Timeout time.Duration
	// URL overrides the API base URL; used by tests.
	URL string
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
	log           logrus.FieldLogger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway отказывает без секрета вебхука: пустой HMAC-ключ
// принимает подпись, которую может вычислить кто угодно.
func NewStripeGateway(cfg StripeConfig, log logrus.FieldLogger) (*StripeGateway, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     log,
	}
	if cfg.URL != "" {
		bc.URL = stripe.String(cfg.URL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	}
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		log:           log,
	}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(p.Currency),
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if sh := p.Shipping; sh != nil {
		params.Shipping = &stripe.ShippingDetailsParams{
			Name: stripe.String(sh.Name),
			Address: &stripe.AddressParams{
				Line1:      stripe.String(sh.Line1),
				City:       stripe.String(sh.City),
				State:      stripe.String(sh.State),
				PostalCode: stripe.String(sh.PostalCode),
				Country:    stripe.String(sh.Country),
			},
		}
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrGateway, "create payment intent: %v", err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, errors.Wrapf(domain.ErrNotFound, "payment intent %s", id)
		}
		return nil, errors.Wrapf(domain.ErrGateway, "retrieve payment intent %s: %v", id, err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) VerifyAndParseEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Wrap(domain.ErrInvalidSignature, err.Error())
	}

	out := &Event{ID: ev.ID, Type: EventType(ev.Type)}
	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed:
		if ev.Data == nil {
			return nil, errors.Wrapf(domain.ErrInvalidInput, "event %s has no data", ev.ID)
		}
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidInput, "decode payment intent of event %s: %v", ev.ID, err)
		}
		out.Intent = toIntent(&pi)
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       IntentStatus(pi.Status),
		Metadata:     pi.Metadata,
	}
}
