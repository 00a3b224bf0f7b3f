// Package payment wraps the external payment processor behind a small
// contract: create an intent, verify and parse a webhook delivery, and
// retrieve an intent's current status.
package payment

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"storefront/internal/domain"
)

type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentCanceled              IntentStatus = "canceled"
)

type EventType string

const (
	EventIntentSucceeded EventType = "payment_intent.succeeded"
	EventIntentFailed    EventType = "payment_intent.payment_failed"
)

// Metadata keys embedded into every intent so a webhook can be reconciled
// without a secondary lookup.
const (
	MetaProductID = "productId"
	MetaUserID    = "userId"
	MetaQuantity  = "quantity"

	MetaCustomerName  = "customerName"
	MetaCustomerEmail = "customerEmail"
)

type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       IntentStatus
	Metadata     map[string]string
}

// Event is a verified gateway delivery. Intent is set only for payment
// intent events.
type Event struct {
	ID     string
	Type   EventType
	Intent *Intent
}

type IntentParams struct {
	Amount      int64 // minor units
	Currency    string
	Description string
	Metadata    map[string]string
	Shipping    *Shipping
}

// Shipping is the delivery address attached to an intent.
type Shipping struct {
	Name       string
	Line1      string
	City       string
	State      string
	PostalCode string
	Country    string // ISO 3166-1 alpha-2
}

type Gateway interface {
	CreateIntent(ctx context.Context, p IntentParams) (*Intent, error)
	// VerifyAndParseEvent fails with domain.ErrInvalidSignature when the
	// payload was not signed with the shared webhook secret.
	VerifyAndParseEvent(payload []byte, signature string) (*Event, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
}

// OrderMetadata is the typed view of the reconciliation metadata.
type OrderMetadata struct {
	ProductID string
	UserID    string
	Quantity  int64

	// informational only, never read back during reconciliation
	CustomerName  string
	CustomerEmail string
}

func (m OrderMetadata) Map() map[string]string {
	md := map[string]string{
		MetaProductID: m.ProductID,
		MetaUserID:    m.UserID,
		MetaQuantity:  strconv.FormatInt(m.Quantity, 10),
	}
	if m.CustomerName != "" {
		md[MetaCustomerName] = m.CustomerName
	}
	if m.CustomerEmail != "" {
		md[MetaCustomerEmail] = m.CustomerEmail
	}
	return md
}

func ParseOrderMetadata(md map[string]string) (OrderMetadata, error) {
	out := OrderMetadata{
		ProductID:     md[MetaProductID],
		UserID:        md[MetaUserID],
		CustomerName:  md[MetaCustomerName],
		CustomerEmail: md[MetaCustomerEmail],
	}
	raw, ok := md[MetaQuantity]
	if !ok {
		return out, errors.Wrap(domain.ErrInvalidInput, "metadata quantity missing")
	}
	q, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || q <= 0 {
		return out, errors.Wrapf(domain.ErrInvalidInput, "metadata quantity %q", raw)
	}
	out.Quantity = q
	return out, nil
}
