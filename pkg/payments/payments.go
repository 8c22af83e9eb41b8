// Package payments wraps the payment provider used for subscription checkout.
package payments

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrNotConfigured    = errors.New("payment provider not configured")
)

// CheckoutSessionIDPlaceholder is substituted by the provider with the
// session ID when redirecting to the success URL.
const CheckoutSessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

type Provider interface {
	PublishableKey() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

type CheckoutRequest struct {
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
}

type CheckoutSession struct {
	ID                string        `json:"id"`
	URL               string        `json:"url,omitempty"`
	ClientReferenceID string        `json:"client_reference_id,omitempty"`
	CustomerID        string        `json:"customer_id,omitempty"`
	PaymentStatus     string        `json:"payment_status,omitempty"`
	Subscription      *Subscription `json:"subscription,omitempty"`
}

type Subscription struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ProductName       string `json:"product_name,omitempty"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// Event is a verified webhook notification.
type Event struct {
	ID       string
	Type     string
	Created  int64
	Livemode bool
	Object   EventObject
}

// EventObject holds the fields of the event's data object that the service
// cares about. Expandable references are reduced to their IDs.
type EventObject struct {
	ID                string `json:"id"`
	Object            string `json:"object"`
	Status            string `json:"status"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerID        string `json:"-"`
	SubscriptionID    string `json:"-"`
}

// UnmarshalJSON decodes a provider data object, accepting customer and
// subscription either as IDs or as expanded objects.
func (o *EventObject) UnmarshalJSON(b []byte) error {
	type plain EventObject
	var raw struct {
		plain
		Customer     json.RawMessage `json:"customer"`
		Subscription json.RawMessage `json:"subscription"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*o = EventObject(raw.plain)
	o.CustomerID = refID(raw.Customer)
	o.SubscriptionID = refID(raw.Subscription)
	if o.Object == "subscription" && o.SubscriptionID == "" {
		o.SubscriptionID = o.ID
	}
	if o.Object == "customer" && o.CustomerID == "" {
		o.CustomerID = o.ID
	}

	return nil
}

func refID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
