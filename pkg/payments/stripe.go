package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const defaultTimeout = 10 * time.Second

type StripeConfig struct {
	PublishableKey string
	SecretKey      string
	WebhookSecret  string
	PriceID        string
	// APIURL overrides the Stripe API base URL, e.g. for stripe-mock.
	APIURL string
}

// Stripe is a Provider backed by the Stripe API. Checkout sessions are
// created in subscription mode for a single configured price.
type Stripe struct {
	conf StripeConfig
	sc   *client.API
}

// NewStripe creates a Stripe provider. A nil httpClient gets a client with a
// 10 second timeout. Network retries are disabled: the callers are HTTP
// handlers and the webhook side is retried by Stripe itself.
func NewStripe(conf StripeConfig, httpClient *http.Client) *Stripe {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	backendConfig := func() *stripe.BackendConfig {
		c := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			LeveledLogger:     log.StandardLogger(),
			MaxNetworkRetries: stripe.Int64(0),
		}
		if conf.APIURL != "" {
			c.URL = stripe.String(conf.APIURL)
		}
		return c
	}

	sc := &client.API{}
	sc.Init(conf.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig()),
	})

	return &Stripe{conf: conf, sc: sc}
}

func (s *Stripe) PublishableKey() string {
	return s.conf.PublishableKey
}

// CreateCheckoutSession starts a subscription checkout for the configured
// price.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if s.conf.SecretKey == "" || s.conf.PriceID == "" {
		return nil, ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.conf.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	params.Context = ctx

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return checkoutSession(sess), nil
}

// CheckoutSession fetches a session with its subscription. The product name
// is looked up separately; failing that lookup is logged and not fatal.
func (s *Stripe) CheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if s.conf.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	sess, err := s.sc.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}

	out := checkoutSession(sess)
	if prodID := productID(sess.Subscription); prodID != "" {
		prodParams := &stripe.ProductParams{}
		prodParams.Context = ctx

		prod, err := s.sc.Products.Get(prodID, prodParams)
		if err != nil {
			log.Warnf("[payments] failed to retrieve product %s for session %s: %v", prodID, id, err)
		} else {
			out.Subscription.ProductName = prod.Name
		}
	}

	return out, nil
}

// ParseWebhook verifies the Stripe-Signature header against the webhook
// secret and decodes the event. Events from other API versions are accepted.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (Event, error) {
	if s.conf.WebhookSecret == "" {
		return Event{}, ErrNotConfigured
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.conf.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	out := Event{
		ID:       ev.ID,
		Type:     string(ev.Type),
		Created:  ev.Created,
		Livemode: ev.Livemode,
	}
	if ev.Data != nil && len(ev.Data.Raw) > 0 {
		if err := json.Unmarshal(ev.Data.Raw, &out.Object); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	return out, nil
}

func checkoutSession(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:                sess.ID,
		URL:               sess.URL,
		ClientReferenceID: sess.ClientReferenceID,
		PaymentStatus:     string(sess.PaymentStatus),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sub := sess.Subscription; sub != nil {
		out.Subscription = &Subscription{
			ID:                sub.ID,
			Status:            string(sub.Status),
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}
	}

	return out
}

func productID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item.Price != nil && item.Price.Product != nil {
			return item.Price.Product.ID
		}
	}
	return ""
}
