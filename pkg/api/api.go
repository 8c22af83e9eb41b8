package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"subscriptions/pkg/events"
	"subscriptions/pkg/payments"
	"subscriptions/pkg/routes"
	"subscriptions/pkg/storage"
	"subscriptions/pkg/web"
)

const (
	maxWebhookBody = 64 << 10
	staticPattern  = "static/"
	userIDHeader   = "X-User-Id"
	publishTimeout = 10 * time.Second
)

// Config holds the collaborators of the API. Publisher and LogWriter are
// optional.
type Config struct {
	ServiceName string
	// Prefix is the path the route table is mounted under.
	Prefix string
	// BaseURL is the public URL of the mount point, used for checkout
	// redirects. It has no trailing slash.
	BaseURL string

	Provider  payments.Provider
	Storage   storage.Storage
	Renderer  *web.Renderer
	Publisher *events.Publisher
	LogWriter events.Writer
}

type API struct {
	ServiceName string

	r         *mux.Router
	provider  payments.Provider
	db        storage.Storage
	renderer  *web.Renderer
	publisher *events.Publisher
	kw        events.Writer

	prefix  string
	baseURL string
	page    web.PageData
}

func New(cfg Config) (*API, error) {
	switch {
	case cfg.Provider == nil:
		return nil, ErrMissingDependency{Name: "payment provider"}
	case cfg.Storage == nil:
		return nil, ErrMissingDependency{Name: "event storage"}
	case cfg.Renderer == nil:
		return nil, ErrMissingDependency{Name: "renderer"}
	}

	api := API{
		ServiceName: cfg.ServiceName,
		r:           mux.NewRouter(),
		provider:    cfg.Provider,
		db:          cfg.Storage,
		renderer:    cfg.Renderer,
		publisher:   cfg.Publisher,
		kw:          cfg.LogWriter,
		prefix:      cfg.Prefix,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
	}
	if err := api.endpoints(); err != nil {
		return nil, err
	}

	return &api, nil
}

func (api *API) Router() *mux.Router {
	return api.r
}

func (api *API) endpoints() error {
	api.r.Use(api.requestIDMiddleware)
	api.r.Use(api.headerMiddleware)

	if api.kw != nil {
		api.r.Use(api.loggingMiddleware(api.kw))
	}

	routes.Mount(api.r, api.prefix, routes.Table(api))

	staticPrefix := routes.Join(api.prefix, staticPattern)
	api.r.PathPrefix(staticPrefix).Handler(web.StaticHandler(staticPrefix))

	home, err := routes.Reverse(api.r, routes.HomeRouteName)
	if err != nil {
		return err
	}
	api.page = web.PageData{
		HomeURL:     home,
		ConfigURL:   routes.Join(api.prefix, routes.ConfigPattern),
		CheckoutURL: routes.Join(api.prefix, routes.CheckoutPattern),
		StaticURL:   staticPrefix,
	}

	return nil
}

// Home renders the landing page with the subscribe button.
func (api *API) Home(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	api.render(w, r, "Home", web.HomePage, api.page)
}

// CreateCheckoutSession starts a subscription checkout and returns the
// session ID the browser redirects with.
func (api *API) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	sID := shorten(GetRequestID(r.Context()))

	req := payments.CheckoutRequest{
		ClientReferenceID: r.Header.Get(userIDHeader),
		SuccessURL:        api.baseURL + "/" + routes.SuccessPattern + "?session_id=" + payments.CheckoutSessionIDPlaceholder,
		CancelURL:         api.baseURL + "/" + routes.CancelPattern,
	}

	sess, err := api.provider.CreateCheckoutSession(r.Context(), req)
	if err != nil {
		log.Errorf("[CreateCheckoutSession][%s] failed to create checkout session: %v", sID, err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "failed to create checkout session"})
		return
	}

	log.Infof("[CreateCheckoutSession][%s] created checkout session %s", sID, sess.ID)
	writeJSON(w, http.StatusOK, CheckoutResponse{SessionID: sess.ID, URL: sess.URL})
}

// StripeConfig returns the publishable key for Stripe.js.
func (api *API) StripeConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{PublicKey: api.provider.PublishableKey()})
}

// Success renders the post-checkout page. Subscription details are shown
// when the session can be looked up.
func (api *API) Success(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	sID := shorten(GetRequestID(r.Context()))

	data := api.page
	if id := r.URL.Query().Get("session_id"); id != "" {
		sess, err := api.provider.CheckoutSession(r.Context(), id)
		if err != nil {
			log.Warnf("[Success][%s] failed to look up checkout session %s: %v", sID, id, err)
		} else {
			data.Session = sess
		}
	}

	api.render(w, r, "Success", web.SuccessPage, data)
}

// Cancel renders the page shown when checkout is abandoned.
func (api *API) Cancel(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	api.render(w, r, "Cancel", web.CancelPage, api.page)
}

// StripeWebhook verifies, publishes and records a webhook delivery. An event
// ID is recorded only after the event is published, so a delivery that fails
// at any point before that is processed again on retry. Consumers see each
// event at least once, keyed by its ID.
func (api *API) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	sID := shorten(GetRequestID(r.Context()))

	payload, err := readBody(w, r, maxWebhookBody)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			log.Warnf("[StripeWebhook][%s] payload exceeds %d bytes", sID, maxErr.Limit)
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
			return
		}
		log.Warnf("[StripeWebhook][%s] failed to read payload: %v", sID, err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read payload"})
		return
	}

	ev, err := api.provider.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature), errors.Is(err, payments.ErrInvalidPayload):
		log.Warnf("[StripeWebhook][%s] rejected webhook: %v", sID, err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		log.Errorf("[StripeWebhook][%s] failed to parse webhook: %v", sID, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "webhook not processed"})
		return
	}

	if ev.ID == "" {
		log.Warnf("[StripeWebhook][%s] event without ID", sID)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: storage.ErrEmptyEventID.Error()})
		return
	}

	_, err = api.db.Event(r.Context(), ev.ID)
	switch {
	case err == nil:
		log.Infof("[StripeWebhook][%s] event %s already processed", sID, ev.ID)
		writeJSON(w, http.StatusOK, WebhookResponse{Status: WebhookDuplicate})
		return
	case !errors.Is(err, storage.ErrEventNotFound):
		log.Errorf("[StripeWebhook][%s] failed to look up event %s: %v", sID, ev.ID, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "webhook not processed"})
		return
	}

	logEvent(sID, ev)
	received := time.Now()

	if api.publisher != nil {
		ctx, cancel := context.WithTimeout(r.Context(), publishTimeout)
		defer cancel()

		err := api.publisher.Publish(ctx, events.NewBillingEvent(api.ServiceName, ev, received))
		if err != nil {
			log.Errorf("[StripeWebhook][%s] failed to publish event %s: %v", sID, ev.ID, err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "webhook not processed"})
			return
		}
		log.Debugf("[StripeWebhook][%s] event %s published", sID, ev.ID)
	}

	err = api.db.AddEvent(r.Context(), storage.Event{ID: ev.ID, Type: ev.Type, Received: received})
	switch {
	case errors.Is(err, storage.ErrEventExists):
		// A concurrent delivery of the same event finished first.
		log.Infof("[StripeWebhook][%s] event %s recorded by a concurrent delivery", sID, ev.ID)
		writeJSON(w, http.StatusOK, WebhookResponse{Status: WebhookDuplicate})
		return
	case err != nil:
		log.Errorf("[StripeWebhook][%s] failed to record event %s: %v", sID, ev.ID, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "webhook not processed"})
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Status: WebhookOK})
}

func logEvent(sID string, ev payments.Event) {
	switch ev.Type {
	case "checkout.session.completed":
		log.Infof("[StripeWebhook][%s] checkout %s completed for client %q, subscription %s",
			sID, ev.Object.ID, ev.Object.ClientReferenceID, ev.Object.SubscriptionID)
	case "customer.subscription.deleted":
		log.Infof("[StripeWebhook][%s] subscription %s cancelled", sID, ev.Object.ID)
	case "invoice.payment_failed":
		log.Warnf("[StripeWebhook][%s] payment failed for subscription %s", sID, ev.Object.SubscriptionID)
	default:
		log.Debugf("[StripeWebhook][%s] received event %s of type %s", sID, ev.ID, ev.Type)
	}
}

func (api *API) render(w http.ResponseWriter, r *http.Request, handler, page string, data web.PageData) {
	if err := api.renderer.Render(w, http.StatusOK, page, data); err != nil {
		log.Errorf("[%s][%s] %v", handler, shorten(GetRequestID(r.Context())), err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowMethods replies 405 with an Allow header unless r uses one of methods.
func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}

	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	return false
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()

	return io.ReadAll(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("[writeJSON] failed to encode response: %v", err)
	}
}

func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// shorten truncates a string to 6 characters if it is longer than 6, appends '...' at the end,
// otherwise it returns the string unchanged.
func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
