// Package routes declares the subscription service URL table.
package routes

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// Route patterns relative to the mount prefix.
const (
	HomePattern     = ""
	CheckoutPattern = "create-checkout-session/"
	ConfigPattern   = "config/"
	SuccessPattern  = "success/"
	CancelPattern   = "cancel/"
	WebhookPattern  = "webhook/"
)

const HomeRouteName = "subscriptions-home"

// Views are the handlers the table dispatches to.
type Views interface {
	Home(w http.ResponseWriter, r *http.Request)
	CreateCheckoutSession(w http.ResponseWriter, r *http.Request)
	StripeConfig(w http.ResponseWriter, r *http.Request)
	Success(w http.ResponseWriter, r *http.Request)
	Cancel(w http.ResponseWriter, r *http.Request)
	StripeWebhook(w http.ResponseWriter, r *http.Request)
}

// Route binds a path pattern to a handler. Name is empty for routes that are
// not reverse-resolvable.
type Route struct {
	Pattern string
	Handler http.HandlerFunc
	Name    string
}

// Table returns the routes in dispatch order.
func Table(v Views) []Route {
	return []Route{
		{Pattern: HomePattern, Handler: v.Home, Name: HomeRouteName},
		{Pattern: CheckoutPattern, Handler: v.CreateCheckoutSession},
		{Pattern: ConfigPattern, Handler: v.StripeConfig},
		{Pattern: SuccessPattern, Handler: v.Success},
		{Pattern: CancelPattern, Handler: v.Cancel},
		{Pattern: WebhookPattern, Handler: v.StripeWebhook},
	}
}

// Mount registers table on r under prefix, preserving order. Every entry
// matches its full path exactly, trailing slash included.
func Mount(r *mux.Router, prefix string, table []Route) {
	for _, rt := range table {
		route := r.Handle(Join(prefix, rt.Pattern), rt.Handler)
		if rt.Name != "" {
			route.Name(rt.Name)
		}
	}
}

// Join returns the absolute path of pattern mounted under prefix.
// Join("", "") is "/" and Join("/billing/", "config/") is "/billing/config/".
func Join(prefix, pattern string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "/" + pattern
	}
	return "/" + prefix + "/" + pattern
}

// Reverse resolves a named route to its path. pairs are mux route variables
// as key/value pairs.
func Reverse(r *mux.Router, name string, pairs ...string) (string, error) {
	route := r.Get(name)
	if route == nil {
		return "", fmt.Errorf("route %q not found", name)
	}

	u, err := route.URLPath(pairs...)
	if err != nil {
		return "", fmt.Errorf("route %q: %w", name, err)
	}
	return u.Path, nil
}
