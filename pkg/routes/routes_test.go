package routes

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

// namedViews answers every request with the name of the view that served it.
type namedViews struct{}

func reply(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, name)
	}
}

func (namedViews) Home(w http.ResponseWriter, r *http.Request) { reply("home")(w, r) }
func (namedViews) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	reply("checkout")(w, r)
}
func (namedViews) StripeConfig(w http.ResponseWriter, r *http.Request)  { reply("config")(w, r) }
func (namedViews) Success(w http.ResponseWriter, r *http.Request)       { reply("success")(w, r) }
func (namedViews) Cancel(w http.ResponseWriter, r *http.Request)        { reply("cancel")(w, r) }
func (namedViews) StripeWebhook(w http.ResponseWriter, r *http.Request) { reply("webhook")(w, r) }

func TestTable(t *testing.T) {
	table := Table(namedViews{})

	wantPatterns := []string{"", "create-checkout-session/", "config/", "success/", "cancel/", "webhook/"}
	if len(table) != len(wantPatterns) {
		t.Fatalf("want %d routes, got %d", len(wantPatterns), len(table))
	}
	for i, want := range wantPatterns {
		if table[i].Pattern != want {
			t.Errorf("route %d: want pattern %q, got %q", i, want, table[i].Pattern)
		}
		if table[i].Handler == nil {
			t.Errorf("route %d: nil handler", i)
		}
	}

	if table[0].Name != HomeRouteName {
		t.Errorf("want first route named %q, got %q", HomeRouteName, table[0].Name)
	}
	for _, rt := range table[1:] {
		if rt.Name != "" {
			t.Errorf("want route %q unnamed, got name %q", rt.Pattern, rt.Name)
		}
	}
}

func TestMount_dispatch(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "root", path: "/", wantStatus: http.StatusOK, wantBody: "home"},
		{name: "checkout", path: "/create-checkout-session/", wantStatus: http.StatusOK, wantBody: "checkout"},
		{name: "config", path: "/config/", wantStatus: http.StatusOK, wantBody: "config"},
		{name: "success", path: "/success/", wantStatus: http.StatusOK, wantBody: "success"},
		{name: "cancel", path: "/cancel/", wantStatus: http.StatusOK, wantBody: "cancel"},
		{name: "webhook", path: "/webhook/", wantStatus: http.StatusOK, wantBody: "webhook"},
		{name: "query string ignored", path: "/success/?session_id=cs_1", wantStatus: http.StatusOK, wantBody: "success"},
		{name: "unlisted path", path: "/foo/", wantStatus: http.StatusNotFound},
		{name: "missing trailing slash", path: "/config", wantStatus: http.StatusNotFound},
		{name: "extra segment", path: "/webhook/extra", wantStatus: http.StatusNotFound},
		{name: "prefixed root", prefix: "/subscriptions", path: "/subscriptions/", wantStatus: http.StatusOK, wantBody: "home"},
		{name: "prefixed webhook", prefix: "subscriptions/", path: "/subscriptions/webhook/", wantStatus: http.StatusOK, wantBody: "webhook"},
		{name: "prefixed route outside prefix", prefix: "/subscriptions", path: "/webhook/", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mux.NewRouter()
			Mount(r, tt.prefix, Table(namedViews{}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("want status code %v, got status code %v", tt.wantStatus, rr.Code)
			}
			if tt.wantBody != "" && rr.Body.String() != tt.wantBody {
				t.Errorf("want body %q, got %q", tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestMount_firstMatchWins(t *testing.T) {
	r := mux.NewRouter()
	table := append(Table(namedViews{}), Route{Pattern: ConfigPattern, Handler: reply("shadowed")})
	Mount(r, "", table)

	req := httptest.NewRequest(http.MethodGet, "/config/", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Body.String() != "config" {
		t.Errorf("want first declared route to win, got body %q", rr.Body.String())
	}
}

func TestReverse(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "/"},
		{prefix: "/", want: "/"},
		{prefix: "/subscriptions", want: "/subscriptions/"},
	}

	for _, tt := range tests {
		r := mux.NewRouter()
		Mount(r, tt.prefix, Table(namedViews{}))

		got, err := Reverse(r, HomeRouteName)
		if err != nil {
			t.Fatalf("unexpected error reversing %q: %v", HomeRouteName, err)
		}
		if got != tt.want {
			t.Errorf("prefix %q: want path %q, got %q", tt.prefix, tt.want, got)
		}
	}

	r := mux.NewRouter()
	Mount(r, "", Table(namedViews{}))
	if _, err := Reverse(r, "unknown"); err == nil {
		t.Error("want error for unknown route name")
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		prefix, pattern, want string
	}{
		{"", "", "/"},
		{"", "config/", "/config/"},
		{"/billing", "", "/billing/"},
		{"/billing/", "config/", "/billing/config/"},
		{"billing", "webhook/", "/billing/webhook/"},
	}

	for _, tt := range tests {
		if got := Join(tt.prefix, tt.pattern); got != tt.want {
			t.Errorf("Join(%q, %q): want %q, got %q", tt.prefix, tt.pattern, tt.want, got)
		}
	}
}
