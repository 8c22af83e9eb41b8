// Package web renders the subscription pages and serves their static assets.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"subscriptions/pkg/payments"
	"subscriptions/pkg/timetags"
)

const (
	HomePage    = "home.html"
	SuccessPage = "success.html"
	CancelPage  = "cancel.html"
)

var pages = []string{HomePage, SuccessPage, CancelPage}

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// PageData is the data every page is rendered with.
type PageData struct {
	HomeURL     string
	ConfigURL   string
	CheckoutURL string
	StaticURL   string
	Session     *payments.CheckoutSession
}

type Renderer struct {
	pages map[string]*template.Template
}

// New parses every page together with the base layout. The filters of lib
// are available to all templates.
func New(lib *timetags.Library) (*Renderer, error) {
	r := Renderer{pages: make(map[string]*template.Template, len(pages))}

	for _, page := range pages {
		tmpl, err := template.New(page).
			Funcs(lib.FuncMap()).
			ParseFS(templateFS, "templates/base.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		r.pages[page] = tmpl
	}

	return &r, nil
}

// Render executes page into a buffer and writes it with status. Nothing is
// written if execution fails.
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data PageData) error {
	tmpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %s", page)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// StaticHandler serves the embedded assets under prefix.
func StaticHandler(prefix string) http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix(prefix, http.FileServer(http.FS(sub)))
}
