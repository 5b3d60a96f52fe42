// Package chi adapts the paywall to Chi. Chi uses the stdlib handler
// signature, so this is a thin layer over the http package that lets CORS
// preflight requests through.
package chi

import (
	"net/http"

	httppaywall "github.com/mark3labs/paywall-go/http"
)

// NewChiPaywallMiddleware creates Chi middleware from config.
//
// Example usage:
//
//	mw, err := chi.NewChiPaywallMiddleware(config)
//	r := chi.NewRouter()
//	r.Use(mw)
//	r.Get("/articles/{id}", func(w http.ResponseWriter, r *http.Request) {
//	    s, _ := httppaywall.SessionFromContext(r.Context())
//	    w.Write([]byte("unlocked for " + s.WalletAddress))
//	})
func NewChiPaywallMiddleware(config httppaywall.Config) (func(http.Handler) http.Handler, error) {
	p, err := httppaywall.New(config)
	if err != nil {
		return nil, err
	}
	return Middleware(p), nil
}

// Middleware wraps an existing Paywall.
func Middleware(p *httppaywall.Paywall) func(http.Handler) http.Handler {
	gated := p.Middleware
	return func(next http.Handler) http.Handler {
		protected := gated(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}
