// Package pocketbase adapts the paywall to PocketBase routes.
package pocketbase

import (
	"context"

	"github.com/pocketbase/pocketbase/core"

	httppaywall "github.com/mark3labs/paywall-go/http"
)

// SessionKey is the event store key holding the *session.SessionData.
const SessionKey = "paywall_session"

// Source reads headers and cookies from a PocketBase request event.
type Source struct {
	E *core.RequestEvent
}

func (s Source) Header(name string) string {
	return s.E.Request.Header.Get(name)
}

func (s Source) Cookie(name string) (string, bool) {
	if c, err := s.E.Request.Cookie(name); err == nil {
		return c.Value, true
	}
	return httppaywall.CookieFromHeader(s.E.Request.Header.Get("Cookie"), name)
}

// NewPocketBasePaywallMiddleware creates a PocketBase middleware from config.
// Bind it to a route or group with BindFunc.
//
//	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
//	    group := se.Router.Group("/articles")
//	    group.BindFunc(mw)
//	    return se.Next()
//	})
func NewPocketBasePaywallMiddleware(config httppaywall.Config) (func(*core.RequestEvent) error, error) {
	p, err := httppaywall.New(config)
	if err != nil {
		return nil, err
	}
	return Middleware(p), nil
}

// Middleware wraps an existing Paywall.
func Middleware(p *httppaywall.Paywall) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		out := p.Process(httppaywall.RequestFrom(e.Request, Source{E: e}))
		out.WriteHeaders(e.Response)
		if !out.Allowed {
			return e.JSON(out.Status, out.Body)
		}

		if out.Session != nil {
			e.Set(SessionKey, out.Session)
			ctx := context.WithValue(e.Request.Context(), httppaywall.SessionContextKey, out.Session)
			e.Request = e.Request.WithContext(ctx)
		}
		return e.Next()
	}
}
