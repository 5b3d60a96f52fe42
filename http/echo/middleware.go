// Package echo adapts the paywall to Echo.
package echo

import (
	"context"

	"github.com/labstack/echo/v4"

	httppaywall "github.com/mark3labs/paywall-go/http"
)

// SessionKey is the echo.Context key holding the *session.SessionData.
const SessionKey = "paywall_session"

// Source reads headers and cookies from an echo.Context.
type Source struct {
	C echo.Context
}

func (s Source) Header(name string) string {
	return s.C.Request().Header.Get(name)
}

func (s Source) Cookie(name string) (string, bool) {
	if c, err := s.C.Cookie(name); err == nil {
		return c.Value, true
	}
	return httppaywall.CookieFromHeader(s.C.Request().Header.Get("Cookie"), name)
}

// NewEchoPaywallMiddleware creates Echo middleware from config.
func NewEchoPaywallMiddleware(config httppaywall.Config) (echo.MiddlewareFunc, error) {
	p, err := httppaywall.New(config)
	if err != nil {
		return nil, err
	}
	return Middleware(p), nil
}

// Middleware wraps an existing Paywall.
func Middleware(p *httppaywall.Paywall) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			out := p.Process(httppaywall.RequestFrom(c.Request(), Source{C: c}))
			out.WriteHeaders(c.Response())
			if !out.Allowed {
				return c.JSON(out.Status, out.Body)
			}

			if out.Session != nil {
				c.Set(SessionKey, out.Session)
				ctx := context.WithValue(c.Request().Context(), httppaywall.SessionContextKey, out.Session)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}
