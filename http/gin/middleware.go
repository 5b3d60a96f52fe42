// Package gin adapts the paywall to Gin. It translates gin.Context into the
// framework-neutral request the http package evaluates.
package gin

import (
	"context"

	"github.com/gin-gonic/gin"

	httppaywall "github.com/mark3labs/paywall-go/http"
)

// SessionKey is the gin.Context key holding the *session.SessionData.
const SessionKey = "paywall_session"

// Source reads headers and cookies from a gin.Context.
type Source struct {
	C *gin.Context
}

func (s Source) Header(name string) string {
	return s.C.GetHeader(name)
}

func (s Source) Cookie(name string) (string, bool) {
	if v, err := s.C.Cookie(name); err == nil {
		return v, true
	}
	return httppaywall.CookieFromHeader(s.C.GetHeader("Cookie"), name)
}

// NewGinPaywallMiddleware creates Gin middleware from config.
//
// Example usage:
//
//	mw, err := gin.NewGinPaywallMiddleware(httppaywall.Config{
//	    Sessions:  issuer,
//	    Redeemer:  redeemer,
//	    Protected: []string{"/articles/*"},
//	    Requirement: paywall.RequirementConfig{
//	        Network: paywall.NetworkDevnet,
//	        PayTo:   "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
//	        Amount:  10_000_000,
//	    },
//	})
//	r := gin.Default()
//	r.Use(mw)
func NewGinPaywallMiddleware(config httppaywall.Config) (gin.HandlerFunc, error) {
	p, err := httppaywall.New(config)
	if err != nil {
		return nil, err
	}
	return Middleware(p), nil
}

// Middleware wraps an existing Paywall.
func Middleware(p *httppaywall.Paywall) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := p.Process(httppaywall.RequestFrom(c.Request, Source{C: c}))
		out.WriteHeaders(c.Writer)
		if !out.Allowed {
			c.AbortWithStatusJSON(out.Status, out.Body)
			return
		}

		if out.Session != nil {
			c.Set(SessionKey, out.Session)
			ctx := context.WithValue(c.Request.Context(), httppaywall.SessionContextKey, out.Session)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
