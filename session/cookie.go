package session

import (
	"net/http"
	"time"
)

// DefaultCookieName is the cookie that carries the access token.
const DefaultCookieName = "x402_session"

// CookieSettings controls the session cookie.
type CookieSettings struct {
	Name string
	// Production marks the cookie Secure.
	Production bool
	Path       string
	Domain     string
}

func (c CookieSettings) withDefaults() CookieSettings {
	if c.Name == "" {
		c.Name = DefaultCookieName
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c
}

// CookieName returns the configured cookie name.
func (i *Issuer) CookieName() string { return i.cookie.Name }

// Cookie wraps token in an HttpOnly, SameSite=Strict cookie whose MaxAge
// matches the session lifetime.
func (i *Issuer) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     i.cookie.Name,
		Value:    token,
		Path:     i.cookie.Path,
		Domain:   i.cookie.Domain,
		MaxAge:   int(i.duration / time.Second),
		HttpOnly: true,
		Secure:   i.cookie.Production,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearCookie returns a cookie that deletes the session cookie.
func (i *Issuer) ClearCookie() *http.Cookie {
	c := i.Cookie("")
	c.MaxAge = -1
	return c
}
