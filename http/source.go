package http

import (
	"net/http"
	"strings"
)

// HeaderSource is the read side of an incoming request, independent of the
// web framework serving it. Each framework adapter provides one.
type HeaderSource interface {
	// Header returns the first value of the named header, or "".
	Header(name string) string

	// Cookie returns the named cookie's value. Implementations check the
	// framework's parsed cookies first and fall back to the raw Cookie header.
	Cookie(name string) (string, bool)
}

// RequestSource adapts a *http.Request.
type RequestSource struct {
	Request *http.Request
}

func (s RequestSource) Header(name string) string {
	return s.Request.Header.Get(name)
}

func (s RequestSource) Cookie(name string) (string, bool) {
	if c, err := s.Request.Cookie(name); err == nil {
		return c.Value, true
	}
	return CookieFromHeader(s.Request.Header.Get("Cookie"), name)
}

// CookieFromHeader finds a cookie in a raw Cookie header value.
func CookieFromHeader(header, name string) (string, bool) {
	if header == "" {
		return "", false
	}
	cookies, err := http.ParseCookie(header)
	if err == nil {
		for _, c := range cookies {
			if c.Name == name {
				return c.Value, true
			}
		}
		return "", false
	}

	// ParseCookie rejects the whole header when one pair is malformed.
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == name {
			return strings.Trim(v, `"`), true
		}
	}
	return "", false
}

// SessionToken returns the session token carried by src: the named cookie
// first, then an "Authorization: Bearer" header.
func SessionToken(src HeaderSource, cookieName string) string {
	if v, ok := src.Cookie(cookieName); ok && v != "" {
		return v
	}
	auth := src.Header("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
