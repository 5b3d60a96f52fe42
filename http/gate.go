package http

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/paywall-go/session"
)

// Reasons reported in Decision.Reason.
const (
	ReasonSessionRequired = "session required"
	ReasonNotUnlocked     = "resource not unlocked"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool

	// Status is http.StatusOK when allowed, http.StatusPaymentRequired otherwise.
	Status int

	// Protected is false when the path is not behind the paywall.
	Protected bool

	// Reason explains a denial.
	Reason string

	// Session is the validated session, when there is one.
	Session *session.SessionData
}

// Gate decides whether a request may reach a protected path.
type Gate struct {
	sessions *session.Issuer
	paths    *PathMatcher
	logger   *slog.Logger
}

// NewGate creates a Gate. A nil logger uses slog.Default.
func NewGate(sessions *session.Issuer, paths *PathMatcher, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{sessions: sessions, paths: paths, logger: logger}
}

// Protected reports whether path is behind the paywall.
func (g *Gate) Protected(path string) bool {
	return g.paths.Match(path)
}

// Check evaluates a request for path. Unprotected paths are always allowed.
// Protected paths need a valid session and, when resourceID is not empty, a
// session that unlocks that resource.
func (g *Gate) Check(src HeaderSource, path, resourceID string) Decision {
	if !g.paths.Match(path) {
		return Decision{Allowed: true, Status: http.StatusOK}
	}

	token := SessionToken(src, g.sessions.CookieName())
	if token == "" {
		return deny(ReasonSessionRequired, nil)
	}

	v := g.sessions.Validate(token)
	if !v.Valid {
		g.logger.Debug("rejected session", "path", path, "cause", v.Cause)
		return deny(v.Reason, nil)
	}

	if resourceID != "" && !v.Session.HasArticle(resourceID) {
		return deny(ReasonNotUnlocked, v.Session)
	}

	return Decision{Allowed: true, Status: http.StatusOK, Protected: true, Session: v.Session}
}

func deny(reason string, s *session.SessionData) Decision {
	return Decision{
		Status:    http.StatusPaymentRequired,
		Protected: true,
		Reason:    reason,
		Session:   s,
	}
}
