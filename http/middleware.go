// Package http gates HTTP resources behind a Solana payment. Requests to
// protected paths need a session; a request carrying a payment authorization
// is redeemed in-band and served in the same round trip. Framework adapters
// live in the subpackages and share the Paywall engine defined here.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/encoding"
	"github.com/mark3labs/paywall-go/redeem"
	"github.com/mark3labs/paywall-go/session"
)

// Redeemer turns a payment authorization into a session. *redeem.Service
// implements it.
type Redeemer interface {
	Redeem(ctx context.Context, req redeem.Request) (redeem.Result, error)
}

// Config holds the configuration for the paywall middleware.
type Config struct {
	// Sessions validates and issues session tokens (required).
	Sessions *session.Issuer

	// Redeemer accepts payments in-band. When nil, protected paths only
	// answer with a challenge.
	Redeemer Redeemer

	// Protected lists the path patterns behind the paywall.
	Protected []string

	// Requirement is the price of a protected resource. Resource is filled
	// in per request with the request URL.
	Requirement paywall.RequirementConfig

	// ResourceID maps a path to the identifier recorded in sessions.
	// Defaults to the path itself.
	ResourceID func(path string) string

	// SiteWide makes one payment unlock every protected path.
	SiteWide bool

	Logger *slog.Logger
}

type contextKey string

// SessionContextKey is the context key for the validated session.
const SessionContextKey = contextKey("paywall_session")

// SessionFromContext returns the session stored by the middleware.
func SessionFromContext(ctx context.Context) (*session.SessionData, bool) {
	s, ok := ctx.Value(SessionContextKey).(*session.SessionData)
	return s, ok && s != nil
}

// Paywall is the framework-neutral engine behind every adapter.
type Paywall struct {
	gate        *Gate
	sessions    *session.Issuer
	redeemer    Redeemer
	requirement paywall.PaymentRequirement
	resourceID  func(string) string
	siteWide    bool
	logger      *slog.Logger
}

// New validates config and returns a Paywall. An invalid requirement fails
// here rather than on the first request.
func New(config Config) (*Paywall, error) {
	if config.Sessions == nil {
		return nil, errors.New("paywall: session issuer is required")
	}
	paths, err := NewPathMatcher(config.Protected...)
	if err != nil {
		return nil, err
	}

	template := config.Requirement
	if template.Resource == "" {
		template.Resource = "/"
	}
	req, err := paywall.BuildPaymentRequirement(template)
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resourceID := config.ResourceID
	if resourceID == nil {
		resourceID = func(p string) string { return p }
	}

	return &Paywall{
		gate:        NewGate(config.Sessions, paths, logger),
		sessions:    config.Sessions,
		redeemer:    config.Redeemer,
		requirement: req,
		resourceID:  resourceID,
		siteWide:    config.SiteWide,
		logger:      logger,
	}, nil
}

// Gate returns the access gate.
func (p *Paywall) Gate() *Gate { return p.gate }

// Request is what the engine needs from an incoming request.
type Request struct {
	Context context.Context
	Source  HeaderSource
	Path    string

	// URL is the absolute URL of the resource.
	URL string
}

// RequestFrom builds a Request from a *http.Request and a HeaderSource
// reading it.
func RequestFrom(r *http.Request, src HeaderSource) Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return Request{
		Context: r.Context(),
		Source:  src,
		Path:    r.URL.Path,
		URL:     scheme + "://" + r.Host + r.URL.Path,
	}
}

// Outcome is the engine's answer. When Allowed, the adapter writes Header
// and Cookie and serves the resource; otherwise it writes Status and Body.
type Outcome struct {
	Allowed bool
	Status  int
	Body    any

	Header     http.Header
	Cookie     *http.Cookie
	Session    *session.SessionData
	Settlement *paywall.Settlement
}

// WriteHeaders copies the outcome's headers and cookie to w.
func (o Outcome) WriteHeaders(w http.ResponseWriter) {
	for k, vs := range o.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if o.Cookie != nil {
		http.SetCookie(w, o.Cookie)
	}
}

// Process runs the gate and, when the request carries a payment, redeems it.
func (p *Paywall) Process(req Request) Outcome {
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	resourceID := p.resourceID(req.Path)
	checkID := resourceID
	if p.siteWide {
		checkID = ""
	}

	d := p.gate.Check(req.Source, req.Path, checkID)
	if d.Allowed {
		return Outcome{Allowed: true, Status: http.StatusOK, Session: d.Session}
	}

	requirement := p.requirementFor(req)

	payment := req.Source.Header(HeaderPayment)
	if payment == "" || p.redeemer == nil {
		p.logger.Info("payment required", "path", req.Path, "reason", d.Reason)
		return p.challenge(requirement, d.Reason, "")
	}

	auth, err := encoding.DecodeAuthorization(payment)
	if err != nil {
		p.logger.Warn("invalid payment header", "path", req.Path, "error", err)
		return failure(http.StatusBadRequest, "Invalid payment header", paywall.ErrCodeMalformedHeader)
	}

	result, err := p.redeemer.Redeem(ctx, redeem.Request{
		Authorization: auth,
		Requirement:   requirement,
		ResourceID:    resourceID,
		ExistingToken: SessionToken(req.Source, p.sessions.CookieName()),
		SiteWide:      p.siteWide,
	})
	if err != nil {
		return p.rejected(requirement, req.Path, err)
	}

	header := make(http.Header)
	if err := AddPaymentResponseHeader(header, result.Settlement); err != nil {
		// The payment is redeemed; the session cookie is what matters.
		p.logger.Warn("failed to add payment response header", "error", err)
	}
	settlement := result.Settlement
	sess := result.Session.Session
	return Outcome{
		Allowed:    true,
		Status:     http.StatusOK,
		Header:     header,
		Cookie:     p.sessions.Cookie(result.Session.Token),
		Session:    &sess,
		Settlement: &settlement,
	}
}

func (p *Paywall) requirementFor(req Request) paywall.PaymentRequirement {
	r := p.requirement
	if req.URL != "" {
		r.Resource = req.URL
	} else if req.Path != "" {
		r.Resource = req.Path
	}
	if r.Description == "" {
		r.Description = "Payment required for " + req.Path
	}
	return r
}

func (p *Paywall) rejected(requirement paywall.PaymentRequirement, path string, err error) Outcome {
	var pe *paywall.PaymentError
	if !errors.As(err, &pe) {
		p.logger.Error("payment redemption failed", "path", path, "error", err)
		return failure(http.StatusInternalServerError, "Payment redemption failed", "")
	}

	switch pe.Code {
	case paywall.ErrCodeNetworkError:
		p.logger.Error("payment verification unavailable", "path", path, "error", err)
		return failure(http.StatusServiceUnavailable, "Payment verification failed", pe.Code)
	case paywall.ErrCodeMalformedHeader:
		return failure(http.StatusBadRequest, "Invalid payment header", pe.Code)
	case paywall.ErrCodeSessionInvalid:
		return failure(http.StatusInternalServerError, "Payment accepted but session could not be issued", pe.Code)
	}
	p.logger.Warn("payment rejected", "path", path, "code", pe.Code, "reason", pe.Message)
	return p.challenge(requirement, pe.Message, pe.Code)
}

func (p *Paywall) challenge(requirement paywall.PaymentRequirement, reason string, code paywall.ErrorCode) Outcome {
	body, encoded, err := NewPaymentRequired(requirement, reason, code)
	if err != nil {
		p.logger.Error("failed to encode payment requirement", "error", err)
		return failure(http.StatusInternalServerError, fmt.Sprintf("payment requirement unavailable: %v", err), paywall.ErrCodeInvalidRequirement)
	}
	header := make(http.Header)
	header.Set(HeaderPaymentRequired, encoded)
	return Outcome{Status: http.StatusPaymentRequired, Body: body, Header: header}
}

func failure(status int, msg string, code paywall.ErrorCode) Outcome {
	return Outcome{Status: status, Body: ErrorResponse{Error: msg, Code: code}}
}

// NewPaywallMiddleware creates net/http middleware from config.
func NewPaywallMiddleware(config Config) (func(http.Handler) http.Handler, error) {
	p, err := New(config)
	if err != nil {
		return nil, err
	}
	return p.Middleware, nil
}

// Middleware wraps next with the paywall.
func (p *Paywall) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := p.Process(RequestFrom(r, RequestSource{Request: r}))
		out.WriteHeaders(w)
		if !out.Allowed {
			writeJSON(w, out.Status, out.Body)
			return
		}
		if out.Session != nil {
			r = r.WithContext(context.WithValue(r.Context(), SessionContextKey, out.Session))
		}
		next.ServeHTTP(w, r)
	})
}
