// Package redeem turns a submitted payment authorization into a session. It
// is the only place the replay store, the verifier and the session issuer
// meet, and it fixes the order they run in.
package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/events"
	"github.com/mark3labs/paywall-go/metrics"
	"github.com/mark3labs/paywall-go/replay"
	"github.com/mark3labs/paywall-go/session"
	"github.com/mark3labs/paywall-go/validation"
)

// DefaultUsageTTL is how long a redeemed signature is remembered.
const DefaultUsageTTL = 24 * time.Hour

// minUsageTTL outlives the longest freshness window a verifier accepts, so a
// signature can't be forgotten while it would still verify.
var minUsageTTL = time.Duration(validation.MaxMaxAgeSeconds)*time.Second + 2*time.Minute

// Verifier verifies a signature against a requirement. *verify.Verifier
// implements it.
type Verifier interface {
	Verify(ctx context.Context, signature string, req paywall.PaymentRequirement) (paywall.VerificationResult, error)
}

// Config configures a Service. Verifier, Store and Sessions are required.
type Config struct {
	Verifier Verifier
	Store    replay.Store
	Sessions *session.Issuer

	Metrics metrics.Recorder
	Events  events.Publisher
	Logger  *slog.Logger

	// UsageTTL is how long a redeemed signature is remembered. Values below
	// the maximum verification window are raised to it.
	UsageTTL time.Duration
	Now      func() time.Time
}

// Request is one redemption attempt.
type Request struct {
	Authorization paywall.Authorization

	// Requirement is the server's own requirement for the resource. The
	// client's echoed copy is only used to check it agreed to the same terms.
	Requirement paywall.PaymentRequirement

	ResourceID string

	// ExistingToken, when valid and owned by the payer, is extended instead
	// of issuing a new session.
	ExistingToken string

	// SiteWide issues a session that unlocks every resource.
	SiteWide bool
}

// Result is a successful redemption.
type Result struct {
	Session      session.Token
	Verification paywall.VerificationResult
	Settlement   paywall.Settlement
}

// Service redeems payments. Safe for concurrent use.
type Service struct {
	verifier Verifier
	store    replay.Store
	sessions *session.Issuer
	metrics  metrics.Recorder
	events   events.Publisher
	logger   *slog.Logger
	usageTTL time.Duration
	now      func() time.Time
}

// New validates config and returns a Service.
func New(config Config) (*Service, error) {
	switch {
	case config.Verifier == nil:
		return nil, errors.New("redeem: verifier is required")
	case config.Store == nil:
		return nil, errors.New("redeem: replay store is required")
	case config.Sessions == nil:
		return nil, errors.New("redeem: session issuer is required")
	}

	s := &Service{
		verifier: config.Verifier,
		store:    config.Store,
		sessions: config.Sessions,
		metrics:  config.Metrics,
		events:   config.Events,
		logger:   config.Logger,
		usageTTL: config.UsageTTL,
		now:      config.Now,
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopRecorder{}
	}
	if s.events == nil {
		s.events = events.Noop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.usageTTL == 0 {
		s.usageTTL = DefaultUsageTTL
	}
	s.usageTTL = max(s.usageTTL, minUsageTTL)
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Redeem checks the authorization against the server's requirement, rejects
// replayed signatures, verifies the payment on chain, claims the signature
// and issues or extends a session.
//
// Failures are returned as *paywall.PaymentError.
func (s *Service) Redeem(ctx context.Context, req Request) (Result, error) {
	start := s.now()
	network := req.Requirement.Network
	labels := metrics.Network(network)
	defer func() {
		s.metrics.ObserveLatency(metrics.OpRedeem, s.now().Sub(start), labels)
	}()

	auth := req.Authorization
	sig := auth.Payment.Signature

	if err := checkTerms(auth, req.Requirement); err != nil {
		s.metrics.IncCounter(metrics.PaymentRejected, labels)
		return Result{}, paywall.NewPaymentError(paywall.ErrCodeInvalidRequirement, "payment does not match the requirement", err)
	}
	if err := validation.ValidateSignature(sig); err != nil {
		s.metrics.IncCounter(metrics.PaymentRejected, labels)
		return Result{}, paywall.NewPaymentError(paywall.ErrCodeMalformedHeader, "invalid signature format", fmt.Errorf("%w: %w", paywall.ErrMalformedHeader, err))
	}

	used, err := s.store.HasBeenUsed(ctx, sig)
	if err != nil {
		return Result{}, paywall.NewPaymentError(paywall.ErrCodeNetworkError, "replay store unavailable", err)
	}
	if used {
		return Result{}, s.replayed(sig, req.ResourceID, labels)
	}

	verifyStart := s.now()
	result, err := s.verifier.Verify(ctx, sig, req.Requirement)
	s.metrics.ObserveLatency(metrics.OpVerify, s.now().Sub(verifyStart), labels)
	if err != nil {
		s.logger.Warn("payment verification unavailable", "signature", sig, "network", network, "error", err)
		return Result{}, paywall.NewPaymentError(paywall.ErrCodeNetworkError, "verification temporarily unavailable", err).
			WithDetails("signature", sig)
	}
	if !result.Valid {
		s.metrics.IncCounter(metrics.PaymentRejected, labels)
		s.logger.Info("payment rejected", "signature", sig, "network", network, "reason", result.Error)
		return Result{}, paywall.NewPaymentError(paywall.ErrCodeVerificationFailed, result.Error, paywall.ErrVerificationFailed).
			WithDetails("signature", sig).
			WithDetails("confirmed", result.Confirmed).
			WithDetails("amount", result.Amount)
	}

	now := s.now()
	won, err := s.store.Claim(ctx, paywall.SignatureUsage{
		Signature:     sig,
		ResourceID:    req.ResourceID,
		UsedAt:        now,
		ExpiresAt:     now.Add(s.usageTTL),
		WalletAddress: result.From,
	})
	if err != nil {
		return Result{}, paywall.NewPaymentError(paywall.ErrCodeNetworkError, "replay store unavailable", err)
	}
	if !won {
		return Result{}, s.replayed(sig, req.ResourceID, labels)
	}
	s.metrics.IncCounter(metrics.PaymentVerified, labels)

	tok, err := s.issue(result.From, req)
	if err != nil {
		// The signature stays claimed: the payment was real and is spent.
		s.logger.Error("failed to issue session after payment", "signature", sig, "payer", result.From, "error", err)
		return Result{}, paywall.NewPaymentError(paywall.ErrCodeSessionInvalid, "failed to issue session", err).
			WithDetails("signature", sig)
	}
	s.metrics.IncCounter(metrics.SessionIssued, labels)

	s.publish(ctx, result, req, tok)
	s.logger.Info("payment redeemed",
		"signature", sig,
		"network", network,
		"payer", result.From,
		"amount", result.Amount,
		"resource", req.ResourceID,
		"session_id", tok.Session.ID)

	return Result{
		Session:      tok,
		Verification: result,
		Settlement: paywall.Settlement{
			Success:   true,
			Signature: sig,
			Network:   network,
			Payer:     result.From,
		},
	}, nil
}

func (s *Service) replayed(sig, resourceID string, labels map[string]string) error {
	s.metrics.IncCounter(metrics.SignatureReplayed, labels)
	s.logger.Info("signature replay rejected", "signature", sig, "resource", resourceID)
	return paywall.NewPaymentError(paywall.ErrCodeSignatureUsed, "signature already used", paywall.ErrSignatureUsed).
		WithDetails("signature", sig)
}

// issue extends the caller's session when it belongs to the payer, otherwise
// creates a new one.
func (s *Service) issue(payer string, req Request) (session.Token, error) {
	if req.SiteWide {
		return s.sessions.Create(payer, "", true)
	}
	if req.ExistingToken != "" {
		v := s.sessions.Validate(req.ExistingToken)
		if v.Valid && v.Session.WalletAddress == payer {
			tok, err := s.sessions.AddArticle(req.ExistingToken, req.ResourceID)
			if err == nil {
				return tok, nil
			}
			s.logger.Debug("could not extend session, issuing a new one", "session_id", v.Session.ID, "error", err)
		}
	}
	return s.sessions.Create(payer, req.ResourceID, false)
}

func (s *Service) publish(ctx context.Context, result paywall.VerificationResult, req Request, tok session.Token) {
	err := s.events.PublishPaymentVerified(ctx, events.PaymentVerified{
		Signature:  result.Signature,
		Network:    req.Requirement.Network,
		ResourceID: req.ResourceID,
		Payer:      result.From,
		Recipient:  req.Requirement.PayTo,
		Amount:     result.Amount,
		Mint:       result.Mint,
		VerifiedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to publish payment event", "signature", result.Signature, "error", err)
	}

	err = s.events.PublishSessionIssued(ctx, events.SessionIssued{
		SessionID:  tok.Session.ID,
		Wallet:     tok.Session.WalletAddress,
		ResourceID: req.ResourceID,
		SiteWide:   tok.Session.SiteWide,
		ExpiresAt:  tok.Session.ExpiresAt,
	})
	if err != nil {
		s.logger.Warn("failed to publish session event", "session_id", tok.Session.ID, "error", err)
	}
}

// checkTerms compares the client's accepted requirement with the server's.
func checkTerms(auth paywall.Authorization, want paywall.PaymentRequirement) error {
	if auth.Client.Scheme != "" && auth.Client.Scheme != paywall.SchemeExact {
		return fmt.Errorf("%w: %s", paywall.ErrUnsupportedScheme, auth.Client.Scheme)
	}
	if auth.Client.Network != "" && auth.Client.Network != want.Network {
		return fmt.Errorf("%w: client paid on %s, expected %s", paywall.ErrUnsupportedNetwork, auth.Client.Network, want.Network)
	}
	if !auth.AcceptedRequirement.Matches(want) {
		return fmt.Errorf("%w: accepted requirement differs", paywall.ErrInvalidPayment)
	}
	return nil
}
