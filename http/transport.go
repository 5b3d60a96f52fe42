package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/agent"
	"github.com/mark3labs/paywall-go/encoding"
)

// Payer pays a requirement on chain. *agent.Executor implements it.
type Payer interface {
	PayRequirement(ctx context.Context, req paywall.PaymentRequirement, opts agent.PaymentRequest) agent.AgentPaymentResult
}

// maxChallengeBody bounds how much of a 402 body is read.
const maxChallengeBody = 64 * 1024

// PaymentTransport is a RoundTripper that answers a 402 by paying the
// requirement and retrying the request with the payment authorization.
type PaymentTransport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Payer sends the payment.
	Payer Payer

	// MaxAmount refuses requirements priced above it. Zero means no limit.
	MaxAmount uint64

	// PaymentOptions are passed to every payment (priority fee, timeout).
	PaymentOptions agent.PaymentRequest

	OnPaymentAttempt paywall.PaymentCallback
	OnPaymentSuccess paywall.PaymentCallback
	OnPaymentFailure paywall.PaymentCallback
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req.Clone(req.Context()))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired || t.Payer == nil {
		return resp, nil
	}

	requirement, err := ParsePaymentRequired(resp)
	resp.Body.Close()
	if err != nil {
		return nil, paywall.NewPaymentError(paywall.ErrCodeInvalidRequirement, "failed to parse payment requirement", err)
	}
	if err := requirement.Validate(); err != nil {
		return nil, paywall.NewPaymentError(paywall.ErrCodeInvalidRequirement, "server sent an invalid payment requirement", err)
	}
	if t.MaxAmount > 0 && requirement.Amount > t.MaxAmount {
		return nil, paywall.NewPaymentError(paywall.ErrCodeAmountExceeded, "payment amount exceeds limit", nil).
			WithDetails("amount", requirement.Amount).
			WithDetails("limit", t.MaxAmount)
	}

	// Rewind the body before paying so a one-shot body never costs the payer.
	retry, err := cloneWithBody(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	event := paywall.PaymentEvent{
		Method:    req.Method,
		URL:       req.URL.String(),
		Network:   requirement.Network,
		Amount:    requirement.Amount,
		Recipient: requirement.PayTo,
	}
	t.emit(t.OnPaymentAttempt, event, paywall.PaymentEventAttempt, start)

	result := t.Payer.PayRequirement(req.Context(), requirement, t.PaymentOptions)
	event.Signature = result.Signature
	if !result.Success {
		err := fmt.Errorf("%w: %s", paywall.ErrInvalidPayment, result.Error)
		event.Error = err
		event.Duration = time.Since(start)
		t.emit(t.OnPaymentFailure, event, paywall.PaymentEventFailure, time.Now())
		return nil, paywall.NewPaymentError(paywall.ErrCodePaymentFailed, result.Error, err).
			WithDetails("signature", result.Signature)
	}

	header, err := encoding.EncodeAuthorization(paywall.Authorization{
		AcceptedRequirement: requirement,
		Client:              paywall.ClientInfo{Scheme: requirement.Scheme, Network: requirement.Network},
		Payment:             paywall.PaymentProof{Signature: result.Signature},
	})
	if err != nil {
		return nil, paywall.NewPaymentError(paywall.ErrCodeSigningFailed, "failed to build payment header", err).
			WithDetails("signature", result.Signature)
	}

	retry.Header.Set(HeaderPayment, header)

	respRetry, err := base.RoundTrip(retry)
	event.Duration = time.Since(start)
	if err != nil {
		event.Error = err
		t.emit(t.OnPaymentFailure, event, paywall.PaymentEventFailure, time.Now())
		return nil, err
	}

	if settlement, err := parseSettlement(respRetry.Header.Get(HeaderPaymentResponse)); err == nil && settlement.Success {
		t.emit(t.OnPaymentSuccess, event, paywall.PaymentEventSuccess, time.Now())
	} else if respRetry.StatusCode >= 400 {
		event.Error = fmt.Errorf("server answered %d after payment", respRetry.StatusCode)
		t.emit(t.OnPaymentFailure, event, paywall.PaymentEventFailure, time.Now())
	}
	return respRetry, nil
}

func (t *PaymentTransport) emit(cb paywall.PaymentCallback, event paywall.PaymentEvent, typ paywall.PaymentEventType, at time.Time) {
	if cb == nil {
		return
	}
	event.Type = typ
	event.Timestamp = at
	cb(event)
}

// ParsePaymentRequired extracts the requirement from a 402 response. The
// PAYMENT-REQUIRED header wins; the JSON body is the fallback.
func ParsePaymentRequired(resp *http.Response) (paywall.PaymentRequirement, error) {
	if h := resp.Header.Get(HeaderPaymentRequired); h != "" {
		return encoding.DecodeRequirement(h)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return paywall.PaymentRequirement{}, fmt.Errorf("failed to read response body: %w", err)
	}
	var challenge PaymentRequiredResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return paywall.PaymentRequirement{}, fmt.Errorf("failed to parse payment requirement JSON: %w", err)
	}
	if challenge.Requirement.Scheme == "" {
		return paywall.PaymentRequirement{}, fmt.Errorf("no payment requirement in response")
	}
	return challenge.Requirement, nil
}

func parseSettlement(headerValue string) (*paywall.Settlement, error) {
	if headerValue == "" {
		return nil, fmt.Errorf("no settlement header")
	}
	settlement, err := encoding.DecodeSettlement(headerValue)
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// cloneWithBody clones req for a second send, rewinding the body.
func cloneWithBody(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed after payment: set GetBody")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// RequestWithBody clones an HTTP request with a new, replayable body.
func RequestWithBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return clone
}
