// Package mcp defines how paywall payments travel over the Model Context
// Protocol. Payments, sessions and settlements ride in the _meta object of
// tools/call requests and results.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/encoding"
)

// Metadata keys.
const (
	// MetaKeyPayment carries the payment authorization in request params._meta,
	// either as the "x402 "-prefixed header value or as a JSON object.
	MetaKeyPayment = "x402/payment"

	// MetaKeySession carries a session token in request or result _meta.
	MetaKeySession = "x402/session"

	// MetaKeyPaymentResponse carries the settlement in result._meta.
	MetaKeyPaymentResponse = "x402/payment-response"

	// MetaKeyPaymentRequired carries the encoded requirement in result._meta
	// when a tool call is refused for lack of payment.
	MetaKeyPaymentRequired = "x402/payment-required"
)

// ResourcePrefix is the resource URI prefix for paywalled tools.
const ResourcePrefix = "mcp://tools/"

// ErrInvalidPayment is returned when the payment metadata cannot be decoded.
var ErrInvalidPayment = errors.New("invalid payment metadata")

// ToolResource returns the resource URI for a tool.
func ToolResource(name string) string {
	return ResourcePrefix + name
}

// PaymentFromMeta extracts the payment authorization from request metadata.
// ok is false when no payment is present.
func PaymentFromMeta(meta map[string]any) (auth paywall.Authorization, ok bool, err error) {
	raw, found := meta[MetaKeyPayment]
	if !found || raw == nil {
		return paywall.Authorization{}, false, nil
	}

	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return paywall.Authorization{}, false, nil
		}
		auth, err = encoding.DecodeAuthorization(v)
		if err != nil {
			return paywall.Authorization{}, true, fmt.Errorf("%w: %w", ErrInvalidPayment, err)
		}
		return auth, true, nil
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return paywall.Authorization{}, true, fmt.Errorf("%w: %w", ErrInvalidPayment, err)
		}
		if err := json.Unmarshal(data, &auth); err != nil {
			return paywall.Authorization{}, true, fmt.Errorf("%w: %w", ErrInvalidPayment, err)
		}
		if auth.Payment.Signature == "" {
			return paywall.Authorization{}, true, fmt.Errorf("%w: missing signature", ErrInvalidPayment)
		}
		return auth, true, nil
	default:
		return paywall.Authorization{}, true, fmt.Errorf("%w: unexpected type %T", ErrInvalidPayment, raw)
	}
}

// AttachPayment returns a copy of meta carrying auth.
func AttachPayment(meta map[string]any, auth paywall.Authorization) (map[string]any, error) {
	encoded, err := encoding.EncodeAuthorization(auth)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[MetaKeyPayment] = encoded
	return out, nil
}
