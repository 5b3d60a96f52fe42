// Package encoding provides utilities for encoding and decoding paywall wire data.
// Challenges and settlements are base64 JSON; authorizations carry a protocol
// prefix. Every decoder rejects input above MaxEncodedSize before parsing it.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	paywall "github.com/mark3labs/paywall-go"
)

// MaxEncodedSize is the largest encoded value accepted or produced, in bytes.
const MaxEncodedSize = 8 * 1024

// AuthorizationPrefix distinguishes a paywall authorization from other
// credentials sharing the same header.
const AuthorizationPrefix = "x402 "

// EncodeRequirement converts a PaymentRequirement to a base64-encoded JSON string.
// This is the challenge header value of a 402 response.
func EncodeRequirement(req paywall.PaymentRequirement) (string, error) {
	return encode(req, "requirement")
}

// DecodeRequirement converts a base64-encoded JSON string to a PaymentRequirement.
func DecodeRequirement(encoded string) (paywall.PaymentRequirement, error) {
	var req paywall.PaymentRequirement
	if err := decode(encoded, &req, "requirement"); err != nil {
		return paywall.PaymentRequirement{}, err
	}
	return req, nil
}

// EncodeAuthorization produces the prefixed authorization value a client sends
// after paying.
func EncodeAuthorization(auth paywall.Authorization) (string, error) {
	body, err := encode(auth, "authorization")
	if err != nil {
		return "", err
	}
	if len(AuthorizationPrefix)+len(body) > MaxEncodedSize {
		return "", fmt.Errorf("%w: authorization is %d bytes", paywall.ErrPayloadTooLarge, len(AuthorizationPrefix)+len(body))
	}
	return AuthorizationPrefix + body, nil
}

// DecodeAuthorization parses a prefixed authorization value.
func DecodeAuthorization(value string) (paywall.Authorization, error) {
	var auth paywall.Authorization
	if len(value) > MaxEncodedSize {
		return auth, fmt.Errorf("%w: authorization is %d bytes", paywall.ErrPayloadTooLarge, len(value))
	}
	body, ok := strings.CutPrefix(value, AuthorizationPrefix)
	if !ok {
		return auth, fmt.Errorf("%w: missing %q prefix", paywall.ErrMalformedHeader, strings.TrimSpace(AuthorizationPrefix))
	}
	if err := decode(strings.TrimSpace(body), &auth, "authorization"); err != nil {
		return paywall.Authorization{}, err
	}
	if auth.Payment.Signature == "" {
		return paywall.Authorization{}, fmt.Errorf("%w: missing payment signature", paywall.ErrMalformedHeader)
	}
	return auth, nil
}

// EncodeSettlement converts a Settlement to base64-encoded JSON.
func EncodeSettlement(settlement paywall.Settlement) (string, error) {
	return encode(settlement, "settlement")
}

// DecodeSettlement converts base64-encoded JSON to a Settlement.
func DecodeSettlement(encoded string) (paywall.Settlement, error) {
	var settlement paywall.Settlement
	if err := decode(encoded, &settlement, "settlement"); err != nil {
		return paywall.Settlement{}, err
	}
	return settlement, nil
}

func encode(v any, what string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if len(encoded) > MaxEncodedSize {
		return "", fmt.Errorf("%w: %s is %d bytes", paywall.ErrPayloadTooLarge, what, len(encoded))
	}
	return encoded, nil
}

func decode(encoded string, v any, what string) error {
	if len(encoded) > MaxEncodedSize {
		return fmt.Errorf("%w: %s is %d bytes", paywall.ErrPayloadTooLarge, what, len(encoded))
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: failed to decode base64: %w", paywall.ErrMalformedHeader, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s: %w", paywall.ErrMalformedHeader, what, err)
	}
	return nil
}
