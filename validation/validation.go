// Package validation holds the format checks applied to untrusted input before
// any network call is made.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	// addressRegex matches Solana base58 addresses (32-44 chars, base58 charset)
	addressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

	// signatureRegex matches base58 encoded ed25519 transaction signatures
	signatureRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{64,90}$`)
)

// Bounds applied to the age window of an accepted transaction.
const (
	MinMaxAgeSeconds = 60
	MaxMaxAgeSeconds = 3600
)

// ValidateAddress validates a wallet, mint or token account address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !addressRegex.MatchString(address) {
		return fmt.Errorf("invalid address format: %s (expected base58 string 32-44 chars)", address)
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid address: %s: %w", address, err)
	}
	return nil
}

// ValidateSignature checks that signature decodes to a 64-byte ed25519
// signature.
func ValidateSignature(signature string) error {
	if signature == "" {
		return fmt.Errorf("signature cannot be empty")
	}
	if !signatureRegex.MatchString(signature) {
		return fmt.Errorf("invalid signature format (expected base58 string 64-90 chars)")
	}
	if _, err := solana.SignatureFromBase58(signature); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	return nil
}

// ValidateAmount validates that an amount in base units is greater than zero.
func ValidateAmount(amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("amount must be greater than 0")
	}
	return nil
}

// ValidateResource accepts absolute http(s) URLs, rooted paths and mcp:// URIs.
func ValidateResource(resource string) error {
	if resource == "" {
		return fmt.Errorf("resource cannot be empty")
	}
	if strings.HasPrefix(resource, "/") {
		if strings.ContainsAny(resource, " \t\r\n") {
			return fmt.Errorf("invalid resource path: %q", resource)
		}
		return nil
	}
	u, err := url.Parse(resource)
	if err != nil {
		return fmt.Errorf("invalid resource URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("invalid resource URL: missing host")
		}
	case "mcp":
	default:
		return fmt.Errorf("invalid resource URL scheme: %q", u.Scheme)
	}
	return nil
}

// ValidateTimeout checks a caller-supplied timeout against the age bounds.
func ValidateTimeout(seconds int) error {
	if seconds < MinMaxAgeSeconds || seconds > MaxMaxAgeSeconds {
		return fmt.Errorf("timeout must be between %d and %d seconds, got: %d",
			MinMaxAgeSeconds, MaxMaxAgeSeconds, seconds)
	}
	return nil
}

// ClampMaxAge forces a caller-supplied age window into the allowed bounds.
func ClampMaxAge(seconds int) int {
	switch {
	case seconds < MinMaxAgeSeconds:
		return MinMaxAgeSeconds
	case seconds > MaxMaxAgeSeconds:
		return MaxMaxAgeSeconds
	default:
		return seconds
	}
}
