package paywall

import (
	"errors"
	"fmt"
)

// Standard paywall error definitions

var (
	// ErrPaymentRequired indicates that payment is required to access the resource.
	ErrPaymentRequired = errors.New("paywall: payment required")

	// ErrInvalidRequirement indicates a requirement failed validation at construction time.
	ErrInvalidRequirement = errors.New("paywall: invalid payment requirement")

	// ErrInvalidPayment indicates that the submitted payment could not be accepted.
	ErrInvalidPayment = errors.New("paywall: invalid payment")

	// ErrMalformedHeader indicates that the payment authorization header is malformed.
	ErrMalformedHeader = errors.New("paywall: malformed payment header")

	// ErrPayloadTooLarge indicates an encoded payload exceeded the maximum size.
	ErrPayloadTooLarge = errors.New("paywall: encoded payload too large")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("paywall: unsupported payment scheme")

	// ErrUnsupportedNetwork indicates an unknown network identifier.
	ErrUnsupportedNetwork = errors.New("paywall: unsupported network")

	// ErrUnknownAsset indicates a well-known asset symbol with no mint on the network.
	ErrUnknownAsset = errors.New("paywall: unknown asset")

	// ErrSignatureUsed indicates the transaction signature was already redeemed.
	ErrSignatureUsed = errors.New("paywall: signature already used")

	// ErrRecipientMismatch indicates payment recipient doesn't match requirements.
	ErrRecipientMismatch = errors.New("paywall: recipient mismatch")

	// ErrAmountMismatch indicates payment amount doesn't meet requirements.
	ErrAmountMismatch = errors.New("paywall: amount mismatch")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("paywall: payment verification failed")

	// ErrNetworkError indicates the chain could not be reached.
	ErrNetworkError = errors.New("paywall: network error")

	// ErrTimeout indicates the operation timed out.
	ErrTimeout = errors.New("paywall: operation timed out")
)

// ErrorCode classifies a PaymentError for callers that branch on failure kind.
type ErrorCode string

const (
	ErrCodeInvalidRequirement ErrorCode = "INVALID_REQUIREMENT"
	ErrCodeMalformedHeader    ErrorCode = "MALFORMED_HEADER"
	ErrCodeSignatureUsed      ErrorCode = "SIGNATURE_USED"
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"
	ErrCodeSessionInvalid     ErrorCode = "SESSION_INVALID"
	ErrCodeNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrCodeSigningFailed      ErrorCode = "SIGNING_FAILED"
	ErrCodePaymentFailed      ErrorCode = "PAYMENT_FAILED"
	ErrCodeAmountExceeded     ErrorCode = "AMOUNT_EXCEEDED"
)

// PaymentError is a structured error carrying a code and optional details.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]any
}

// NewPaymentError creates a PaymentError wrapping err (which may be nil).
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]any),
	}
}

// WithDetails attaches a key/value pair and returns the same error for chaining.
func (e *PaymentError) WithDetails(key string, value any) *PaymentError {
	e.Details[key] = value
	return e
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
