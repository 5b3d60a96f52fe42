package http

import (
	"encoding/json"
	"net/http"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/encoding"
)

// Header names used on the wire.
const (
	// HeaderPaymentRequired carries the encoded requirement on a 402.
	HeaderPaymentRequired = "PAYMENT-REQUIRED"

	// HeaderPayment carries the client's payment authorization.
	HeaderPayment = "X-PAYMENT"

	// HeaderPaymentResponse carries the encoded settlement once a payment
	// has been redeemed.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// PaymentRequiredResponse is the JSON body of a 402 response.
type PaymentRequiredResponse struct {
	Error       string                     `json:"error"`
	Reason      string                     `json:"reason,omitempty"`
	Code        paywall.ErrorCode          `json:"code,omitempty"`
	Requirement paywall.PaymentRequirement `json:"requirement"`
}

// ErrorResponse is the JSON body of a non-402 failure.
type ErrorResponse struct {
	Error string            `json:"error"`
	Code  paywall.ErrorCode `json:"code,omitempty"`
}

// NewPaymentRequired builds the body and header value of a 402 challenge.
func NewPaymentRequired(req paywall.PaymentRequirement, reason string, code paywall.ErrorCode) (PaymentRequiredResponse, string, error) {
	encoded, err := encoding.EncodeRequirement(req)
	if err != nil {
		return PaymentRequiredResponse{}, "", err
	}
	return PaymentRequiredResponse{
		Error:       "Payment required for this resource",
		Reason:      reason,
		Code:        code,
		Requirement: req,
	}, encoded, nil
}

// SendPaymentRequired writes a 402 with the requirement both in the
// PAYMENT-REQUIRED header and as the JSON body.
func SendPaymentRequired(w http.ResponseWriter, req paywall.PaymentRequirement, reason string) error {
	body, header, err := NewPaymentRequired(req, reason, "")
	if err != nil {
		return err
	}
	w.Header().Set(HeaderPaymentRequired, header)
	writeJSON(w, http.StatusPaymentRequired, body)
	return nil
}

// AddPaymentResponseHeader adds the X-PAYMENT-RESPONSE header with the
// encoded settlement.
func AddPaymentResponseHeader(h http.Header, settlement paywall.Settlement) error {
	encoded, err := encoding.EncodeSettlement(settlement)
	if err != nil {
		return err
	}
	h.Set(HeaderPaymentResponse, encoded)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; a failed encode leaves a truncated body.
	_ = json.NewEncoder(w).Encode(body)
}
