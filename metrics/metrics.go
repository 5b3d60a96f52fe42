// Package metrics records payment and session counters.
package metrics

import "time"

// Counter names.
const (
	PaymentVerified   = "payment_verified"
	PaymentRejected   = "payment_rejected"
	SignatureReplayed = "signature_replayed"
	SessionIssued     = "session_issued"
	PaywallChallenged = "paywall_challenged"
	AgentPayment      = "agent_payment"
	AgentPaymentError = "agent_payment_failed"
)

// Latency operation names.
const (
	OpVerify  = "verify"
	OpRedeem  = "redeem"
	OpExecute = "agent_execute"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Network is shorthand for the single label every recorder understands.
func Network(network string) map[string]string {
	return map[string]string{"network": network}
}
